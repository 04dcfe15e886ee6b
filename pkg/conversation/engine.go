package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/coverdesk/coverdesk/internal/telemetry"
	"github.com/coverdesk/coverdesk/pkg/ai"
	"github.com/coverdesk/coverdesk/pkg/credential"
	"github.com/coverdesk/coverdesk/pkg/lead"
)

// escalationChannel is the redis pub/sub channel agent dashboards subscribe
// to for live handoff notifications.
const escalationChannel = "coverdesk:escalations"

// handoffNotice is sent to the customer exactly once, when the conversation
// moves to a human agent.
const handoffNotice = "Thanks for your patience — I'm connecting you to one of our agents who will take it from here."

// providerApology replaces any completion-provider failure. The raw error
// never reaches the customer.
const providerApology = "Sorry, I'm having trouble answering right now. Let me connect you to one of our agents."

// customerEscalationTerms trigger a handoff when they appear in a customer
// message, before any AI reply is attempted.
var customerEscalationTerms = []string{
	"complaint", "complain", "refund", "lawyer", "legal", "sue ",
	"billing issue", "wrong charge", "overcharged",
	"speak to a human", "talk to a human", "human agent", "real person",
	"speak to an agent", "talk to an agent", "representative", "manager",
}

// assistantUncertaintyTerms trigger a handoff when the AI's own reply admits
// it cannot help.
var assistantUncertaintyTerms = []string{
	"i'm not sure", "i am not sure", "i don't know", "i do not know",
	"i cannot help", "i can't help", "unable to assist", "unable to help",
	"contact support", "don't have that information",
}

// minConfidence is the confidence floor below which an AI reply forces
// escalation even without uncertainty wording.
const minConfidence = 0.5

// Escalation reasons recorded on the conversation and in metrics.
const (
	ReasonCustomerRequest = "customer_request"
	ReasonUncertainReply  = "uncertain_reply"
	ReasonLowConfidence   = "low_confidence"
	ReasonProviderError   = "provider_error"
	ReasonAgentReply      = "agent_reply"
	ReasonManual          = "manual"
)

type engineStore interface {
	FindOpen(ctx context.Context, tenantID uuid.UUID, platform, externalID string) (*Conversation, error)
	Create(ctx context.Context, tenantID uuid.UUID, platform, externalID string) (*Conversation, error)
	Get(ctx context.Context, id uuid.UUID) (*Conversation, error)
	SetStatus(ctx context.Context, id uuid.UUID, status, reason string) (*Conversation, error)
	LinkLead(ctx context.Context, convID, leadID uuid.UUID) error
	AppendMessage(ctx context.Context, m Message) (*Message, error)
	RecentMessages(ctx context.Context, convID uuid.UUID, limit int) ([]Message, error)
}

type leadEnsurer interface {
	Ensure(ctx context.Context, info lead.Info, source string, force bool) (*lead.Lead, error)
}

type settingsResolver interface {
	AccessToken(ctx context.Context, tenantID uuid.UUID, provider string) (string, error)
	Setting(ctx context.Context, tenantID uuid.UUID, category, key string) (string, error)
}

// Engine drives the conversation state machine.
type Engine struct {
	store    engineStore
	leads    leadEnsurer
	resolver settingsResolver
	provider ai.Provider
	senders  map[string]Sender
	redis    *redis.Client
	logger   *slog.Logger
}

func NewEngine(store *Store, leads *lead.Store, resolver *credential.Resolver, provider ai.Provider, senders map[string]Sender, rdb *redis.Client, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		leads:    leads,
		resolver: resolver,
		provider: provider,
		senders:  senders,
		redis:    rdb,
		logger:   logger,
	}
}

// IngestInbound processes one customer message end to end: thread lookup or
// creation, lead extraction, transcript append, and (for active threads) an
// assistant reply or escalation.
func (e *Engine) IngestInbound(ctx context.Context, in Inbound) (*Outcome, error) {
	telemetry.MessagesProcessedTotal.WithLabelValues(in.Platform).Inc()

	conv, err := e.store.FindOpen(ctx, in.TenantID, in.Platform, in.ExternalID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		if conv, err = e.store.Create(ctx, in.TenantID, in.Platform, in.ExternalID); err != nil {
			return nil, err
		}
	}

	conv = e.ensureLead(ctx, conv, in)

	if _, err := e.store.AppendMessage(ctx, Message{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		Sender:         SenderCustomer,
		Content:        in.Text,
		ExternalID:     in.MessageID,
	}); err != nil {
		return nil, err
	}

	out := &Outcome{Conversation: conv, LeadID: conv.LeadID, NeedsUserInfo: conv.LeadID == nil}

	// Escalated threads belong to a human. No per-message acknowledgment;
	// the customer already received the handoff notice once.
	if conv.Escalated() {
		out.Escalated = true
		return out, nil
	}

	return e.generateReply(ctx, conv, in, out)
}

// ensureLead extracts contact details from the inbound message and links the
// resulting lead. Failures are logged, never fatal to ingestion.
func (e *Engine) ensureLead(ctx context.Context, conv *Conversation, in Inbound) *Conversation {
	info := lead.Extract(in.Text)
	if info.Name == "" && in.Name != "" {
		info.Name = in.Name
	}
	if conv.Platform == PlatformWhatsApp && info.Phone == "" {
		info.Phone = lead.NormalizePhone(in.ExternalID)
	}

	l, err := e.leads.Ensure(ctx, info, conv.Platform, false)
	if err != nil {
		e.logger.Warn("ensuring lead", "error", err, "conversation_id", conv.ID)
		return conv
	}
	if l == nil {
		return conv
	}
	if conv.LeadID == nil {
		if err := e.store.LinkLead(ctx, conv.ID, l.ID); err != nil {
			e.logger.Warn("linking lead", "error", err, "conversation_id", conv.ID)
			return conv
		}
		conv.LeadID = &l.ID
	}
	return conv
}

func (e *Engine) generateReply(ctx context.Context, conv *Conversation, in Inbound, out *Outcome) (*Outcome, error) {
	if matchesAny(in.Text, customerEscalationTerms) {
		notice, err := e.Escalate(ctx, conv, ReasonCustomerRequest)
		if err != nil {
			return nil, err
		}
		out.Escalated = true
		out.ReplyText = notice
		return out, nil
	}

	reply, err := e.complete(ctx, conv)
	if err != nil {
		if !errors.Is(err, ai.ErrProviderUnavailable) {
			return nil, err
		}
		e.logger.Warn("completion provider failed", "error", err, "conversation_id", conv.ID)
		if _, err := e.store.AppendMessage(ctx, Message{
			TenantID:       conv.TenantID,
			ConversationID: conv.ID,
			Sender:         SenderAssistant,
			Content:        providerApology,
		}); err != nil {
			return nil, err
		}
		e.deliver(ctx, conv, providerApology)
		if _, err := e.Escalate(ctx, conv, ReasonProviderError); err != nil {
			return nil, err
		}
		out.Escalated = true
		out.ReplyText = providerApology
		return out, nil
	}

	if _, err := e.store.AppendMessage(ctx, Message{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		Sender:         SenderAssistant,
		Content:        reply.Text,
		Confidence:     &reply.Confidence,
	}); err != nil {
		return nil, err
	}
	e.deliver(ctx, conv, reply.Text)

	out.ReplyText = reply.Text
	out.Confidence = reply.Confidence

	switch {
	case matchesAny(reply.Text, assistantUncertaintyTerms):
		if _, err := e.Escalate(ctx, conv, ReasonUncertainReply); err != nil {
			return nil, err
		}
		out.Escalated = true
	case reply.Confidence < minConfidence:
		if _, err := e.Escalate(ctx, conv, ReasonLowConfidence); err != nil {
			return nil, err
		}
		out.Escalated = true
	}
	return out, nil
}

// complete builds the prompt from the recent transcript plus the tenant's
// knowledge base and asks the provider for a reply.
func (e *Engine) complete(ctx context.Context, conv *Conversation) (ai.Reply, error) {
	apiKey, err := e.resolver.AccessToken(ctx, conv.TenantID, credential.ProviderOpenAI)
	if err != nil {
		if errors.Is(err, credential.ErrNotConfigured) {
			return ai.Reply{}, fmt.Errorf("%w: no API key configured", ai.ErrProviderUnavailable)
		}
		return ai.Reply{}, err
	}

	history, err := e.store.RecentMessages(ctx, conv.ID, contextWindow)
	if err != nil {
		return ai.Reply{}, err
	}

	req := ai.CompletionRequest{System: e.systemPrompt(ctx, conv.TenantID)}
	for _, m := range history {
		turn := ai.Turn{Content: m.Content}
		switch m.Sender {
		case SenderCustomer:
			turn.Role = ai.RoleUser
		case SenderAssistant, SenderAgent:
			turn.Role = ai.RoleAssistant
		default:
			continue
		}
		req.Turns = append(req.Turns, turn)
	}

	return e.provider.Complete(ctx, apiKey, req)
}

func (e *Engine) systemPrompt(ctx context.Context, tenantID uuid.UUID) string {
	var b strings.Builder
	b.WriteString("You are a helpful insurance assistant. Answer questions about the agency's products and policies concisely and accurately. ")
	b.WriteString("If you cannot answer from the information you have, say so plainly.")
	if kb, err := e.resolver.Setting(ctx, tenantID, "ai", "knowledge_base"); err == nil && kb != "" {
		b.WriteString("\n\nAgency knowledge base:\n")
		b.WriteString(kb)
	}
	return b.String()
}

// Escalate hands the conversation to a human agent. The handoff notice is
// sent exactly once: escalating an already-escalated conversation is a no-op.
func (e *Engine) Escalate(ctx context.Context, conv *Conversation, reason string) (string, error) {
	if conv.Escalated() {
		return "", nil
	}

	updated, err := e.store.SetStatus(ctx, conv.ID, StatusEscalated, reason)
	if err != nil {
		return "", err
	}
	*conv = *updated

	if _, err := e.store.AppendMessage(ctx, Message{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		Sender:         SenderSystem,
		Content:        handoffNotice,
	}); err != nil {
		return "", err
	}
	e.deliver(ctx, conv, handoffNotice)

	// A handoff without contact details is useless to the agent; make sure
	// some lead exists even if the customer never shared anything.
	if conv.LeadID == nil {
		info := lead.Info{}
		if conv.Platform == PlatformWhatsApp {
			info.Phone = lead.NormalizePhone(conv.ExternalID)
		}
		if l, err := e.leads.Ensure(ctx, info, conv.Platform, true); err != nil {
			e.logger.Warn("ensuring lead on escalation", "error", err, "conversation_id", conv.ID)
		} else if l != nil {
			if err := e.store.LinkLead(ctx, conv.ID, l.ID); err == nil {
				conv.LeadID = &l.ID
			}
		}
	}

	e.publishEscalation(ctx, conv, reason)
	telemetry.ConversationsEscalatedTotal.WithLabelValues(reason).Inc()
	e.logger.Info("conversation escalated",
		"conversation_id", conv.ID, "tenant_id", conv.TenantID, "reason", reason)

	return handoffNotice, nil
}

// SendAsAgent records a human reply. An agent touching a conversation always
// forces it to escalated, regardless of its prior state.
func (e *Engine) SendAsAgent(ctx context.Context, convID uuid.UUID, text string, agentID uuid.UUID) (*Message, error) {
	conv, err := e.store.Get(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.Escalated() {
		if conv, err = e.store.SetStatus(ctx, convID, StatusEscalated, ReasonAgentReply); err != nil {
			return nil, err
		}
		telemetry.ConversationsEscalatedTotal.WithLabelValues(ReasonAgentReply).Inc()
	}

	m, err := e.store.AppendMessage(ctx, Message{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		Sender:         SenderAgent,
		Content:        text,
		AgentID:        &agentID,
	})
	if err != nil {
		return nil, err
	}
	e.deliver(ctx, conv, text)
	return m, nil
}

// DeEscalate returns an escalated conversation to the assistant.
func (e *Engine) DeEscalate(ctx context.Context, convID uuid.UUID) (*Conversation, error) {
	conv, err := e.store.Get(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.Escalated() {
		return conv, nil
	}
	return e.store.SetStatus(ctx, convID, StatusActive, "")
}

// deliver pushes outbound text through the conversation's platform sender.
// Platforms without a registered sender (the widget answers synchronously)
// are skipped; delivery failures are logged, not propagated.
func (e *Engine) deliver(ctx context.Context, conv *Conversation, text string) {
	sender, ok := e.senders[conv.Platform]
	if !ok || sender == nil {
		return
	}
	if _, err := sender.SendText(ctx, conv.TenantID, conv.ExternalID, text); err != nil {
		e.logger.Error("sending outbound message",
			"error", err, "conversation_id", conv.ID, "platform", conv.Platform)
	}
}

func (e *Engine) publishEscalation(ctx context.Context, conv *Conversation, reason string) {
	if e.redis == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"conversation_id": conv.ID,
		"tenant_id":       conv.TenantID,
		"platform":        conv.Platform,
		"reason":          reason,
	})
	if err := e.redis.Publish(ctx, escalationChannel, payload).Err(); err != nil {
		e.logger.Warn("publishing escalation event", "error", err, "conversation_id", conv.ID)
	}
}

func matchesAny(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
