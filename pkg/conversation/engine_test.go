package conversation

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverdesk/coverdesk/pkg/ai"
	"github.com/coverdesk/coverdesk/pkg/lead"
)

type fakeConvStore struct {
	convs    map[uuid.UUID]*Conversation
	messages []Message
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{convs: map[uuid.UUID]*Conversation{}}
}

func (f *fakeConvStore) FindOpen(_ context.Context, tenantID uuid.UUID, platform, externalID string) (*Conversation, error) {
	for _, c := range f.convs {
		if c.TenantID == tenantID && c.Platform == platform && c.ExternalID == externalID && c.Status != StatusClosed {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeConvStore) Create(_ context.Context, tenantID uuid.UUID, platform, externalID string) (*Conversation, error) {
	c := &Conversation{
		ID: uuid.New(), TenantID: tenantID, Platform: platform,
		ExternalID: externalID, Status: StatusActive, CreatedAt: time.Now(),
	}
	f.convs[c.ID] = c
	cp := *c
	return &cp, nil
}

func (f *fakeConvStore) Get(_ context.Context, id uuid.UUID) (*Conversation, error) {
	cp := *f.convs[id]
	return &cp, nil
}

func (f *fakeConvStore) SetStatus(_ context.Context, id uuid.UUID, status, reason string) (*Conversation, error) {
	c := f.convs[id]
	c.Status = status
	c.EscalationReason = reason
	if status == StatusEscalated {
		now := time.Now()
		c.EscalatedAt = &now
	} else {
		c.EscalatedAt = nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeConvStore) LinkLead(_ context.Context, convID, leadID uuid.UUID) error {
	if c := f.convs[convID]; c.LeadID == nil {
		c.LeadID = &leadID
	}
	return nil
}

func (f *fakeConvStore) AppendMessage(_ context.Context, m Message) (*Message, error) {
	m.ID = uuid.New()
	m.CreatedAt = time.Now()
	f.messages = append(f.messages, m)
	return &m, nil
}

func (f *fakeConvStore) RecentMessages(_ context.Context, convID uuid.UUID, limit int) ([]Message, error) {
	var out []Message
	for _, m := range f.messages {
		if m.ConversationID == convID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeConvStore) bySender(sender string) []Message {
	var out []Message
	for _, m := range f.messages {
		if m.Sender == sender {
			out = append(out, m)
		}
	}
	return out
}

type fakeLeads struct{ ensured int }

func (f *fakeLeads) Ensure(_ context.Context, info lead.Info, _ string, force bool) (*lead.Lead, error) {
	if info.Empty() && !force {
		return nil, nil
	}
	f.ensured++
	return &lead.Lead{ID: uuid.New(), Name: info.Name, Phone: info.Phone, Email: info.Email}, nil
}

type fakeResolver struct{}

func (f *fakeResolver) AccessToken(context.Context, uuid.UUID, string) (string, error) {
	return "sk-test", nil
}

func (f *fakeResolver) Setting(context.Context, uuid.UUID, string, string) (string, error) {
	return "We sell auto and home policies.", nil
}

type fakeProvider struct {
	reply ai.Reply
	err   error
	calls int
}

func (f *fakeProvider) Complete(context.Context, string, ai.CompletionRequest) (ai.Reply, error) {
	f.calls++
	return f.reply, f.err
}

type fakeSender struct{ sent []string }

func (f *fakeSender) SendText(_ context.Context, _ uuid.UUID, _, text string) (string, error) {
	f.sent = append(f.sent, text)
	return "wamid.test", nil
}

func newTestEngine(store *fakeConvStore, provider *fakeProvider, sender *fakeSender) *Engine {
	return &Engine{
		store:    store,
		leads:    &fakeLeads{},
		resolver: &fakeResolver{},
		provider: provider,
		senders:  map[string]Sender{PlatformWhatsApp: sender},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func inbound(tenantID uuid.UUID, text string) Inbound {
	return Inbound{
		TenantID:   tenantID,
		Platform:   PlatformWhatsApp,
		ExternalID: "+2348012345678",
		MessageID:  "wamid.in",
		Text:       text,
	}
}

func TestIngestInboundConfidentReply(t *testing.T) {
	store := newFakeConvStore()
	provider := &fakeProvider{reply: ai.Reply{Text: "Your policy covers flood damage.", Confidence: 0.92}}
	sender := &fakeSender{}
	eng := newTestEngine(store, provider, sender)

	out, err := eng.IngestInbound(context.Background(), inbound(uuid.New(), "does my policy cover floods?"))
	require.NoError(t, err)

	assert.False(t, out.Escalated)
	assert.Equal(t, "Your policy covers flood damage.", out.ReplyText)
	assert.InDelta(t, 0.92, out.Confidence, 1e-9)
	assert.Equal(t, StatusActive, store.convs[out.Conversation.ID].Status)
	assert.Equal(t, []string{"Your policy covers flood damage."}, sender.sent)
}

func TestIngestInboundCustomerEscalationKeyword(t *testing.T) {
	store := newFakeConvStore()
	provider := &fakeProvider{reply: ai.Reply{Text: "irrelevant", Confidence: 0.99}}
	eng := newTestEngine(store, provider, &fakeSender{})

	out, err := eng.IngestInbound(context.Background(), inbound(uuid.New(), "I want to speak to a human about my claim"))
	require.NoError(t, err)

	assert.True(t, out.Escalated)
	assert.Equal(t, handoffNotice, out.ReplyText)
	assert.Equal(t, 0, provider.calls, "provider must not be called on keyword escalation")
	assert.Equal(t, ReasonCustomerRequest, store.convs[out.Conversation.ID].EscalationReason)
}

func TestIngestInboundLowConfidence(t *testing.T) {
	store := newFakeConvStore()
	provider := &fakeProvider{reply: ai.Reply{Text: "Maybe it covers that.", Confidence: 0.3}}
	eng := newTestEngine(store, provider, &fakeSender{})

	out, err := eng.IngestInbound(context.Background(), inbound(uuid.New(), "what about hail?"))
	require.NoError(t, err)

	assert.True(t, out.Escalated)
	assert.Equal(t, ReasonLowConfidence, store.convs[out.Conversation.ID].EscalationReason)
	// The reply is still delivered before the handoff.
	assert.Equal(t, "Maybe it covers that.", out.ReplyText)
}

func TestIngestInboundUncertainReply(t *testing.T) {
	store := newFakeConvStore()
	provider := &fakeProvider{reply: ai.Reply{Text: "I'm not sure about that, please contact support.", Confidence: 0.9}}
	eng := newTestEngine(store, provider, &fakeSender{})

	out, err := eng.IngestInbound(context.Background(), inbound(uuid.New(), "is my neighbor covered?"))
	require.NoError(t, err)

	assert.True(t, out.Escalated)
	assert.Equal(t, ReasonUncertainReply, store.convs[out.Conversation.ID].EscalationReason)
}

func TestIngestInboundProviderFailure(t *testing.T) {
	store := newFakeConvStore()
	provider := &fakeProvider{err: ai.ErrProviderUnavailable}
	sender := &fakeSender{}
	eng := newTestEngine(store, provider, sender)

	out, err := eng.IngestInbound(context.Background(), inbound(uuid.New(), "hello"))
	require.NoError(t, err)

	assert.True(t, out.Escalated)
	assert.Equal(t, providerApology, out.ReplyText)
	assert.Equal(t, ReasonProviderError, store.convs[out.Conversation.ID].EscalationReason)
	// Customer sees the apology and the handoff notice, never the raw error.
	assert.Equal(t, []string{providerApology, handoffNotice}, sender.sent)
}

func TestIngestInboundEscalatedThreadIsSilent(t *testing.T) {
	store := newFakeConvStore()
	provider := &fakeProvider{err: ai.ErrProviderUnavailable}
	sender := &fakeSender{}
	eng := newTestEngine(store, provider, sender)
	tenantID := uuid.New()

	_, err := eng.IngestInbound(context.Background(), inbound(tenantID, "I need a lawyer"))
	require.NoError(t, err)
	sentAfterEscalation := len(sender.sent)

	out, err := eng.IngestInbound(context.Background(), inbound(tenantID, "are you still there?"))
	require.NoError(t, err)

	assert.True(t, out.Escalated)
	assert.Empty(t, out.ReplyText)
	assert.Equal(t, 0, provider.calls)
	assert.Len(t, sender.sent, sentAfterEscalation, "no per-message re-acknowledgment")
	assert.Len(t, store.bySender(SenderSystem), 1, "handoff notice is one-time")
}

func TestEscalateIsIdempotent(t *testing.T) {
	store := newFakeConvStore()
	eng := newTestEngine(store, &fakeProvider{}, &fakeSender{})
	conv, err := store.Create(context.Background(), uuid.New(), PlatformWhatsApp, "+15550001111")
	require.NoError(t, err)

	notice, err := eng.Escalate(context.Background(), conv, ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, handoffNotice, notice)

	notice, err = eng.Escalate(context.Background(), conv, ReasonCustomerRequest)
	require.NoError(t, err)
	assert.Empty(t, notice)
	assert.Equal(t, ReasonManual, store.convs[conv.ID].EscalationReason, "first reason wins")
	assert.Len(t, store.bySender(SenderSystem), 1)
}

func TestSendAsAgentForcesEscalation(t *testing.T) {
	store := newFakeConvStore()
	sender := &fakeSender{}
	eng := newTestEngine(store, &fakeProvider{}, sender)
	conv, err := store.Create(context.Background(), uuid.New(), PlatformWhatsApp, "+15550001111")
	require.NoError(t, err)
	agentID := uuid.New()

	m, err := eng.SendAsAgent(context.Background(), conv.ID, "An agent here, how can I help?", agentID)
	require.NoError(t, err)

	assert.Equal(t, SenderAgent, m.Sender)
	assert.Equal(t, &agentID, m.AgentID)
	assert.Equal(t, StatusEscalated, store.convs[conv.ID].Status)
	assert.Equal(t, []string{"An agent here, how can I help?"}, sender.sent)
}

func TestDeEscalate(t *testing.T) {
	store := newFakeConvStore()
	eng := newTestEngine(store, &fakeProvider{}, &fakeSender{})
	conv, err := store.Create(context.Background(), uuid.New(), PlatformWhatsApp, "+15550001111")
	require.NoError(t, err)

	_, err = eng.Escalate(context.Background(), conv, ReasonManual)
	require.NoError(t, err)

	updated, err := eng.DeEscalate(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, updated.Status)
	assert.Nil(t, updated.EscalatedAt)
	assert.Empty(t, updated.EscalationReason)
}
