// Package conversation implements the AI-assisted chat engine: inbound
// message ingestion, assistant reply generation, and the escalation state
// machine that hands conversations over to human agents.
package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Conversation states. A conversation moves active → escalated when the
// AI hands off to a human, back to active only through an explicit
// de-escalation, and to closed as a terminal state.
const (
	StatusActive    = "active"
	StatusEscalated = "escalated"
	StatusClosed    = "closed"
)

// Message platforms.
const (
	PlatformWhatsApp = "whatsapp"
	PlatformWidget   = "widget"
)

// Message sender roles.
const (
	SenderCustomer  = "CUSTOMER"
	SenderAssistant = "AI_ASSISTANT"
	SenderAgent     = "HUMAN_AGENT"
	SenderSystem    = "SYSTEM"
)

// contextWindow is how many recent messages are replayed to the completion
// provider when generating a reply.
const contextWindow = 10

// Conversation is a customer chat thread on one platform.
type Conversation struct {
	ID               uuid.UUID  `json:"id"`
	TenantID         uuid.UUID  `json:"tenant_id"`
	LeadID           *uuid.UUID `json:"lead_id,omitempty"`
	Platform         string     `json:"platform"`
	ExternalID       string     `json:"external_id"`
	Status           string     `json:"status"`
	EscalatedAt      *time.Time `json:"escalated_at,omitempty"`
	EscalationReason string     `json:"escalation_reason,omitempty"`
	LastMessageAt    *time.Time `json:"last_message_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Escalated reports whether the thread is in human hands.
func (c *Conversation) Escalated() bool { return c.Status == StatusEscalated }

// Message is one entry in a conversation's transcript.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	Sender         string     `json:"sender"`
	Content        string     `json:"content"`
	ExternalID     string     `json:"external_id,omitempty"`
	AgentID        *uuid.UUID `json:"agent_id,omitempty"`
	Confidence     *float64   `json:"confidence,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Inbound is a normalized customer message arriving from any platform.
type Inbound struct {
	TenantID   uuid.UUID
	Platform   string
	ExternalID string // customer phone for whatsapp, visitor id for widget
	MessageID  string // platform message id, used for dedup upstream
	Text       string
	Name       string // profile name if the platform provides one
}

// Outcome is the engine's result for one inbound message.
type Outcome struct {
	Conversation  *Conversation
	ReplyText     string
	Confidence    float64
	Escalated     bool
	NeedsUserInfo bool
	LeadID        *uuid.UUID
}

// Sender delivers outbound text to a customer on a platform. The WhatsApp
// client implements it; the widget uses the synchronous HTTP response and
// registers a no-op.
type Sender interface {
	SendText(ctx context.Context, tenantID uuid.UUID, to, text string) (string, error)
}

// SendAsAgentRequest is the JSON body for an agent reply.
type SendAsAgentRequest struct {
	Text string `json:"text" validate:"required,min=1"`
}
