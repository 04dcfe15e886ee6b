// Package automation implements trigger-based follow-up rules: a background
// engine polls active rules and sends template messages to matching
// conversations, with per-contact frequency limits.
package automation

import (
	"time"

	"github.com/google/uuid"
)

// Trigger types.
const (
	TriggerWindowExpired = "CONVERSATION_WINDOW_EXPIRED"
	TriggerLabelAssigned = "LABEL_ASSIGNED"
	TriggerTimeDelay     = "TIME_DELAY"
	TriggerManual        = "MANUAL"
)

// Sending frequencies bound how often one rule may reach the same contact.
const (
	FrequencyOnce        = "ONCE"
	FrequencyEveryWindow = "EVERY_WINDOW"
	FrequencyDaily       = "DAILY"
	FrequencyWeekly      = "WEEKLY"
)

// Log outcomes.
const (
	LogSuccess = "success"
	LogFailed  = "failed"
)

// labelLookback is how far back the poll looks for label assignment events.
const labelLookback = 15 * time.Minute

// messagingWindow is WhatsApp's 24h customer service window; the
// window-expired trigger fires relative to its close.
const messagingWindow = 24 * time.Hour

// Rule is one automation: a trigger condition bound to an approved template.
type Rule struct {
	ID               uuid.UUID  `json:"id"`
	TenantID         uuid.UUID  `json:"tenant_id"`
	Name             string     `json:"name"`
	TriggerType      string     `json:"trigger_type"`
	TemplateID       uuid.UUID  `json:"template_id"`
	LabelID          *uuid.UUID `json:"label_id,omitempty"`
	SendAfterMinutes int        `json:"send_after_minutes"`
	DelayMinutes     int        `json:"delay_minutes"`
	Frequency        string     `json:"frequency"`
	MaxSendCount     int        `json:"max_send_count"`
	ActiveDays       []string   `json:"active_days"`
	ActiveHoursStart int        `json:"active_hours_start"`
	ActiveHoursEnd   int        `json:"active_hours_end"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Log records one send attempt. Failures are kept for operators but are
// excluded from frequency queries.
type Log struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	RuleID         uuid.UUID  `json:"rule_id"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	Phone          string     `json:"phone"`
	Status         string     `json:"status"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Target is one conversation a trigger matched.
type Target struct {
	ConversationID uuid.UUID
	Phone          string
	MatchedAt      time.Time
}

// CreateRequest is the JSON body for rule create and update.
type CreateRequest struct {
	Name             string     `json:"name" validate:"required,min=1,max=255"`
	TriggerType      string     `json:"trigger_type" validate:"required,oneof=CONVERSATION_WINDOW_EXPIRED LABEL_ASSIGNED TIME_DELAY MANUAL"`
	TemplateID       uuid.UUID  `json:"template_id" validate:"required"`
	LabelID          *uuid.UUID `json:"label_id" validate:"required_if=TriggerType LABEL_ASSIGNED"`
	SendAfterMinutes int        `json:"send_after_minutes" validate:"min=0"`
	DelayMinutes     int        `json:"delay_minutes" validate:"min=0"`
	Frequency        string     `json:"frequency" validate:"required,oneof=ONCE EVERY_WINDOW DAILY WEEKLY"`
	MaxSendCount     int        `json:"max_send_count" validate:"min=0"`
	ActiveDays       []string   `json:"active_days" validate:"dive,oneof=mon tue wed thu fri sat sun"`
	ActiveHoursStart int        `json:"active_hours_start" validate:"min=0,max=23"`
	ActiveHoursEnd   int        `json:"active_hours_end" validate:"min=0,max=24"`
	IsActive         bool       `json:"is_active"`
}
