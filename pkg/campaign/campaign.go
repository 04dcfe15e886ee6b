// Package campaign implements bulk template-message campaigns: scheduling,
// paced dispatch, and per-message delivery tracking.
package campaign

import (
	"time"

	"github.com/google/uuid"
)

// Campaign statuses.
const (
	StatusDraft     = "DRAFT"
	StatusScheduled = "SCHEDULED"
	StatusRunning   = "RUNNING"
	StatusPaused    = "PAUSED"
	StatusCompleted = "COMPLETED"
	StatusCancelled = "CANCELLED"
)

// Message statuses.
const (
	MessagePending = "PENDING"
	MessageSent    = "SENT"
	MessageFailed  = "FAILED"
)

// Pacing levels map to the sleep between consecutive sends.
const (
	PacingSlow   = "SLOW"
	PacingNormal = "NORMAL"
	PacingFast   = "FAST"
)

// dispatchBatch is how many pending messages one dispatch cycle claims.
const dispatchBatch = 10

// Campaign is one bulk send of an approved template to the tenant's leads.
type Campaign struct {
	ID                  uuid.UUID  `json:"id"`
	TenantID            uuid.UUID  `json:"tenant_id"`
	Name                string     `json:"name"`
	TemplateID          uuid.UUID  `json:"template_id"`
	Status              string     `json:"status"`
	Pacing              string     `json:"pacing"`
	ScheduledAt         *time.Time `json:"scheduled_at,omitempty"`
	RespectWorkingHours bool       `json:"respect_working_hours"`
	WorkingHoursStart   int        `json:"working_hours_start"`
	WorkingHoursEnd     int        `json:"working_hours_end"`
	TotalContacts       int        `json:"total_contacts"`
	SentCount           int        `json:"sent_count"`
	FailedCount         int        `json:"failed_count"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Message is one recipient's slot in a campaign.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	CampaignID     uuid.UUID  `json:"campaign_id"`
	LeadID         *uuid.UUID `json:"lead_id,omitempty"`
	Phone          string     `json:"phone"`
	Status         string     `json:"status"`
	ExternalID     string     `json:"external_id,omitempty"`
	DeliveryStatus string     `json:"delivery_status,omitempty"`
	Error          string     `json:"error,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// CreateRequest is the JSON body for campaign create and update.
type CreateRequest struct {
	Name                string     `json:"name" validate:"required,min=1,max=255"`
	TemplateID          uuid.UUID  `json:"template_id" validate:"required"`
	Pacing              string     `json:"pacing" validate:"required,oneof=SLOW NORMAL FAST"`
	ScheduledAt         *time.Time `json:"scheduled_at"`
	RespectWorkingHours bool       `json:"respect_working_hours"`
	WorkingHoursStart   int        `json:"working_hours_start" validate:"min=0,max=23"`
	WorkingHoursEnd     int        `json:"working_hours_end" validate:"min=0,max=24"`
}

// paceDelay is the enforced gap between consecutive sends.
func paceDelay(pacing string) time.Duration {
	switch pacing {
	case PacingSlow:
		return 5 * time.Second
	case PacingFast:
		return time.Second
	default: // PacingNormal
		return 2 * time.Second
	}
}
