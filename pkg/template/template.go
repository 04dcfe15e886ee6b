// Package template manages pre-approved WhatsApp message templates.
// Provider-initiated sends (automation, campaigns) may only use templates
// the messaging provider has approved.
package template

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Approval statuses.
const (
	StatusDraft    = "DRAFT"
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

// ErrNotApproved is returned when a rule or campaign is bound to a template
// the provider has not approved.
var ErrNotApproved = errors.New("template is not approved")

// Template is a parameterized, provider-reviewed message format.
type Template struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Name      string    `json:"name"`
	Language  string    `json:"language"`
	Category  string    `json:"category"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateRequest is the JSON body for POST /api/v1/templates.
type CreateRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=512"`
	Language string `json:"language" validate:"required,min=2,max=10"`
	Category string `json:"category" validate:"required,oneof=MARKETING UTILITY AUTHENTICATION"`
	Body     string `json:"body" validate:"required,min=1"`
}

// StatusUpdateRequest sets the approval status (provider webhook or
// super-admin action).
type StatusUpdateRequest struct {
	Status string `json:"status" validate:"required,oneof=DRAFT PENDING APPROVED REJECTED"`
}
