// Package credential stores per-tenant third-party provider credentials with
// secrets encrypted at rest, and resolves them for outbound calls.
package credential

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Provider identifiers.
const (
	ProviderWhatsApp = "whatsapp"
	ProviderEmail    = "email"
	ProviderOpenAI   = "openai"
)

// ErrNotConfigured is returned when a tenant has no active credential for a
// provider. Callers must treat this as "feature unavailable for this tenant"
// and never fall back to a shared credential.
var ErrNotConfigured = errors.New("credential not configured for tenant")

// Credential is one provider credential row. Secret fields hold the
// encrypted representation; they are decrypted only at the point of use.
type Credential struct {
	ID                 uuid.UUID `json:"id"`
	TenantID           uuid.UUID `json:"tenant_id"`
	Provider           string    `json:"provider"`
	Label              string    `json:"label"`
	AccessToken        string    `json:"-"`
	AppSecret          string    `json:"-"`
	PhoneNumberID      string    `json:"phone_number_id,omitempty"`
	WebhookVerifyToken string    `json:"-"`
	IsDefault          bool      `json:"is_default"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// CreateRequest is the JSON body for POST /api/v1/credentials.
type CreateRequest struct {
	Provider           string `json:"provider" validate:"required,oneof=whatsapp email openai"`
	Label              string `json:"label" validate:"required,min=1,max=100"`
	AccessToken        string `json:"access_token" validate:"required"`
	AppSecret          string `json:"app_secret"`
	PhoneNumberID      string `json:"phone_number_id"`
	WebhookVerifyToken string `json:"webhook_verify_token"`
	IsDefault          bool   `json:"is_default"`
}

// Response is the JSON shape for a credential. Secrets never round-trip;
// only a configured flag is exposed.
type Response struct {
	ID            uuid.UUID `json:"id"`
	Provider      string    `json:"provider"`
	Label         string    `json:"label"`
	PhoneNumberID string    `json:"phone_number_id,omitempty"`
	IsDefault     bool      `json:"is_default"`
	IsActive      bool      `json:"is_active"`
	Configured    bool      `json:"configured"`
	CreatedAt     time.Time `json:"created_at"`
}

// ToResponse converts a Credential to its public shape.
func (c Credential) ToResponse() Response {
	return Response{
		ID:            c.ID,
		Provider:      c.Provider,
		Label:         c.Label,
		PhoneNumberID: c.PhoneNumberID,
		IsDefault:     c.IsDefault,
		IsActive:      c.IsActive,
		Configured:    c.AccessToken != "",
		CreatedAt:     c.CreatedAt,
	}
}
