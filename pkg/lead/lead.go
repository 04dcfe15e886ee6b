// Package lead manages sales leads and the best-effort KYC extraction that
// links chat conversations to them.
package lead

import (
	"time"

	"github.com/google/uuid"
)

// Lead is a potential customer captured from chat or manual entry.
type Lead struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Lead sources.
const (
	SourceWidget   = "widget"
	SourceWhatsApp = "whatsapp"
	SourceManual   = "manual"
)
