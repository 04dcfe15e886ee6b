// Package label manages conversation labels and their assignment history.
// Assignments are recorded as events so that automation rules can react to
// recently labeled conversations.
package label

import (
	"time"

	"github.com/google/uuid"
)

// Label is a tenant-defined tag for conversations.
type Label struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// Event records a label being assigned to a conversation.
type Event struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	LabelID        uuid.UUID  `json:"label_id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	AssignedBy     *uuid.UUID `json:"assigned_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// CreateRequest is the JSON body for POST /api/v1/labels.
type CreateRequest struct {
	Name  string `json:"name" validate:"required,min=1,max=128"`
	Color string `json:"color" validate:"omitempty,hexcolor"`
}

// AssignRequest attaches a label to a conversation.
type AssignRequest struct {
	ConversationID uuid.UUID `json:"conversation_id" validate:"required"`
}
