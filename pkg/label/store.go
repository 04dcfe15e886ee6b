package label

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coverdesk/coverdesk/internal/db"
	"github.com/coverdesk/coverdesk/pkg/tenant"
)

// Store provides tenant-scoped access to labels and label events.
type Store struct {
	db db.DBTX
}

func NewStore(dbtx db.DBTX) *Store {
	return &Store{db: dbtx}
}

func (s *Store) Create(ctx context.Context, req CreateRequest) (*Label, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}
	color := req.Color
	if color == "" {
		color = "#64748b"
	}
	var l Label
	err = s.db.QueryRow(ctx, `
		INSERT INTO labels (id, tenant_id, name, color)
		VALUES ($1, $2, $3, $4)
		RETURNING id, tenant_id, name, color, created_at`,
		uuid.New(), tenantID, req.Name, color,
	).Scan(&l.ID, &l.TenantID, &l.Name, &l.Color, &l.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert label: %w", err)
	}
	return &l, nil
}

func (s *Store) List(ctx context.Context) ([]Label, error) {
	filter := tenant.ScopedFilter(ctx)
	clause, args := filter.Clause(1)
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT id, tenant_id, name, color, created_at
		FROM labels WHERE %s ORDER BY name`, clause), args...)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()

	var out []Label
	for rows.Next() {
		var l Label
		if err := rows.Scan(&l.ID, &l.TenantID, &l.Name, &l.Color, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	filter := tenant.ScopedFilter(ctx)
	clause, args := filter.Clause(2)
	tag, err := s.db.Exec(ctx,
		fmt.Sprintf(`DELETE FROM labels WHERE id = $1 AND %s`, clause),
		append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("delete label: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("label %s not found", id)
	}
	return nil
}

// Assign records a label assignment event for a conversation.
func (s *Store) Assign(ctx context.Context, labelID, conversationID uuid.UUID, assignedBy *uuid.UUID) (*Event, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}
	var e Event
	err = s.db.QueryRow(ctx, `
		INSERT INTO label_events (id, tenant_id, label_id, conversation_id, assigned_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, tenant_id, label_id, conversation_id, assigned_by, created_at`,
		uuid.New(), tenantID, labelID, conversationID, assignedBy,
	).Scan(&e.ID, &e.TenantID, &e.LabelID, &e.ConversationID, &e.AssignedBy, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert label event: %w", err)
	}
	return &e, nil
}

// RecentEvents returns assignment events for a label newer than since,
// across the whole tenant. The automation engine runs unscoped per tenant,
// so this takes the tenant ID explicitly.
func (s *Store) RecentEvents(ctx context.Context, tenantID, labelID uuid.UUID, since time.Time) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, tenant_id, label_id, conversation_id, assigned_by, created_at
		FROM label_events
		WHERE tenant_id = $1 AND label_id = $2 AND created_at >= $3
		ORDER BY created_at`,
		tenantID, labelID, since)
	if err != nil {
		return nil, fmt.Errorf("recent label events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TenantID, &e.LabelID, &e.ConversationID, &e.AssignedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan label event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
