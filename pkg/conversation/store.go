package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coverdesk/coverdesk/internal/db"
	"github.com/coverdesk/coverdesk/internal/httpserver"
	"github.com/coverdesk/coverdesk/pkg/tenant"
)

const convColumns = `id, tenant_id, lead_id, platform, external_id, status,
	escalated_at, escalation_reason, last_message_at, created_at, updated_at`

// Store provides tenant-scoped access to conversations and messages.
type Store struct {
	db db.DBTX
}

func NewStore(dbtx db.DBTX) *Store {
	return &Store{db: dbtx}
}

func scanConv(row pgx.Row) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.TenantID, &c.LeadID, &c.Platform, &c.ExternalID,
		&c.Status, &c.EscalatedAt, &c.EscalationReason, &c.LastMessageAt,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindOpen returns the most recent non-closed conversation for a platform
// identity, or nil when none exists. Concurrent inbound messages can race
// past this and create duplicate threads; that is tolerated, later lookups
// converge on the most recent one.
func (s *Store) FindOpen(ctx context.Context, tenantID uuid.UUID, platform, externalID string) (*Conversation, error) {
	c, err := scanConv(s.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM conversations
		WHERE tenant_id = $1 AND platform = $2 AND external_id = $3 AND status != $4
		ORDER BY created_at DESC LIMIT 1`, convColumns),
		tenantID, platform, externalID, StatusClosed))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return c, nil
}

func (s *Store) Create(ctx context.Context, tenantID uuid.UUID, platform, externalID string) (*Conversation, error) {
	c, err := scanConv(s.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO conversations (id, tenant_id, platform, external_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING %s`, convColumns),
		uuid.New(), tenantID, platform, externalID, StatusActive))
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	filter := tenant.ScopedFilter(ctx)
	clause, args := filter.Clause(2)
	c, err := scanConv(s.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM conversations WHERE id = $1 AND %s`, convColumns, clause),
		append([]any{id}, args...)...))
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (s *Store) List(ctx context.Context, status string, page httpserver.PageParams) ([]Conversation, int, error) {
	filter := tenant.ScopedFilter(ctx)
	clause, args := filter.Clause(1)
	if status != "" {
		clause = fmt.Sprintf("%s AND status = $%d", clause, len(args)+1)
		args = append(args, status)
	}

	var total int
	if err := s.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT count(*) FROM conversations WHERE %s`, clause), args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM conversations WHERE %s
		ORDER BY last_message_at DESC NULLS LAST
		LIMIT $%d OFFSET $%d`, convColumns, clause, len(args)+1, len(args)+2),
		append(args, page.PerPage, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConv(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

// SetStatus transitions a conversation. Escalation stamps the time and
// reason; de-escalation clears them.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status, reason string) (*Conversation, error) {
	var escalatedAt *time.Time
	if status == StatusEscalated {
		now := time.Now().UTC()
		escalatedAt = &now
	}
	c, err := scanConv(s.db.QueryRow(ctx, fmt.Sprintf(`
		UPDATE conversations
		SET status = $1, escalated_at = $2, escalation_reason = $3, updated_at = now()
		WHERE id = $4
		RETURNING %s`, convColumns),
		status, escalatedAt, reason, id))
	if err != nil {
		return nil, fmt.Errorf("set conversation status: %w", err)
	}
	return c, nil
}

// LinkLead attaches a lead to a conversation if none is linked yet.
func (s *Store) LinkLead(ctx context.Context, convID, leadID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE conversations SET lead_id = $1, updated_at = now()
		WHERE id = $2 AND lead_id IS NULL`,
		leadID, convID)
	if err != nil {
		return fmt.Errorf("link lead: %w", err)
	}
	return nil
}

// AppendMessage writes a transcript entry and bumps last_message_at.
func (s *Store) AppendMessage(ctx context.Context, m Message) (*Message, error) {
	m.ID = uuid.New()
	err := s.db.QueryRow(ctx, `
		INSERT INTO chat_messages (id, tenant_id, conversation_id, sender, content, external_id, agent_id, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		m.ID, m.TenantID, m.ConversationID, m.Sender, m.Content, m.ExternalID, m.AgentID, m.Confidence,
	).Scan(&m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE conversations SET last_message_at = $1, updated_at = now() WHERE id = $2`,
		m.CreatedAt, m.ConversationID); err != nil {
		return nil, fmt.Errorf("bump conversation: %w", err)
	}
	return &m, nil
}

// RecentMessages returns the last limit messages in chronological order.
func (s *Store) RecentMessages(ctx context.Context, convID uuid.UUID, limit int) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, tenant_id, conversation_id, sender, content, external_id, agent_id, confidence, created_at
		FROM (
			SELECT id, tenant_id, conversation_id, sender, content, external_id, agent_id, confidence, created_at
			FROM chat_messages WHERE conversation_id = $1
			ORDER BY created_at DESC LIMIT $2
		) recent
		ORDER BY created_at`,
		convID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// Messages returns the full transcript ordered by creation time.
func (s *Store) Messages(ctx context.Context, convID uuid.UUID) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, tenant_id, conversation_id, sender, content, external_id, agent_id, confidence, created_at
		FROM chat_messages WHERE conversation_id = $1
		ORDER BY created_at`,
		convID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ConversationID, &m.Sender, &m.Content,
			&m.ExternalID, &m.AgentID, &m.Confidence, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
