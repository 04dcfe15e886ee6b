package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coverdesk/coverdesk/internal/db"
	"github.com/coverdesk/coverdesk/pkg/tenant"
)

const ruleColumns = `id, tenant_id, name, trigger_type, template_id, label_id,
	send_after_minutes, delay_minutes, frequency, max_send_count,
	active_days, active_hours_start, active_hours_end, is_active,
	created_at, updated_at`

// Store provides access to automation rules and logs. Rule CRUD is
// tenant-scoped; the engine paths take tenant IDs explicitly because the
// worker iterates every tenant's rules.
type Store struct {
	db db.DBTX
}

func NewStore(dbtx db.DBTX) *Store {
	return &Store{db: dbtx}
}

type ruleRow interface {
	Scan(dest ...any) error
}

func scanRule(row ruleRow) (*Rule, error) {
	var r Rule
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.TriggerType, &r.TemplateID,
		&r.LabelID, &r.SendAfterMinutes, &r.DelayMinutes, &r.Frequency,
		&r.MaxSendCount, &r.ActiveDays, &r.ActiveHoursStart, &r.ActiveHoursEnd,
		&r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) Create(ctx context.Context, req CreateRequest) (*Rule, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}
	r, err := scanRule(s.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO automation_rules (id, tenant_id, name, trigger_type, template_id, label_id,
			send_after_minutes, delay_minutes, frequency, max_send_count,
			active_days, active_hours_start, active_hours_end, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING %s`, ruleColumns),
		uuid.New(), tenantID, req.Name, req.TriggerType, req.TemplateID, req.LabelID,
		req.SendAfterMinutes, req.DelayMinutes, req.Frequency, req.MaxSendCount,
		req.ActiveDays, req.ActiveHoursStart, req.ActiveHoursEnd, req.IsActive))
	if err != nil {
		return nil, fmt.Errorf("insert rule: %w", err)
	}
	return r, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Rule, error) {
	filter := tenant.ScopedFilter(ctx)
	clause, args := filter.Clause(2)
	r, err := scanRule(s.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM automation_rules WHERE id = $1 AND %s`, ruleColumns, clause),
		append([]any{id}, args...)...))
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return r, nil
}

func (s *Store) List(ctx context.Context) ([]Rule, error) {
	filter := tenant.ScopedFilter(ctx)
	clause, args := filter.Clause(1)
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM automation_rules WHERE %s ORDER BY created_at DESC`, ruleColumns, clause), args...)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, id uuid.UUID, req CreateRequest) (*Rule, error) {
	filter := tenant.ScopedFilter(ctx)
	clause, args := filter.Clause(14)
	r, err := scanRule(s.db.QueryRow(ctx, fmt.Sprintf(`
		UPDATE automation_rules
		SET name = $1, trigger_type = $2, template_id = $3, label_id = $4,
			send_after_minutes = $5, delay_minutes = $6, frequency = $7,
			max_send_count = $8, active_days = $9, active_hours_start = $10,
			active_hours_end = $11, is_active = $12, updated_at = now()
		WHERE id = $13 AND %s
		RETURNING %s`, clause, ruleColumns),
		append([]any{req.Name, req.TriggerType, req.TemplateID, req.LabelID,
			req.SendAfterMinutes, req.DelayMinutes, req.Frequency, req.MaxSendCount,
			req.ActiveDays, req.ActiveHoursStart, req.ActiveHoursEnd, req.IsActive,
			id}, args...)...))
	if err != nil {
		return nil, fmt.Errorf("update rule: %w", err)
	}
	return r, nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	filter := tenant.ScopedFilter(ctx)
	clause, args := filter.Clause(2)
	tag, err := s.db.Exec(ctx,
		fmt.Sprintf(`DELETE FROM automation_rules WHERE id = $1 AND %s`, clause),
		append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %s not found", id)
	}
	return nil
}

// ActiveRules returns every enabled rule across all tenants. Worker path.
func (s *Store) ActiveRules(ctx context.Context) ([]Rule, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM automation_rules WHERE is_active ORDER BY tenant_id, created_at`, ruleColumns))
	if err != nil {
		return nil, fmt.Errorf("active rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// WindowExpiredTargets finds WhatsApp conversations whose last customer
// message falls inside [from, to): the service window closed (plus the
// rule's delay) somewhere in the current poll interval.
func (s *Store) WindowExpiredTargets(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]Target, error) {
	rows, err := s.db.Query(ctx, `
		SELECT c.id, c.external_id, c.last_message_at
		FROM conversations c
		WHERE c.tenant_id = $1 AND c.platform = 'whatsapp' AND c.status != 'closed'
		  AND c.last_message_at >= $2 AND c.last_message_at < $3`,
		tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("window-expired targets: %w", err)
	}
	defer rows.Close()
	return collectTargets(rows)
}

// CreatedInWindowTargets finds conversations created inside [from, to).
func (s *Store) CreatedInWindowTargets(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]Target, error) {
	rows, err := s.db.Query(ctx, `
		SELECT c.id, c.external_id, c.created_at
		FROM conversations c
		WHERE c.tenant_id = $1 AND c.platform = 'whatsapp' AND c.status != 'closed'
		  AND c.created_at >= $2 AND c.created_at < $3`,
		tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("created-in-window targets: %w", err)
	}
	defer rows.Close()
	return collectTargets(rows)
}

// LabelTargets finds conversations whose rule label was assigned after
// since, joined to their WhatsApp identity.
func (s *Store) LabelTargets(ctx context.Context, tenantID, labelID uuid.UUID, since time.Time) ([]Target, error) {
	rows, err := s.db.Query(ctx, `
		SELECT c.id, c.external_id, le.created_at
		FROM label_events le
		JOIN conversations c ON c.id = le.conversation_id
		WHERE le.tenant_id = $1 AND le.label_id = $2 AND le.created_at >= $3
		  AND c.platform = 'whatsapp'`,
		tenantID, labelID, since)
	if err != nil {
		return nil, fmt.Errorf("label targets: %w", err)
	}
	defer rows.Close()
	return collectTargets(rows)
}

func collectTargets(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]Target, error) {
	var out []Target
	for rows.Next() {
		var t Target
		var matched *time.Time
		if err := rows.Scan(&t.ConversationID, &t.Phone, &matched); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		if matched != nil {
			t.MatchedAt = *matched
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// HasLogSince reports whether the rule already logged an attempt for the
// conversation at or after the given time. Blocks label-trigger refires.
func (s *Store) HasLogSince(ctx context.Context, ruleID, conversationID uuid.UUID, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM automation_logs
			WHERE rule_id = $1 AND conversation_id = $2 AND created_at >= $3
		)`, ruleID, conversationID, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("log lookup: %w", err)
	}
	return exists, nil
}

// CountSuccesses counts successful sends from a rule to a phone number
// since the given time (all-time when since is zero). Failed attempts do
// not count against frequency limits.
func (s *Store) CountSuccesses(ctx context.Context, ruleID uuid.UUID, phone string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM automation_logs
		WHERE rule_id = $1 AND phone = $2 AND status = 'success' AND created_at >= $3`,
		ruleID, phone, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count successes: %w", err)
	}
	return n, nil
}

// InsertLog writes one attempt record, success or failure.
func (s *Store) InsertLog(ctx context.Context, l Log) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO automation_logs (id, tenant_id, rule_id, conversation_id, phone, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), l.TenantID, l.RuleID, l.ConversationID, l.Phone, l.Status, l.Error)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// Logs lists a rule's attempt history, newest first. Tenant-scoped.
func (s *Store) Logs(ctx context.Context, ruleID uuid.UUID, limit int) ([]Log, error) {
	filter := tenant.ScopedFilter(ctx)
	clause, args := filter.Clause(3)
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT id, tenant_id, rule_id, conversation_id, phone, status, error, created_at
		FROM automation_logs
		WHERE rule_id = $1 AND %s
		ORDER BY created_at DESC LIMIT $2`, clause),
		append([]any{ruleID, limit}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var out []Log
	for rows.Next() {
		var l Log
		if err := rows.Scan(&l.ID, &l.TenantID, &l.RuleID, &l.ConversationID,
			&l.Phone, &l.Status, &l.Error, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
