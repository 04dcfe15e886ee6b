package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coverdesk/coverdesk/internal/db"
	"github.com/coverdesk/coverdesk/internal/httpserver"
	"github.com/coverdesk/coverdesk/pkg/tenant"
)

const campaignColumns = `id, tenant_id, name, template_id, status, pacing,
	scheduled_at, respect_working_hours, working_hours_start, working_hours_end,
	total_contacts, sent_count, failed_count, created_at, updated_at`

// Store provides access to campaigns and campaign messages. CRUD is
// tenant-scoped; dispatcher paths run across tenants.
type Store struct {
	db db.DBTX
}

func NewStore(dbtx db.DBTX) *Store {
	return &Store{db: dbtx}
}

type row interface {
	Scan(dest ...any) error
}

func scanCampaign(r row) (*Campaign, error) {
	var c Campaign
	err := r.Scan(&c.ID, &c.TenantID, &c.Name, &c.TemplateID, &c.Status, &c.Pacing,
		&c.ScheduledAt, &c.RespectWorkingHours, &c.WorkingHoursStart, &c.WorkingHoursEnd,
		&c.TotalContacts, &c.SentCount, &c.FailedCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) Create(ctx context.Context, req CreateRequest) (*Campaign, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}
	status := StatusDraft
	if req.ScheduledAt != nil {
		status = StatusScheduled
	}
	c, err := scanCampaign(s.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO campaigns (id, tenant_id, name, template_id, status, pacing,
			scheduled_at, respect_working_hours, working_hours_start, working_hours_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING %s`, campaignColumns),
		uuid.New(), tenantID, req.Name, req.TemplateID, status, req.Pacing,
		req.ScheduledAt, req.RespectWorkingHours, req.WorkingHoursStart, req.WorkingHoursEnd))
	if err != nil {
		return nil, fmt.Errorf("insert campaign: %w", err)
	}
	return c, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	filter := tenant.ScopedFilter(ctx)
	clause, args := filter.Clause(2)
	c, err := scanCampaign(s.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM campaigns WHERE id = $1 AND %s`, campaignColumns, clause),
		append([]any{id}, args...)...))
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (s *Store) List(ctx context.Context, page httpserver.PageParams) ([]Campaign, int, error) {
	filter := tenant.ScopedFilter(ctx)
	clause, args := filter.Clause(1)

	var total int
	if err := s.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT count(*) FROM campaigns WHERE %s`, clause), args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM campaigns WHERE %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, campaignColumns, clause, len(args)+1, len(args)+2),
		append(args, page.PerPage, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

// Update rewrites a campaign's settings. Only DRAFT and SCHEDULED campaigns
// may change; anything already dispatched is immutable.
func (s *Store) Update(ctx context.Context, id uuid.UUID, req CreateRequest) (*Campaign, error) {
	filter := tenant.ScopedFilter(ctx)
	clause, args := filter.Clause(10)
	status := StatusDraft
	if req.ScheduledAt != nil {
		status = StatusScheduled
	}
	c, err := scanCampaign(s.db.QueryRow(ctx, fmt.Sprintf(`
		UPDATE campaigns
		SET name = $1, template_id = $2, status = $3, pacing = $4, scheduled_at = $5,
			respect_working_hours = $6, working_hours_start = $7, working_hours_end = $8,
			updated_at = now()
		WHERE id = $9 AND status IN ('DRAFT', 'SCHEDULED') AND %s
		RETURNING %s`, clause, campaignColumns),
		append([]any{req.Name, req.TemplateID, status, req.Pacing, req.ScheduledAt,
			req.RespectWorkingHours, req.WorkingHoursStart, req.WorkingHoursEnd, id}, args...)...))
	if err != nil {
		return nil, fmt.Errorf("update campaign: %w", err)
	}
	return c, nil
}

// SetStatus transitions a campaign only from the expected prior statuses,
// returning false when the transition did not apply.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, to string, from ...string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE campaigns SET status = $1, updated_at = now()
		WHERE id = $2 AND status = ANY($3)`,
		to, id, from)
	if err != nil {
		return false, fmt.Errorf("set campaign status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Running returns every RUNNING campaign across all tenants. Worker path.
func (s *Store) Running(ctx context.Context) ([]Campaign, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM campaigns WHERE status = $1 ORDER BY created_at`, campaignColumns),
		StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("running campaigns: %w", err)
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// DueScheduled returns SCHEDULED campaigns whose start time has passed.
func (s *Store) DueScheduled(ctx context.Context, now time.Time) ([]Campaign, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM campaigns
		WHERE status = $1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
		ORDER BY scheduled_at`, campaignColumns),
		StatusScheduled, now)
	if err != nil {
		return nil, fmt.Errorf("due campaigns: %w", err)
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Materialize snapshots the tenant's reachable leads into PENDING message
// rows and stamps the campaign's total. The target list is fixed at this
// moment; leads created later are not picked up.
func (s *Store) Materialize(ctx context.Context, c *Campaign) (int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, phone FROM leads
		WHERE tenant_id = $1 AND phone IS NOT NULL AND phone != ''`,
		c.TenantID)
	if err != nil {
		return 0, fmt.Errorf("loading campaign targets: %w", err)
	}
	defer rows.Close()

	type target struct {
		leadID uuid.UUID
		phone  string
	}
	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.leadID, &t.phone); err != nil {
			return 0, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, t := range targets {
		if _, err := s.db.Exec(ctx, `
			INSERT INTO campaign_messages (id, tenant_id, campaign_id, lead_id, phone, status)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(), c.TenantID, c.ID, t.leadID, t.phone, MessagePending); err != nil {
			return 0, fmt.Errorf("insert campaign message: %w", err)
		}
	}

	if _, err := s.db.Exec(ctx, `
		UPDATE campaigns SET total_contacts = $1, updated_at = now() WHERE id = $2`,
		len(targets), c.ID); err != nil {
		return 0, fmt.Errorf("stamp campaign total: %w", err)
	}
	c.TotalContacts = len(targets)
	return len(targets), nil
}

// ClaimPending returns the next batch of PENDING messages for a campaign.
func (s *Store) ClaimPending(ctx context.Context, campaignID uuid.UUID, limit int) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, tenant_id, campaign_id, lead_id, phone, status, external_id, delivery_status, error, sent_at, created_at
		FROM campaign_messages
		WHERE campaign_id = $1 AND status = $2
		ORDER BY created_at LIMIT $3`,
		campaignID, MessagePending, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.TenantID, &m.CampaignID, &m.LeadID, &m.Phone,
			&m.Status, &m.ExternalID, &m.DeliveryStatus, &m.Error, &m.SentAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan campaign message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkSent records a successful send and bumps the campaign counter.
func (s *Store) MarkSent(ctx context.Context, msgID uuid.UUID, externalID string) error {
	var campaignID uuid.UUID
	err := s.db.QueryRow(ctx, `
		UPDATE campaign_messages
		SET status = $1, external_id = $2, sent_at = now()
		WHERE id = $3
		RETURNING campaign_id`,
		MessageSent, externalID, msgID).Scan(&campaignID)
	if err != nil {
		return fmt.Errorf("mark message sent: %w", err)
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE campaigns SET sent_count = sent_count + 1, updated_at = now() WHERE id = $1`,
		campaignID); err != nil {
		return fmt.Errorf("bump sent count: %w", err)
	}
	return nil
}

// MarkFailed records a failed send and bumps the campaign counter. There is
// no automatic retry.
func (s *Store) MarkFailed(ctx context.Context, msgID uuid.UUID, sendErr string) error {
	var campaignID uuid.UUID
	err := s.db.QueryRow(ctx, `
		UPDATE campaign_messages
		SET status = $1, error = $2
		WHERE id = $3
		RETURNING campaign_id`,
		MessageFailed, sendErr, msgID).Scan(&campaignID)
	if err != nil {
		return fmt.Errorf("mark message failed: %w", err)
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE campaigns SET failed_count = failed_count + 1, updated_at = now() WHERE id = $1`,
		campaignID); err != nil {
		return fmt.Errorf("bump failed count: %w", err)
	}
	return nil
}

// PendingCount counts remaining PENDING messages for a campaign.
func (s *Store) PendingCount(ctx context.Context, campaignID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM campaign_messages WHERE campaign_id = $1 AND status = $2`,
		campaignID, MessagePending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending messages: %w", err)
	}
	return n, nil
}

// RecordStatus updates a message's delivery status from a platform webhook
// notification, addressed by platform message id. Unknown ids are ignored.
func (s *Store) RecordStatus(ctx context.Context, externalID, status string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE campaign_messages SET delivery_status = $1 WHERE external_id = $2`,
		status, externalID)
	if err != nil {
		return fmt.Errorf("record delivery status: %w", err)
	}
	return nil
}

// Messages lists a campaign's per-recipient rows. Tenant-scoped.
func (s *Store) Messages(ctx context.Context, campaignID uuid.UUID, page httpserver.PageParams) ([]Message, int, error) {
	filter := tenant.ScopedFilter(ctx)
	clause, args := filter.Clause(2)

	var total int
	if err := s.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT count(*) FROM campaign_messages WHERE campaign_id = $1 AND %s`, clause),
		append([]any{campaignID}, args...)...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaign messages: %w", err)
	}

	fullArgs := append([]any{campaignID}, args...)
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT id, tenant_id, campaign_id, lead_id, phone, status, external_id, delivery_status, error, sent_at, created_at
		FROM campaign_messages WHERE campaign_id = $1 AND %s
		ORDER BY created_at LIMIT $%d OFFSET $%d`, clause, len(fullArgs)+1, len(fullArgs)+2),
		append(fullArgs, page.PerPage, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaign messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.TenantID, &m.CampaignID, &m.LeadID, &m.Phone,
			&m.Status, &m.ExternalID, &m.DeliveryStatus, &m.Error, &m.SentAt, &m.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan campaign message: %w", err)
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}
