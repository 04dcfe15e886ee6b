package template

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/coverdesk/coverdesk/internal/db"
	"github.com/coverdesk/coverdesk/internal/httpserver"
	"github.com/coverdesk/coverdesk/pkg/tenant"
)

// Store provides tenant-scoped access to templates.
type Store struct {
	db db.DBTX
}

func NewStore(dbtx db.DBTX) *Store {
	return &Store{db: dbtx}
}

func (s *Store) Create(ctx context.Context, req CreateRequest) (*Template, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}
	var t Template
	err = s.db.QueryRow(ctx, `
		INSERT INTO templates (id, tenant_id, name, language, category, body, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, tenant_id, name, language, category, body, status, created_at, updated_at`,
		uuid.New(), tenantID, req.Name, req.Language, req.Category, req.Body, StatusPending,
	).Scan(&t.ID, &t.TenantID, &t.Name, &t.Language, &t.Category, &t.Body, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}
	return &t, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Template, error) {
	filter := tenant.ScopedFilter(ctx)
	clause, args := filter.Clause(2)
	var t Template
	err := s.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, tenant_id, name, language, category, body, status, created_at, updated_at
		FROM templates WHERE id = $1 AND %s`, clause),
		append([]any{id}, args...)...,
	).Scan(&t.ID, &t.TenantID, &t.Name, &t.Language, &t.Category, &t.Body, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}

func (s *Store) List(ctx context.Context, page httpserver.PageParams) ([]Template, int, error) {
	filter := tenant.ScopedFilter(ctx)
	clause, args := filter.Clause(1)

	var total int
	if err := s.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT count(*) FROM templates WHERE %s`, clause), args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count templates: %w", err)
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT id, tenant_id, name, language, category, body, status, created_at, updated_at
		FROM templates WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, clause, len(args)+1, len(args)+2),
		append(args, page.PerPage, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Name, &t.Language, &t.Category, &t.Body, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// UpdateStatus records a provider approval decision.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*Template, error) {
	filter := tenant.ScopedFilter(ctx)
	clause, args := filter.Clause(3)
	var t Template
	err := s.db.QueryRow(ctx, fmt.Sprintf(`
		UPDATE templates SET status = $1, updated_at = now()
		WHERE id = $2 AND %s
		RETURNING id, tenant_id, name, language, category, body, status, created_at, updated_at`, clause),
		append([]any{status, id}, args...)...,
	).Scan(&t.ID, &t.TenantID, &t.Name, &t.Language, &t.Category, &t.Body, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update template status: %w", err)
	}
	return &t, nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	filter := tenant.ScopedFilter(ctx)
	clause, args := filter.Clause(2)
	tag, err := s.db.Exec(ctx,
		fmt.Sprintf(`DELETE FROM templates WHERE id = $1 AND %s`, clause),
		append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("template %s not found", id)
	}
	return nil
}

// RequireApproved fails with ErrNotApproved unless the template exists in
// the caller's scope with APPROVED status. Rule and campaign writes call
// this before binding a template.
func (s *Store) RequireApproved(ctx context.Context, id uuid.UUID) (*Template, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusApproved {
		return nil, ErrNotApproved
	}
	return t, nil
}
