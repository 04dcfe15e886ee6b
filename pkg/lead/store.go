package lead

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coverdesk/coverdesk/internal/db"
	"github.com/coverdesk/coverdesk/pkg/tenant"
)

// Store provides database operations for leads.
type Store struct {
	db db.DBTX
}

// NewStore creates a lead Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{db: dbtx}
}

const columns = "id, tenant_id, name, email, phone, source, created_at, updated_at"

func scan(row interface{ Scan(...any) error }) (Lead, error) {
	var l Lead
	err := row.Scan(&l.ID, &l.TenantID, &l.Name, &l.Email, &l.Phone, &l.Source,
		&l.CreatedAt, &l.UpdatedAt)
	return l, err
}

// Create inserts a lead, stamping tenant_id from the current context.
func (s *Store) Create(ctx context.Context, name, email, phone, source string) (Lead, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return Lead{}, err
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO leads (tenant_id, name, email, phone, source)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+columns,
		tenantID, name, email, phone, source)

	l, err := scan(row)
	if err != nil {
		return Lead{}, fmt.Errorf("creating lead: %w", err)
	}
	return l, nil
}

// Get loads a lead within the current tenant scope.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Lead, error) {
	cond, args := tenant.ScopedFilter(ctx).Clause(2)
	row := s.db.QueryRow(ctx,
		"SELECT "+columns+" FROM leads WHERE id = $1 AND "+cond,
		append([]any{id}, args...)...)
	return scan(row)
}

// FindByIdentity looks up an existing lead by phone or email within the
// current tenant scope. Returns pgx.ErrNoRows when neither matches.
func (s *Store) FindByIdentity(ctx context.Context, phone, email string) (Lead, error) {
	if phone == "" && email == "" {
		return Lead{}, pgx.ErrNoRows
	}

	cond, args := tenant.ScopedFilter(ctx).Clause(3)
	row := s.db.QueryRow(ctx, `
		SELECT `+columns+` FROM leads
		WHERE ($1 <> '' AND phone = $1 OR $2 <> '' AND email = $2) AND `+cond+`
		ORDER BY created_at DESC LIMIT 1`,
		append([]any{phone, email}, args...)...)
	return scan(row)
}

// FillMissing updates empty identity fields on an existing lead with newly
// extracted values. Existing values are never overwritten.
func (s *Store) FillMissing(ctx context.Context, id uuid.UUID, name, email, phone string) error {
	cond, args := tenant.ScopedFilter(ctx).Clause(5)
	_, err := s.db.Exec(ctx, `
		UPDATE leads SET
			name  = CASE WHEN name  = '' AND $2 <> '' THEN $2 ELSE name  END,
			email = CASE WHEN email = '' AND $3 <> '' THEN $3 ELSE email END,
			phone = CASE WHEN phone = '' AND $4 <> '' THEN $4 ELSE phone END,
			updated_at = now()
		WHERE id = $1 AND `+cond,
		append([]any{id, name, email, phone}, args...)...)
	if err != nil {
		return fmt.Errorf("updating lead: %w", err)
	}
	return nil
}

// List returns a page of the tenant's leads, newest first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Lead, int, error) {
	cond, args := tenant.ScopedFilter(ctx).Clause(1)

	var total int
	if err := s.db.QueryRow(ctx,
		"SELECT count(*) FROM leads WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting leads: %w", err)
	}

	n := len(args)
	rows, err := s.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM leads WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
			columns, cond, n+1, n+2),
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing leads: %w", err)
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		l, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, l)
	}
	return out, total, rows.Err()
}

// Ensure finds a lead matching the extracted identity or creates one.
// It is best-effort: an entirely empty extraction still creates a bare
// lead when force is set (escalation requires a lead to hand the agent).
func (s *Store) Ensure(ctx context.Context, info Info, source string, force bool) (*Lead, error) {
	if info.Empty() && !force {
		return nil, nil
	}

	existing, err := s.FindByIdentity(ctx, info.Phone, info.Email)
	switch {
	case err == nil:
		if err := s.FillMissing(ctx, existing.ID, info.Name, info.Email, info.Phone); err != nil {
			return nil, err
		}
		return &existing, nil
	case errors.Is(err, pgx.ErrNoRows):
		created, err := s.Create(ctx, info.Name, info.Email, info.Phone, source)
		if err != nil {
			return nil, err
		}
		return &created, nil
	default:
		return nil, fmt.Errorf("finding lead: %w", err)
	}
}
