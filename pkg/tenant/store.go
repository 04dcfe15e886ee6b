package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coverdesk/coverdesk/internal/db"
)

// Store provides database operations for tenants and their users.
// The tenants table is global (not tenant-scoped); user reads are scoped.
type Store struct {
	db db.DBTX
}

// NewStore creates a tenant Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{db: dbtx}
}

const tenantColumns = "id, name, subdomain, status, plan, trial_ends_at, settings, created_at, updated_at"

func scanTenant(row interface{ Scan(...any) error }) (Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Subdomain, &t.Status, &t.Plan,
		&t.TrialEndsAt, &t.Settings, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// Create inserts a new tenant in trial status.
func (s *Store) Create(ctx context.Context, name, subdomain string, trialEndsAt time.Time) (Tenant, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO tenants (name, subdomain, status, plan, trial_ends_at, settings)
		VALUES ($1, $2, $3, 'starter', $4, '{}')
		RETURNING `+tenantColumns,
		name, subdomain, StatusTrial, trialEndsAt)

	t, err := scanTenant(row)
	if err != nil {
		return Tenant{}, fmt.Errorf("creating tenant: %w", err)
	}
	return t, nil
}

// Get loads a tenant by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Tenant, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+tenantColumns+" FROM tenants WHERE id = $1", id)
	return scanTenant(row)
}

// GetBySubdomain loads a tenant by its subdomain.
func (s *Store) GetBySubdomain(ctx context.Context, subdomain string) (Tenant, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+tenantColumns+" FROM tenants WHERE subdomain = $1", subdomain)
	return scanTenant(row)
}

// List returns all tenants. Used by background engines iterating per tenant.
func (s *Store) List(ctx context.Context) ([]Tenant, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+tenantColumns+" FROM tenants ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateStatus transitions a tenant's lifecycle status.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.db.Exec(ctx,
		"UPDATE tenants SET status = $2, updated_at = now() WHERE id = $1", id, status)
	if err != nil {
		return fmt.Errorf("updating tenant status: %w", err)
	}
	return nil
}

// UpdateSettings replaces the tenant's settings bag.
func (s *Store) UpdateSettings(ctx context.Context, id uuid.UUID, settings json.RawMessage) error {
	_, err := s.db.Exec(ctx,
		"UPDATE tenants SET settings = $2, updated_at = now() WHERE id = $1", id, settings)
	if err != nil {
		return fmt.Errorf("updating tenant settings: %w", err)
	}
	return nil
}

const userColumns = "id, tenant_id, email, password_hash, display_name, role, is_super_admin, created_at"

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.PasswordHash,
		&u.DisplayName, &u.Role, &u.IsSuperAdmin, &u.CreatedAt)
	return u, err
}

// CreateUser inserts a user under the given tenant.
func (s *Store) CreateUser(ctx context.Context, tenantID uuid.UUID, email, passwordHash, displayName, role string) (User, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO users (tenant_id, email, password_hash, display_name, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		tenantID, email, passwordHash, displayName, role)

	u, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}

// GetUserByEmail loads a user by email for login. Lookup is global because
// login happens before a tenant context exists; the session binds the
// caller to the user's own tenant.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = $1", email)
	return scanUser(row)
}

// GetUser loads a user by id within the current tenant scope.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	cond, args := ScopedFilter(ctx).Clause(2)
	row := s.db.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1 AND "+cond,
		append([]any{id}, args...)...)
	return scanUser(row)
}
