package credential

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/coverdesk/coverdesk/internal/db"
	"github.com/coverdesk/coverdesk/pkg/tenant"
)

// Store provides database operations for credentials.
type Store struct {
	db db.DBTX
}

// NewStore creates a credential Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{db: dbtx}
}

const columns = `id, tenant_id, provider, label, access_token, app_secret,
	phone_number_id, webhook_verify_token, is_default, is_active, created_at, updated_at`

func scan(row interface{ Scan(...any) error }) (Credential, error) {
	var c Credential
	err := row.Scan(&c.ID, &c.TenantID, &c.Provider, &c.Label, &c.AccessToken,
		&c.AppSecret, &c.PhoneNumberID, &c.WebhookVerifyToken,
		&c.IsDefault, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// Create inserts a credential, stamping tenant_id from the current context.
// When isDefault is set, any previous default for the same provider is
// demoted first so at most one default exists per tenant and provider.
func (s *Store) Create(ctx context.Context, c Credential) (Credential, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return Credential{}, err
	}

	if c.IsDefault {
		if _, err := s.db.Exec(ctx, `
			UPDATE credentials SET is_default = FALSE, updated_at = now()
			WHERE tenant_id = $1 AND provider = $2 AND is_default`,
			tenantID, c.Provider); err != nil {
			return Credential{}, fmt.Errorf("demoting previous default: %w", err)
		}
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO credentials (tenant_id, provider, label, access_token, app_secret,
			phone_number_id, webhook_verify_token, is_default, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
		RETURNING `+columns,
		tenantID, c.Provider, c.Label, c.AccessToken, c.AppSecret,
		c.PhoneNumberID, c.WebhookVerifyToken, c.IsDefault)

	out, err := scan(row)
	if err != nil {
		return Credential{}, fmt.Errorf("creating credential: %w", err)
	}
	return out, nil
}

// List returns the tenant's credentials, optionally filtered by provider.
func (s *Store) List(ctx context.Context, provider string) ([]Credential, error) {
	cond, args := tenant.ScopedFilter(ctx).Clause(1)
	sql := "SELECT " + columns + " FROM credentials WHERE " + cond
	if provider != "" {
		sql += fmt.Sprintf(" AND provider = $%d", len(args)+1)
		args = append(args, provider)
	}
	sql += " ORDER BY created_at"

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Get loads one credential within the current tenant scope.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Credential, error) {
	cond, args := tenant.ScopedFilter(ctx).Clause(2)
	row := s.db.QueryRow(ctx,
		"SELECT "+columns+" FROM credentials WHERE id = $1 AND "+cond,
		append([]any{id}, args...)...)
	return scan(row)
}

// GetByID loads a credential without tenant scoping. This is the webhook
// entry path: the credential id in the webhook URL is what identifies the
// tenant, so no tenant context exists yet. Callers must re-validate the
// resolved tenant's status before establishing context.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (Credential, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+columns+" FROM credentials WHERE id = $1 AND is_active", id)
	return scan(row)
}

// GetDefault loads the active default credential for a tenant and provider.
// Takes an explicit tenant id because background engines resolve credentials
// for the tenant of the row they are processing.
func (s *Store) GetDefault(ctx context.Context, tenantID uuid.UUID, provider string) (Credential, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+columns+` FROM credentials
		WHERE tenant_id = $1 AND provider = $2 AND is_default AND is_active`,
		tenantID, provider)
	return scan(row)
}

// Delete removes a credential within the current tenant scope.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	cond, args := tenant.ScopedFilter(ctx).Clause(2)
	_, err := s.db.Exec(ctx,
		"DELETE FROM credentials WHERE id = $1 AND "+cond,
		append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}
