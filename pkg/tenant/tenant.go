// Package tenant owns tenant identity: the request-scoped tenant context,
// the tenant-scoped query filter every store goes through, and the tenant
// lifecycle (signup, trial expiry, activation).
package tenant

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Tenant status values.
const (
	StatusTrial     = "trial"
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusCancelled = "cancelled"
)

// User roles within a tenant.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleAgent   = "agent"
)

// Context carries the identity of the current execution. It is established
// once per inbound request or background task and read implicitly by every
// store through ScopedFilter.
type Context struct {
	TenantID     *uuid.UUID
	CallerID     uuid.UUID
	IsSuperAdmin bool
}

type contextKey string

const tenantKey contextKey = "tenant_context"

// NewContext binds a tenant context to ctx for the remainder of the execution.
func NewContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, tenantKey, tc)
}

// FromContext extracts the tenant context. Returns nil outside an
// established scope.
func FromContext(ctx context.Context) *Context {
	if v, ok := ctx.Value(tenantKey).(Context); ok {
		return &v
	}
	return nil
}

// Tenant is an isolated customer organization, the unit of data partitioning.
type Tenant struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Subdomain   string          `json:"subdomain"`
	Status      string          `json:"status"`
	Plan        string          `json:"plan"`
	TrialEndsAt time.Time       `json:"trial_ends_at"`
	Settings    json.RawMessage `json:"settings,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// User is an agent or admin belonging to a tenant. Super-admin users have no
// tenant and operate across all of them.
type User struct {
	ID           uuid.UUID  `json:"id"`
	TenantID     *uuid.UUID `json:"tenant_id,omitempty"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	DisplayName  string     `json:"display_name"`
	Role         string     `json:"role"`
	IsSuperAdmin bool       `json:"is_super_admin"`
	CreatedAt    time.Time  `json:"created_at"`
}

// SignupRequest is the JSON body for POST /signup.
type SignupRequest struct {
	Name          string `json:"name" validate:"required,min=2,max=100"`
	Subdomain     string `json:"subdomain" validate:"required,min=2,max=63,lowercase,alphanum"`
	AdminEmail    string `json:"admin_email" validate:"required,email"`
	AdminPassword string `json:"admin_password" validate:"required,min=8"`
	AdminName     string `json:"admin_name" validate:"required,min=1,max=100"`
}

// SignupResponse returns the created tenant and admin user.
type SignupResponse struct {
	Tenant Tenant `json:"tenant"`
	Admin  User   `json:"admin"`
}
