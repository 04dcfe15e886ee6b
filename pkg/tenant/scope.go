package tenant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/coverdesk/coverdesk/internal/db"
)

// Filter is the tenant predicate for the current execution. Stores splice it
// into every read of a tenant-scoped table; it is the single choke point
// preventing cross-tenant disclosure.
type Filter struct {
	// all matches every row (super-admin bypass).
	all bool
	// tenantID is the tenant to scope to; nil with all=false fails closed.
	tenantID *uuid.UUID
}

// ScopedFilter derives the tenant filter from the current context.
// With no established context, or an established context lacking a tenant,
// the filter matches zero rows and a security warning is logged — scoped
// reads never silently widen to all tenants.
func ScopedFilter(ctx context.Context) Filter {
	tc := FromContext(ctx)
	if tc == nil {
		slog.Warn("scoped query without tenant context, failing closed")
		return Filter{}
	}
	if tc.IsSuperAdmin {
		return Filter{all: true}
	}
	if tc.TenantID == nil {
		slog.Warn("scoped query with no tenant id, failing closed",
			"caller_id", tc.CallerID)
		return Filter{}
	}
	return Filter{tenantID: tc.TenantID}
}

// Clause renders the filter as SQL. argIndex is the 1-based positional index
// the first argument should use; the returned args slice is empty for the
// TRUE and FALSE forms.
func (f Filter) Clause(argIndex int) (string, []any) {
	switch {
	case f.all:
		return "TRUE", nil
	case f.tenantID != nil:
		return fmt.Sprintf("tenant_id = $%d", argIndex), []any{*f.tenantID}
	default:
		// Fail-closed sentinel: matches zero rows.
		return "FALSE", nil
	}
}

// TenantID returns the tenant id writes must stamp on new rows. The gateway
// injects the filter only on reads; creators set tenant_id explicitly, and
// this errors when the context cannot supply one.
func TenantID(ctx context.Context) (uuid.UUID, error) {
	tc := FromContext(ctx)
	if tc == nil || tc.TenantID == nil {
		return uuid.Nil, fmt.Errorf("no tenant in context")
	}
	return *tc.TenantID, nil
}

// ownedTables is the closed set of tables AssertOwnership may touch. Table
// names never come from request input.
var ownedTables = map[string]bool{
	"credentials":      true,
	"leads":            true,
	"conversations":    true,
	"chat_messages":    true,
	"templates":        true,
	"labels":           true,
	"label_events":     true,
	"automation_rules": true,
	"campaigns":        true,
	"users":            true,
}

// AssertOwnership loads the entity's tenant_id and compares it with the
// current context. Used before mutating individually-addressed resources.
// Super-admin contexts always pass.
func AssertOwnership(ctx context.Context, dbtx db.DBTX, table string, id uuid.UUID) (bool, error) {
	if !ownedTables[table] {
		return false, fmt.Errorf("table %q is not tenant-scoped", table)
	}

	tc := FromContext(ctx)
	if tc == nil {
		slog.Warn("ownership assertion without tenant context", "table", table, "id", id)
		return false, nil
	}
	if tc.IsSuperAdmin {
		return true, nil
	}
	if tc.TenantID == nil {
		slog.Warn("ownership assertion with no tenant id", "table", table, "id", id,
			"caller_id", tc.CallerID)
		return false, nil
	}

	var rowTenant uuid.UUID
	err := dbtx.QueryRow(ctx,
		fmt.Sprintf("SELECT tenant_id FROM %s WHERE id = $1", table), id,
	).Scan(&rowTenant)
	if err != nil {
		return false, fmt.Errorf("loading tenant_id from %s: %w", table, err)
	}

	if rowTenant != *tc.TenantID {
		slog.Warn("cross-tenant access denied",
			"table", table, "id", id,
			"row_tenant", rowTenant, "ctx_tenant", *tc.TenantID)
		return false, nil
	}
	return true, nil
}
