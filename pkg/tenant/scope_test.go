package tenant

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestFromContextAbsent(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
}

func TestContextRoundTrip(t *testing.T) {
	tid := uuid.New()
	caller := uuid.New()
	ctx := NewContext(context.Background(), Context{TenantID: &tid, CallerID: caller})

	tc := FromContext(ctx)
	if assert.NotNil(t, tc) {
		assert.Equal(t, tid, *tc.TenantID)
		assert.Equal(t, caller, tc.CallerID)
		assert.False(t, tc.IsSuperAdmin)
	}
}

func TestScopedFilterNoContextFailsClosed(t *testing.T) {
	f := ScopedFilter(context.Background())
	cond, args := f.Clause(1)
	assert.Equal(t, "FALSE", cond)
	assert.Empty(t, args)
}

func TestScopedFilterMissingTenantFailsClosed(t *testing.T) {
	ctx := NewContext(context.Background(), Context{CallerID: uuid.New()})
	cond, args := ScopedFilter(ctx).Clause(1)
	assert.Equal(t, "FALSE", cond)
	assert.Empty(t, args)
}

func TestScopedFilterSuperAdminBypass(t *testing.T) {
	ctx := NewContext(context.Background(), Context{CallerID: uuid.New(), IsSuperAdmin: true})
	cond, args := ScopedFilter(ctx).Clause(1)
	assert.Equal(t, "TRUE", cond)
	assert.Empty(t, args)
}

func TestScopedFilterTenantClause(t *testing.T) {
	tid := uuid.New()
	ctx := NewContext(context.Background(), Context{TenantID: &tid, CallerID: uuid.New()})

	cond, args := ScopedFilter(ctx).Clause(3)
	assert.Equal(t, "tenant_id = $3", cond)
	if assert.Len(t, args, 1) {
		assert.Equal(t, tid, args[0])
	}
}

func TestTenantIDRequiresContext(t *testing.T) {
	_, err := TenantID(context.Background())
	assert.Error(t, err)

	tid := uuid.New()
	ctx := NewContext(context.Background(), Context{TenantID: &tid, CallerID: uuid.New()})
	got, err := TenantID(ctx)
	assert.NoError(t, err)
	assert.Equal(t, tid, got)
}

func TestAssertOwnershipRejectsUnknownTable(t *testing.T) {
	_, err := AssertOwnership(context.Background(), nil, "pg_catalog.pg_tables", uuid.New())
	assert.Error(t, err)
}
