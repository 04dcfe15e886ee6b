package tenant

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// fakeStore is an in-memory lifecycleStore.
type fakeStore struct {
	tenants map[uuid.UUID]Tenant
	users   []User
}

func newFakeStore() *fakeStore {
	return &fakeStore{tenants: make(map[uuid.UUID]Tenant)}
}

func (f *fakeStore) Create(_ context.Context, name, subdomain string, trialEndsAt time.Time) (Tenant, error) {
	t := Tenant{
		ID:          uuid.New(),
		Name:        name,
		Subdomain:   subdomain,
		Status:      StatusTrial,
		Plan:        "starter",
		TrialEndsAt: trialEndsAt,
		CreatedAt:   time.Now(),
	}
	f.tenants[t.ID] = t
	return t, nil
}

func (f *fakeStore) CreateUser(_ context.Context, tenantID uuid.UUID, email, hash, name, role string) (User, error) {
	u := User{ID: uuid.New(), TenantID: &tenantID, Email: email, PasswordHash: hash, DisplayName: name, Role: role}
	f.users = append(f.users, u)
	return u, nil
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID) (Tenant, error) {
	return f.tenants[id], nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	t := f.tenants[id]
	t.Status = status
	f.tenants[id] = t
	return nil
}

func newTestService(store *fakeStore) *Service {
	return &Service{store: store, logger: slog.Default(), now: time.Now}
}

func TestSignupCreatesTrialTenantAndAdmin(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	resp, err := svc.Signup(context.Background(), SignupRequest{
		Name:          "Acme",
		Subdomain:     "acme",
		AdminEmail:    "admin@acme.test",
		AdminPassword: "hunter2hunter2",
		AdminName:     "Ada",
	}, 30*24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, StatusTrial, resp.Tenant.Status)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), resp.Tenant.TrialEndsAt, time.Minute)
	assert.Equal(t, RoleAdmin, resp.Admin.Role)

	// Password is stored hashed, never verbatim.
	require.Len(t, store.users, 1)
	assert.NotEqual(t, "hunter2hunter2", store.users[0].PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword(
		[]byte(store.users[0].PasswordHash), []byte("hunter2hunter2")))
}

func TestCheckActiveWithinTrial(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	created, err := store.Create(context.Background(), "Acme", "acme", time.Now().Add(time.Hour))
	require.NoError(t, err)

	got, err := svc.CheckActive(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusTrial, got.Status)
}

func TestCheckActiveExpiredTrialSuspends(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	created, err := store.Create(context.Background(), "Acme", "acme", time.Now().Add(time.Hour))
	require.NoError(t, err)

	// Move the clock past the trial end.
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err = svc.CheckActive(context.Background(), created.ID)
	assert.ErrorIs(t, err, ErrTrialExpired)
	assert.Equal(t, StatusSuspended, store.tenants[created.ID].Status)

	// Subsequent checks see a suspended tenant.
	_, err = svc.CheckActive(context.Background(), created.ID)
	assert.ErrorIs(t, err, ErrTenantInactive)
}

func TestCheckActiveCancelled(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	created, err := store.Create(context.Background(), "Acme", "acme", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(context.Background(), created.ID))

	_, err = svc.CheckActive(context.Background(), created.ID)
	assert.ErrorIs(t, err, ErrTenantInactive)
}
