package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSessionManager(t *testing.T, maxAge time.Duration) *SessionManager {
	t.Helper()
	sm, err := NewSessionManager(GenerateDevSecret(), maxAge)
	require.NoError(t, err)
	return sm
}

func TestNewSessionManagerRejectsShortSecret(t *testing.T) {
	_, err := NewSessionManager("short", time.Hour)
	assert.Error(t, err)
}

func TestSessionTokenRoundTrip(t *testing.T) {
	sm := newTestSessionManager(t, time.Hour)

	tid := uuid.New()
	in := Identity{
		UserID:   uuid.New(),
		TenantID: &tid,
		Email:    "agent@acme.test",
		Role:     "manager",
	}

	token, err := sm.IssueToken(in)
	require.NoError(t, err)

	out, err := sm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, in.UserID, out.UserID)
	assert.Equal(t, tid, *out.TenantID)
	assert.Equal(t, "agent@acme.test", out.Email)
	assert.Equal(t, "manager", out.Role)
	assert.False(t, out.IsSuperAdmin)
}

func TestSessionTokenSuperAdmin(t *testing.T) {
	sm := newTestSessionManager(t, time.Hour)

	token, err := sm.IssueToken(Identity{UserID: uuid.New(), Email: "root@coverdesk.test", IsSuperAdmin: true})
	require.NoError(t, err)

	out, err := sm.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, out.IsSuperAdmin)
	assert.Nil(t, out.TenantID)
}

func TestSessionTokenExpiry(t *testing.T) {
	sm := newTestSessionManager(t, -time.Minute)

	token, err := sm.IssueToken(Identity{UserID: uuid.New()})
	require.NoError(t, err)

	_, err = sm.ValidateToken(token)
	assert.Error(t, err)
}

func TestSessionTokenWrongKeyRejected(t *testing.T) {
	sm := newTestSessionManager(t, time.Hour)
	other := newTestSessionManager(t, time.Hour)

	token, err := sm.IssueToken(Identity{UserID: uuid.New()})
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestMiddlewareAttachesIdentity(t *testing.T) {
	sm := newTestSessionManager(t, time.Hour)
	token, err := sm.IssueToken(Identity{UserID: uuid.New(), Email: "a@b.test", Role: "admin"})
	require.NoError(t, err)

	var seen *Identity
	h := Middleware(sm, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), r)

	require.NotNil(t, seen)
	assert.Equal(t, "a@b.test", seen.Email)
}

func TestRequireAuthRejectsAnonymous(t *testing.T) {
	h := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRole(t *testing.T) {
	ok := false
	h := RequireRole("admin", "manager")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok = true
	}))

	// Agent role is rejected.
	r := httptest.NewRequest("GET", "/", nil)
	r = r.WithContext(NewContext(r.Context(), &Identity{UserID: uuid.New(), Role: "agent"}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, ok)

	// Manager passes.
	r = httptest.NewRequest("GET", "/", nil)
	r = r.WithContext(NewContext(r.Context(), &Identity{UserID: uuid.New(), Role: "manager"}))
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.True(t, ok)

	// Super-admin bypasses the role check.
	ok = false
	r = httptest.NewRequest("GET", "/", nil)
	r = r.WithContext(NewContext(r.Context(), &Identity{UserID: uuid.New(), IsSuperAdmin: true}))
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.True(t, ok)
}
