package audit

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/coverdesk/coverdesk/internal/auth"
	"github.com/coverdesk/coverdesk/pkg/tenant"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.2")

	assert.Equal(t, "203.0.113.7", clientIP(r).String())
}

func TestClientIPRealIPFallback(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Real-IP", "198.51.100.9")

	assert.Equal(t, "198.51.100.9", clientIP(r).String())
}

func TestClientIPRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.4:5555"

	assert.Equal(t, "192.0.2.4", clientIP(r).String())
}

func TestLogFromRequestCapturesContext(t *testing.T) {
	w := NewWriter(nil, discardLogger())

	tid := uuid.New()
	uid := uuid.New()

	r := httptest.NewRequest("POST", "/api/v1/campaigns", nil)
	ctx := tenant.NewContext(r.Context(), tenant.Context{TenantID: &tid, CallerID: uid})
	ctx = auth.NewContext(ctx, &auth.Identity{UserID: uid})
	r = r.WithContext(ctx)
	r.Header.Set("User-Agent", "test-agent")

	w.LogFromRequest(r, "create", "campaign", uuid.New(), nil)

	e := <-w.entries
	assert.Equal(t, tid, *e.TenantID)
	assert.Equal(t, uid, *e.UserID)
	assert.Equal(t, "create", e.Action)
	assert.Equal(t, "campaign", e.Resource)
	assert.Equal(t, "test-agent", *e.UserAgent)
}

func TestLogDropsWhenBufferFull(t *testing.T) {
	w := NewWriter(nil, discardLogger())

	for i := 0; i < bufferSize+10; i++ {
		w.Log(Entry{Action: "create", Resource: "lead"})
	}

	// The buffer holds exactly bufferSize entries; the rest were dropped,
	// not blocked on.
	assert.Len(t, w.entries, bufferSize)
}
