package widget

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIssuer(t *testing.T, ttl time.Duration) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(strings.Repeat("w", 32), ttl)
	require.NoError(t, err)
	return issuer
}

func TestTokenRoundTrip(t *testing.T) {
	issuer := testIssuer(t, time.Hour)
	tenantID := uuid.New()

	token, err := issuer.Issue(tenantID, "widget-main", []string{"example.com"})
	require.NoError(t, err)

	got, err := issuer.Verify(token, "example.com")
	require.NoError(t, err)
	assert.Equal(t, tenantID, got)
}

func TestTokenWithoutDomainRestriction(t *testing.T) {
	issuer := testIssuer(t, time.Hour)
	tenantID := uuid.New()

	token, err := issuer.Issue(tenantID, "widget-main", nil)
	require.NoError(t, err)

	got, err := issuer.Verify(token, "anything.example")
	require.NoError(t, err)
	assert.Equal(t, tenantID, got)
}

// Every rejection is the same ErrInvalidToken: callers cannot distinguish a
// forged signature from an expired token or a wrong domain.
func TestTokenUniformRejection(t *testing.T) {
	issuer := testIssuer(t, time.Hour)
	tenantID := uuid.New()

	valid, err := issuer.Issue(tenantID, "widget-main", []string{"example.com"})
	require.NoError(t, err)

	otherKey, err := NewTokenIssuer(strings.Repeat("x", 32), time.Hour)
	require.NoError(t, err)
	forged, err := otherKey.Issue(tenantID, "widget-main", nil)
	require.NoError(t, err)

	expiredIssuer := testIssuer(t, -time.Minute)
	expired, err := expiredIssuer.Issue(tenantID, "widget-main", nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		domain string
	}{
		{"garbage", "not-a-jwt", "example.com"},
		{"wrong key", forged, "example.com"},
		{"expired", expired, "example.com"},
		{"domain mismatch", valid, "evil.example"},
		{"empty domain against restricted token", valid, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := issuer.Verify(tc.token, tc.domain)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestTokenDomainMatchingIsCaseInsensitive(t *testing.T) {
	issuer := testIssuer(t, time.Hour)
	token, err := issuer.Issue(uuid.New(), "widget-main", []string{"Example.COM"})
	require.NoError(t, err)

	_, err = issuer.Verify(token, "example.com")
	assert.NoError(t, err)
}
