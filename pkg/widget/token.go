// Package widget exposes the embeddable chat widget: HMAC-signed widget
// tokens and the public chat endpoint they authorize.
package widget

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

// ErrInvalidToken is the uniform rejection for every verification failure:
// bad signature, expiry, malformed claims, and domain mismatch are
// indistinguishable to the caller.
var ErrInvalidToken = errors.New("invalid widget token")

// widgetClaims are the custom claims in a widget token.
type widgetClaims struct {
	TenantID string   `json:"tenant_id"`
	WidgetID string   `json:"widget_id"`
	Domains  []string `json:"domains,omitempty"`
}

// TokenIssuer mints and verifies widget tokens with HMAC-SHA256.
type TokenIssuer struct {
	signingKey []byte
	ttl        time.Duration
}

// NewTokenIssuer creates a token issuer. The secret must be at least 32 bytes.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("widget token secret must be at least 32 bytes, got %d", len(secret))
	}
	return &TokenIssuer{signingKey: []byte(secret), ttl: ttl}, nil
}

// Issue creates a signed widget token binding a tenant, a widget instance,
// and optionally the domains the widget may be embedded on.
func (i *TokenIssuer) Issue(tenantID uuid.UUID, widgetID string, domains []string) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: i.signingKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}

	now := time.Now()
	std := jwt.Claims{
		Subject:  widgetID,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(i.ttl)),
		Issuer:   "coverdesk-widget",
	}
	custom := widgetClaims{
		TenantID: tenantID.String(),
		WidgetID: widgetID,
		Domains:  domains,
	}

	token, err := jwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

// Verify checks signature, expiry, and the embedding domain, and returns
// the tenant the token belongs to. Every failure mode returns
// ErrInvalidToken; callers learn nothing about why.
func (i *TokenIssuer) Verify(raw, requestDomain string) (uuid.UUID, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}

	var std jwt.Claims
	var custom widgetClaims
	if err := tok.Claims(i.signingKey, &std, &custom); err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	if err := std.Validate(jwt.Expected{Time: time.Now()}); err != nil {
		return uuid.Nil, ErrInvalidToken
	}

	tenantID, err := uuid.Parse(custom.TenantID)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}

	if len(custom.Domains) > 0 && !domainAllowed(requestDomain, custom.Domains) {
		return uuid.Nil, ErrInvalidToken
	}
	return tenantID, nil
}

func domainAllowed(domain string, allowed []string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSpace(a), domain) {
			return true
		}
	}
	return false
}
