package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

// SessionClaims are the custom claims embedded in a session JWT.
type SessionClaims struct {
	Email        string `json:"email"`
	Role         string `json:"role"`
	TenantID     string `json:"tenant_id,omitempty"`
	IsSuperAdmin bool   `json:"is_super_admin,omitempty"`
}

// SessionManager issues and validates self-signed session JWTs using HMAC-SHA256.
type SessionManager struct {
	signingKey []byte
	maxAge     time.Duration
}

// NewSessionManager creates a session manager. The secret must be at least 32 bytes.
func NewSessionManager(secret string, maxAge time.Duration) (*SessionManager, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("session secret must be at least 32 bytes, got %d", len(secret))
	}
	return &SessionManager{
		signingKey: []byte(secret),
		maxAge:     maxAge,
	}, nil
}

// GenerateDevSecret generates a random 32-byte hex-encoded secret for dev mode.
func GenerateDevSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}

// IssueToken creates a signed session JWT for the given identity.
func (m *SessionManager) IssueToken(id Identity) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: m.signingKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("creating signer: %w", err)
	}

	now := time.Now()
	std := jwt.Claims{
		Subject:  id.UserID.String(),
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(m.maxAge)),
		Issuer:   "coverdesk",
	}
	custom := SessionClaims{
		Email:        id.Email,
		Role:         id.Role,
		IsSuperAdmin: id.IsSuperAdmin,
	}
	if id.TenantID != nil {
		custom.TenantID = id.TenantID.String()
	}

	token, err := jwt.Signed(signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

// ValidateToken verifies the signature and expiry of a session JWT and
// reconstructs the caller identity.
func (m *SessionManager) ValidateToken(raw string) (*Identity, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	var std jwt.Claims
	var custom SessionClaims
	if err := tok.Claims(m.signingKey, &std, &custom); err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	if err := std.Validate(jwt.Expected{Time: time.Now()}); err != nil {
		return nil, fmt.Errorf("validating claims: %w", err)
	}

	userID, err := uuid.Parse(std.Subject)
	if err != nil {
		return nil, fmt.Errorf("parsing subject: %w", err)
	}

	id := &Identity{
		UserID:       userID,
		Email:        custom.Email,
		Role:         custom.Role,
		IsSuperAdmin: custom.IsSuperAdmin,
	}
	if custom.TenantID != "" {
		tid, err := uuid.Parse(custom.TenantID)
		if err != nil {
			return nil, fmt.Errorf("parsing tenant id: %w", err)
		}
		id.TenantID = &tid
	}
	return id, nil
}
