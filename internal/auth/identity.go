// Package auth implements agent authentication: local email/password login,
// self-issued HMAC session tokens, and the request middleware that turns a
// bearer token into a caller identity.
package auth

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/coverdesk/coverdesk/internal/httpserver"
)

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	UserID       uuid.UUID
	TenantID     *uuid.UUID
	Email        string
	Role         string
	IsSuperAdmin bool
}

type contextKey string

const identityKey contextKey = "auth_identity"

// NewContext stores the identity in the context.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity. Returns nil if unauthenticated.
func FromContext(ctx context.Context) *Identity {
	v, _ := ctx.Value(identityKey).(*Identity)
	return v
}

// RequireAuth rejects requests without an authenticated identity.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects callers whose role is not in the allowed set.
// Super-admin callers always pass.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			if !id.IsSuperAdmin && !allowed[id.Role] {
				httpserver.RespondError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
