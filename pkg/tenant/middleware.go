package tenant

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/coverdesk/coverdesk/internal/httpserver"
)

// Identity is the authenticated caller the middleware binds to a tenant.
type Identity struct {
	CallerID     uuid.UUID
	TenantID     *uuid.UUID
	IsSuperAdmin bool
}

// Resolver produces the caller identity for a request. Implemented by the
// auth layer; an interface here keeps tenant free of an auth import cycle.
type Resolver interface {
	Resolve(r *http.Request) (Identity, error)
}

// Middleware establishes the tenant context for authenticated API traffic.
// It re-validates tenant status on every request: expired trials are
// suspended and rejected, suspended and cancelled tenants are rejected.
func Middleware(svc *Service, resolver Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolver.Resolve(r)
			if err != nil {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}

			if id.IsSuperAdmin {
				ctx := NewContext(r.Context(), Context{
					CallerID:     id.CallerID,
					IsSuperAdmin: true,
				})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if id.TenantID == nil {
				logger.Warn("authenticated caller without tenant", "caller_id", id.CallerID)
				httpserver.RespondError(w, http.StatusForbidden, "forbidden", "no tenant for caller")
				return
			}

			if _, err := svc.CheckActive(r.Context(), *id.TenantID); err != nil {
				switch {
				case errors.Is(err, ErrTrialExpired):
					httpserver.RespondError(w, http.StatusForbidden, "trial_expired",
						"your trial period has ended; activate a plan to continue")
				case errors.Is(err, ErrTenantInactive):
					httpserver.RespondError(w, http.StatusForbidden, "tenant_inactive",
						"this workspace is suspended or cancelled")
				default:
					logger.Error("checking tenant status", "error", err, "tenant_id", *id.TenantID)
					httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "tenant lookup failed")
				}
				return
			}

			ctx := NewContext(r.Context(), Context{
				TenantID: id.TenantID,
				CallerID: id.CallerID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
