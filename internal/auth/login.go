package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/coverdesk/coverdesk/internal/httpserver"
	"github.com/coverdesk/coverdesk/pkg/tenant"
)

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is the JSON response for a successful login.
type LoginResponse struct {
	Token string   `json:"token"`
	User  UserInfo `json:"user"`
}

// UserInfo is the public user information returned in auth responses.
type UserInfo struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// LoginHandler handles local email/password login.
type LoginHandler struct {
	sessionMgr *SessionManager
	users      *tenant.Store
	tenants    *tenant.Service
	logger     *slog.Logger
}

// NewLoginHandler creates a login handler.
func NewLoginHandler(sm *SessionManager, users *tenant.Store, tenants *tenant.Service, logger *slog.Logger) *LoginHandler {
	return &LoginHandler{sessionMgr: sm, users: users, tenants: tenants, logger: logger}
}

// Routes returns the public auth routes.
func (h *LoginHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/login", h.handleLogin)
	return r
}

func (h *LoginHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.users.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			h.logger.Error("loading user for login", "error", err)
		}
		// Uniform failure for unknown user and bad password.
		httpserver.RespondError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is incorrect")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is incorrect")
		return
	}

	// Tenant status gates login: an expired trial is suspended right here
	// and rejected with the expiry-specific error.
	if !user.IsSuperAdmin {
		if user.TenantID == nil {
			httpserver.RespondError(w, http.StatusForbidden, "forbidden", "no tenant for user")
			return
		}
		if _, err := h.tenants.CheckActive(r.Context(), *user.TenantID); err != nil {
			switch {
			case errors.Is(err, tenant.ErrTrialExpired):
				httpserver.RespondError(w, http.StatusForbidden, "trial_expired",
					"your trial period has ended; activate a plan to continue")
			case errors.Is(err, tenant.ErrTenantInactive):
				httpserver.RespondError(w, http.StatusForbidden, "tenant_inactive",
					"this workspace is suspended or cancelled")
			default:
				h.logger.Error("checking tenant at login", "error", err)
				httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "login failed")
			}
			return
		}
	}

	identity := Identity{
		UserID:       user.ID,
		TenantID:     user.TenantID,
		Email:        user.Email,
		Role:         user.Role,
		IsSuperAdmin: user.IsSuperAdmin,
	}

	token, err := h.sessionMgr.IssueToken(identity)
	if err != nil {
		h.logger.Error("issuing session token", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "login failed")
		return
	}

	httpserver.Respond(w, http.StatusOK, LoginResponse{
		Token: token,
		User: UserInfo{
			ID:          user.ID.String(),
			Email:       user.Email,
			DisplayName: user.DisplayName,
			Role:        user.Role,
		},
	})
}
