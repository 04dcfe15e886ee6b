package tenant

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coverdesk/coverdesk/internal/httpserver"
)

// Handler provides HTTP handlers for tenant lifecycle operations.
type Handler struct {
	svc           *Service
	logger        *slog.Logger
	trialDuration time.Duration
}

// NewHandler creates a tenant Handler.
func NewHandler(svc *Service, logger *slog.Logger, trialDuration time.Duration) *Handler {
	return &Handler{svc: svc, logger: logger, trialDuration: trialDuration}
}

// PublicRoutes returns routes that require no authentication (signup).
func (h *Handler) PublicRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/signup", h.handleSignup)
	return r
}

// Routes returns the authenticated tenant routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/me", h.handleMe)
	r.Post("/{id}/activate", h.handleActivate)
	r.Post("/{id}/cancel", h.handleCancel)
	return r
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.svc.Signup(r.Context(), req, h.trialDuration)
	if err != nil {
		h.logger.Error("tenant signup", "error", err, "subdomain", req.Subdomain)
		httpserver.RespondError(w, http.StatusConflict, "signup_failed",
			"could not create workspace; the subdomain may already be taken")
		return
	}

	httpserver.Respond(w, http.StatusCreated, resp)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	tc := FromContext(r.Context())
	if tc == nil || tc.TenantID == nil {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "no tenant in scope")
		return
	}

	t, err := h.svc.store.Get(r.Context(), *tc.TenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "tenant not found")
			return
		}
		h.logger.Error("loading tenant", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load tenant")
		return
	}

	httpserver.Respond(w, http.StatusOK, t)
}

// handleActivate transitions a tenant to active. Super-admin only: plan
// activation is driven by the payment provider callback, which runs with
// super-admin scope.
func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Activate)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Cancel)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id uuid.UUID) error) {
	tc := FromContext(r.Context())
	if tc == nil || !tc.IsSuperAdmin {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "super-admin access required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid tenant ID")
		return
	}

	if err := fn(r.Context(), id); err != nil {
		h.logger.Error("tenant status transition", "error", err, "tenant_id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "transition failed")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
