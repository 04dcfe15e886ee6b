package credential

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coverdesk/coverdesk/internal/audit"
	"github.com/coverdesk/coverdesk/internal/db"
	"github.com/coverdesk/coverdesk/internal/httpserver"
	"github.com/coverdesk/coverdesk/pkg/tenant"
)

// Handler provides HTTP handlers for the credentials API.
type Handler struct {
	resolver *Resolver
	dbtx     db.DBTX
	logger   *slog.Logger
	audit    *audit.Writer
}

// NewHandler creates a credential Handler.
func NewHandler(resolver *Resolver, dbtx db.DBTX, logger *slog.Logger, audit *audit.Writer) *Handler {
	return &Handler{resolver: resolver, dbtx: dbtx, logger: logger, audit: audit}
}

// Routes returns the credential routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Delete("/{id}", h.handleDelete)
	return r
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	// Secrets are encrypted before they ever reach the store.
	accessToken, err := h.resolver.Encrypt(req.AccessToken)
	if err != nil {
		h.logger.Error("encrypting access token", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to store credential")
		return
	}

	var appSecret string
	if req.AppSecret != "" {
		if appSecret, err = h.resolver.Encrypt(req.AppSecret); err != nil {
			h.logger.Error("encrypting app secret", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to store credential")
			return
		}
	}

	c, err := h.resolver.Store().Create(r.Context(), Credential{
		Provider:           req.Provider,
		Label:              req.Label,
		AccessToken:        accessToken,
		AppSecret:          appSecret,
		PhoneNumberID:      req.PhoneNumberID,
		WebhookVerifyToken: req.WebhookVerifyToken,
		IsDefault:          req.IsDefault,
	})
	if err != nil {
		h.logger.Error("creating credential", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create credential")
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"provider": c.Provider, "label": c.Label})
		h.audit.LogFromRequest(r, "create", "credential", c.ID, detail)
	}

	httpserver.Respond(w, http.StatusCreated, c.ToResponse())
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.resolver.Store().List(r.Context(), r.URL.Query().Get("provider"))
	if err != nil {
		h.logger.Error("listing credentials", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list credentials")
		return
	}

	out := make([]Response, 0, len(items))
	for _, c := range items {
		out = append(out, c.ToResponse())
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"credentials": out, "count": len(out)})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid credential ID")
		return
	}

	owned, err := tenant.AssertOwnership(r.Context(), h.dbtx, "credentials", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "credential not found")
			return
		}
		h.logger.Error("asserting credential ownership", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete credential")
		return
	}
	if !owned {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "credential not found")
		return
	}

	if err := h.resolver.Store().Delete(r.Context(), id); err != nil {
		h.logger.Error("deleting credential", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to delete credential")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "delete", "credential", id, nil)
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}
