package template

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coverdesk/coverdesk/internal/audit"
	"github.com/coverdesk/coverdesk/internal/auth"
	"github.com/coverdesk/coverdesk/internal/httpserver"
	"github.com/coverdesk/coverdesk/pkg/tenant"
)

// Handler provides HTTP handlers for the templates API.
type Handler struct {
	store  *Store
	logger *slog.Logger
	audit  *audit.Writer
}

func NewHandler(store *Store, logger *slog.Logger, audit *audit.Writer) *Handler {
	return &Handler{store: store, logger: logger, audit: audit}
}

// Routes returns the template routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Delete("/{id}", h.handleDelete)
	// Approval decisions come from the messaging provider; only admins
	// (or the provider sync job) may set them directly.
	r.With(auth.RequireRole(tenant.RoleAdmin)).Put("/{id}/status", h.handleUpdateStatus)
	return r
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	t, err := h.store.Create(r.Context(), req)
	if err != nil {
		h.logger.Error("creating template", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create template")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "create", "template", t.ID, nil)
	}

	httpserver.Respond(w, http.StatusCreated, t)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := httpserver.ParsePageParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items, total, err := h.store.List(r.Context(), page)
	if err != nil {
		h.logger.Error("listing templates", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list templates")
		return
	}

	httpserver.Respond(w, http.StatusOK, httpserver.PageResponse{
		Items: items, Page: page.Page, PerPage: page.PerPage, Total: total,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid template ID")
		return
	}

	t, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "template not found")
			return
		}
		h.logger.Error("getting template", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get template")
		return
	}
	httpserver.Respond(w, http.StatusOK, t)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid template ID")
		return
	}

	var req StatusUpdateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	t, err := h.store.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "template not found")
			return
		}
		h.logger.Error("updating template status", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update template")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "update_status", "template", t.ID, nil)
	}

	httpserver.Respond(w, http.StatusOK, t)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid template ID")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "template not found")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "delete", "template", id, nil)
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}
