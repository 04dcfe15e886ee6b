package label

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coverdesk/coverdesk/internal/audit"
	"github.com/coverdesk/coverdesk/internal/auth"
	"github.com/coverdesk/coverdesk/internal/db"
	"github.com/coverdesk/coverdesk/internal/httpserver"
	"github.com/coverdesk/coverdesk/pkg/tenant"
)

// Handler provides HTTP handlers for the labels API.
type Handler struct {
	store  *Store
	dbtx   db.DBTX
	logger *slog.Logger
	audit  *audit.Writer
}

func NewHandler(store *Store, dbtx db.DBTX, logger *slog.Logger, audit *audit.Writer) *Handler {
	return &Handler{store: store, dbtx: dbtx, logger: logger, audit: audit}
}

// Routes returns the label routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Delete("/{id}", h.handleDelete)
	r.Post("/{id}/assign", h.handleAssign)
	return r
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	l, err := h.store.Create(r.Context(), req)
	if err != nil {
		h.logger.Error("creating label", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create label")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "create", "label", l.ID, nil)
	}

	httpserver.Respond(w, http.StatusCreated, l)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("listing labels", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list labels")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"labels": items, "count": len(items)})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid label ID")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "label not found")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "delete", "label", id, nil)
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	labelID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid label ID")
		return
	}

	var req AssignRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	// The conversation must belong to the caller's tenant.
	owned, err := tenant.AssertOwnership(r.Context(), h.dbtx, "conversations", req.ConversationID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		h.logger.Error("asserting conversation ownership", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to assign label")
		return
	}
	if !owned {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}

	var assignedBy *uuid.UUID
	if ident := auth.FromContext(r.Context()); ident != nil {
		assignedBy = &ident.UserID
	}

	e, err := h.store.Assign(r.Context(), labelID, req.ConversationID, assignedBy)
	if err != nil {
		h.logger.Error("assigning label", "error", err, "label_id", labelID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to assign label")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "assign", "label", labelID, nil)
	}

	httpserver.Respond(w, http.StatusCreated, e)
}
