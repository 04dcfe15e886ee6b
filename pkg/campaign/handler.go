package campaign

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coverdesk/coverdesk/internal/audit"
	"github.com/coverdesk/coverdesk/internal/httpserver"
	"github.com/coverdesk/coverdesk/pkg/template"
)

// Handler provides HTTP handlers for the campaigns API.
type Handler struct {
	store     *Store
	templates *template.Store
	logger    *slog.Logger
	audit     *audit.Writer
}

func NewHandler(store *Store, templates *template.Store, logger *slog.Logger, audit *audit.Writer) *Handler {
	return &Handler{store: store, templates: templates, logger: logger, audit: audit}
}

// Routes returns the campaign routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Get("/{id}/messages", h.handleMessages)
	r.Post("/{id}/start", h.handleStart)
	r.Post("/{id}/pause", h.handlePause)
	r.Post("/{id}/resume", h.handleResume)
	r.Post("/{id}/cancel", h.handleCancel)
	return r
}

func (h *Handler) requireApprovedTemplate(w http.ResponseWriter, r *http.Request, id uuid.UUID) bool {
	if _, err := h.templates.RequireApproved(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, template.ErrNotApproved):
			httpserver.RespondError(w, http.StatusUnprocessableEntity, "template_not_approved", "template must be approved before use")
		case errors.Is(err, pgx.ErrNoRows):
			httpserver.RespondError(w, http.StatusUnprocessableEntity, "template_not_found", "template does not exist")
		default:
			h.logger.Error("checking template approval", "error", err, "template_id", id)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to validate template")
		}
		return false
	}
	return true
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if !h.requireApprovedTemplate(w, r, req.TemplateID) {
		return
	}

	c, err := h.store.Create(r.Context(), req)
	if err != nil {
		h.logger.Error("creating campaign", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create campaign")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "create", "campaign", c.ID, nil)
	}

	httpserver.Respond(w, http.StatusCreated, c)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := httpserver.ParsePageParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items, total, err := h.store.List(r.Context(), page)
	if err != nil {
		h.logger.Error("listing campaigns", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list campaigns")
		return
	}

	httpserver.Respond(w, http.StatusOK, httpserver.PageResponse{
		Items: items, Page: page.Page, PerPage: page.PerPage, Total: total,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	c, ok := h.campaign(w, r)
	if !ok {
		return
	}
	httpserver.Respond(w, http.StatusOK, c)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid campaign ID")
		return
	}

	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if !h.requireApprovedTemplate(w, r, req.TemplateID) {
		return
	}

	c, err := h.store.Update(r.Context(), id, req)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusConflict, "not_editable", "campaign not found or already dispatched")
			return
		}
		h.logger.Error("updating campaign", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update campaign")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "update", "campaign", c.ID, nil)
	}

	httpserver.Respond(w, http.StatusOK, c)
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	c, ok := h.campaign(w, r)
	if !ok {
		return
	}

	page, err := httpserver.ParsePageParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items, total, err := h.store.Messages(r.Context(), c.ID, page)
	if err != nil {
		h.logger.Error("listing campaign messages", "error", err, "campaign_id", c.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list messages")
		return
	}

	httpserver.Respond(w, http.StatusOK, httpserver.PageResponse{
		Items: items, Page: page.Page, PerPage: page.PerPage, Total: total,
	})
}

// handleStart launches a DRAFT campaign immediately: materialize the target
// list now, then hand it to the dispatcher.
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	c, ok := h.campaign(w, r)
	if !ok {
		return
	}
	if c.Status != StatusDraft && c.Status != StatusScheduled {
		httpserver.RespondError(w, http.StatusConflict, "invalid_transition", "campaign cannot be started from its current status")
		return
	}

	n, err := h.store.Materialize(r.Context(), c)
	if err != nil {
		h.logger.Error("materializing campaign", "error", err, "campaign_id", c.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to start campaign")
		return
	}
	if _, err := h.store.SetStatus(r.Context(), c.ID, StatusRunning, StatusDraft, StatusScheduled); err != nil {
		h.logger.Error("starting campaign", "error", err, "campaign_id", c.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to start campaign")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "start", "campaign", c.ID, nil)
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"status": StatusRunning, "total_contacts": n})
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "pause", StatusPaused, StatusRunning)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "resume", StatusRunning, StatusPaused)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel", StatusCancelled, StatusDraft, StatusScheduled, StatusRunning, StatusPaused)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, action, to string, from ...string) {
	c, ok := h.campaign(w, r)
	if !ok {
		return
	}

	applied, err := h.store.SetStatus(r.Context(), c.ID, to, from...)
	if err != nil {
		h.logger.Error("transitioning campaign", "error", err, "campaign_id", c.ID, "action", action)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update campaign")
		return
	}
	if !applied {
		httpserver.RespondError(w, http.StatusConflict, "invalid_transition", "campaign cannot be "+action+"d from its current status")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, action, "campaign", c.ID, nil)
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"status": to})
}

func (h *Handler) campaign(w http.ResponseWriter, r *http.Request) (*Campaign, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid campaign ID")
		return nil, false
	}

	c, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "campaign not found")
			return nil, false
		}
		h.logger.Error("getting campaign", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get campaign")
		return nil, false
	}
	return c, true
}
