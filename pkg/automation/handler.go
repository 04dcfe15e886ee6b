package automation

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coverdesk/coverdesk/internal/audit"
	"github.com/coverdesk/coverdesk/internal/httpserver"
	"github.com/coverdesk/coverdesk/pkg/conversation"
	"github.com/coverdesk/coverdesk/pkg/template"
)

// FireRequest triggers a MANUAL rule against one conversation.
type FireRequest struct {
	ConversationID uuid.UUID `json:"conversation_id" validate:"required"`
}

// Handler provides HTTP handlers for the automation rules API.
type Handler struct {
	store     *Store
	templates *template.Store
	convs     *conversation.Store
	engine    *Engine
	logger    *slog.Logger
	audit     *audit.Writer
}

func NewHandler(store *Store, templates *template.Store, convs *conversation.Store, engine *Engine, logger *slog.Logger, audit *audit.Writer) *Handler {
	return &Handler{store: store, templates: templates, convs: convs, engine: engine, logger: logger, audit: audit}
}

// Routes returns the automation rule routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
	r.Delete("/{id}", h.handleDelete)
	r.Get("/{id}/logs", h.handleLogs)
	r.Post("/{id}/fire", h.handleFire)
	return r
}

// requireApprovedTemplate gates rule writes: the bound template must be
// APPROVED before the rule may exist. Send time trusts this check.
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

	rule, err := h.store.Create(r.Context(), req)
	if err != nil {
		h.logger.Error("creating rule", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create rule")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "create", "automation_rule", rule.ID, nil)
	}

	httpserver.Respond(w, http.StatusCreated, rule)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("listing rules", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list rules")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.rule(w, r)
	if !ok {
		return
	}
	httpserver.Respond(w, http.StatusOK, rule)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid rule ID")
		return
	}

	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if !h.requireApprovedTemplate(w, r, req.TemplateID) {
		return
	}

	rule, err := h.store.Update(r.Context(), id, req)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "rule not found")
			return
		}
		h.logger.Error("updating rule", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to update rule")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "update", "automation_rule", rule.ID, nil)
	}

	httpserver.Respond(w, http.StatusOK, rule)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid rule ID")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "rule not found")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "delete", "automation_rule", id, nil)
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.rule(w, r)
	if !ok {
		return
	}

	logs, err := h.store.Logs(r.Context(), rule.ID, 100)
	if err != nil {
		h.logger.Error("listing rule logs", "error", err, "rule_id", rule.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list logs")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}

func (h *Handler) handleFire(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.rule(w, r)
	if !ok {
		return
	}
	if rule.TriggerType != TriggerManual {
		httpserver.RespondError(w, http.StatusUnprocessableEntity, "not_manual", "only MANUAL rules can be fired directly")
		return
	}

	var req FireRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	conv, err := h.convs.Get(r.Context(), req.ConversationID)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}

	h.engine.Fire(r.Context(), *rule, Target{
		ConversationID: conv.ID,
		Phone:          conv.ExternalID,
	})

	if h.audit != nil {
		h.audit.LogFromRequest(r, "fire", "automation_rule", rule.ID, nil)
	}

	httpserver.Respond(w, http.StatusAccepted, map[string]any{"status": "fired"})
}

func (h *Handler) rule(w http.ResponseWriter, r *http.Request) (*Rule, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid rule ID")
		return nil, false
	}

	rule, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "rule not found")
			return nil, false
		}
		h.logger.Error("getting rule", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get rule")
		return nil, false
	}
	return rule, true
}
