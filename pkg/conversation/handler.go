package conversation

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
)

// Handler provides HTTP handlers for the conversations API used by the
// agent dashboard.
type Handler struct {
	store  *Store
	engine *Engine
	logger *slog.Logger
	audit  *audit.Writer
}

func NewHandler(store *Store, engine *Engine, logger *slog.Logger, audit *audit.Writer) *Handler {
	return &Handler{store: store, engine: engine, logger: logger, audit: audit}
}

// Routes returns the conversation routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Get("/{id}/messages", h.handleMessages)
	r.Post("/{id}/messages", h.handleSendAsAgent)
	r.Post("/{id}/escalate", h.handleEscalate)
	r.Post("/{id}/deescalate", h.handleDeEscalate)
	r.Post("/{id}/close", h.handleClose)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := httpserver.ParsePageParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items, total, err := h.store.List(r.Context(), r.URL.Query().Get("status"), page)
	if err != nil {
		h.logger.Error("listing conversations", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list conversations")
		return
	}

	httpserver.Respond(w, http.StatusOK, httpserver.PageResponse{
		Items: items, Page: page.Page, PerPage: page.PerPage, Total: total,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}
	httpserver.Respond(w, http.StatusOK, conv)
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	msgs, err := h.store.Messages(r.Context(), conv.ID)
	if err != nil {
		h.logger.Error("listing messages", "error", err, "conversation_id", conv.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list messages")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"messages": msgs, "count": len(msgs)})
}

func (h *Handler) handleSendAsAgent(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	var req SendAsAgentRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	ident := auth.FromContext(r.Context())
	if ident == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}

	m, err := h.engine.SendAsAgent(r.Context(), conv.ID, req.Text, ident.UserID)
	if err != nil {
		h.logger.Error("sending agent message", "error", err, "conversation_id", conv.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to send message")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "agent_reply", "conversation", conv.ID, nil)
	}

	httpserver.Respond(w, http.StatusCreated, m)
}

func (h *Handler) handleEscalate(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	if _, err := h.engine.Escalate(r.Context(), conv, ReasonManual); err != nil {
		h.logger.Error("escalating conversation", "error", err, "conversation_id", conv.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to escalate conversation")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "escalate", "conversation", conv.ID, nil)
	}

	httpserver.Respond(w, http.StatusOK, conv)
}

func (h *Handler) handleDeEscalate(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	updated, err := h.engine.DeEscalate(r.Context(), conv.ID)
	if err != nil {
		h.logger.Error("de-escalating conversation", "error", err, "conversation_id", conv.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to de-escalate conversation")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "deescalate", "conversation", conv.ID, nil)
	}

	httpserver.Respond(w, http.StatusOK, updated)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	updated, err := h.store.SetStatus(r.Context(), conv.ID, StatusClosed, conv.EscalationReason)
	if err != nil {
		h.logger.Error("closing conversation", "error", err, "conversation_id", conv.ID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to close conversation")
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "close", "conversation", conv.ID, nil)
	}

	httpserver.Respond(w, http.StatusOK, updated)
}

// conversation loads the path conversation within the caller's tenant scope,
// writing the error response itself on failure.
func (h *Handler) conversation(w http.ResponseWriter, r *http.Request) (*Conversation, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid conversation ID")
		return nil, false
	}

	conv, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "conversation not found")
			return nil, false
		}
		h.logger.Error("getting conversation", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get conversation")
		return nil, false
	}
	return conv, true
}
