package lead

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/coverdesk/coverdesk/internal/httpserver"
)

// Handler provides HTTP handlers for the leads API.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

// NewHandler creates a lead Handler.
func NewHandler(store *Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Routes returns the lead routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := httpserver.ParsePageParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items, total, err := h.store.List(r.Context(), page.PerPage, page.Offset())
	if err != nil {
		h.logger.Error("listing leads", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list leads")
		return
	}

	httpserver.Respond(w, http.StatusOK, httpserver.PageResponse{
		Items: items, Page: page.Page, PerPage: page.PerPage, Total: total,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid lead ID")
		return
	}

	l, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "lead not found")
			return
		}
		h.logger.Error("getting lead", "error", err, "id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get lead")
		return
	}

	httpserver.Respond(w, http.StatusOK, l)
}
