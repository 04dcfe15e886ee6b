package widget

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/coverdesk/coverdesk/internal/auth"
	"github.com/coverdesk/coverdesk/internal/httpserver"
	"github.com/coverdesk/coverdesk/pkg/conversation"
	"github.com/coverdesk/coverdesk/pkg/lead"
	"github.com/coverdesk/coverdesk/pkg/tenant"
)

// ChatRequest is the public widget chat payload.
type ChatRequest struct {
	Message        string    `json:"message" validate:"required,min=1,max=4000"`
	ConversationID string    `json:"conversation_id"`
	WidgetToken    string    `json:"widget_token" validate:"required"`
	Domain         string    `json:"domain"`
	UserInfo       *UserInfo `json:"user_info"`
}

// UserInfo is contact detail the widget collected from the visitor.
type UserInfo struct {
	Name  string `json:"name"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone"`
}

// ChatResponse is the synchronous reply to the widget.
type ChatResponse struct {
	Response       string     `json:"response"`
	ShouldEscalate bool       `json:"should_escalate"`
	NeedsUserInfo  bool       `json:"needs_user_info"`
	Confidence     float64    `json:"confidence"`
	LeadID         *uuid.UUID `json:"lead_id,omitempty"`
	ConversationID string     `json:"conversation_id"`
}

// IssueTokenRequest mints a widget token for the caller's tenant.
type IssueTokenRequest struct {
	WidgetID string   `json:"widget_id" validate:"required,min=1,max=128"`
	Domains  []string `json:"domains" validate:"dive,hostname_rfc1123"`
}

// Handler serves the widget surface: the anonymous chat endpoint and the
// authenticated token-issuing endpoint.
type Handler struct {
	issuer  *TokenIssuer
	tenants *tenant.Service
	engine  *conversation.Engine
	leads   *lead.Store
	logger  *slog.Logger
}

func NewHandler(issuer *TokenIssuer, tenants *tenant.Service, engine *conversation.Engine, leads *lead.Store, logger *slog.Logger) *Handler {
	return &Handler{issuer: issuer, tenants: tenants, engine: engine, leads: leads, logger: logger}
}

// PublicRoutes returns the unauthenticated widget routes.
func (h *Handler) PublicRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/chat", h.handleChat)
	return r
}

// Routes returns the authenticated widget management routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(auth.RequireRole(tenant.RoleAdmin)).Post("/tokens", h.handleIssueToken)
	return r
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	tenantID, err := h.issuer.Verify(req.WidgetToken, req.Domain)
	if err != nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "invalid_token", "widget token rejected")
		return
	}

	if _, err := h.tenants.CheckActive(r.Context(), tenantID); err != nil {
		if errors.Is(err, tenant.ErrTrialExpired) || errors.Is(err, tenant.ErrTenantInactive) {
			httpserver.RespondError(w, http.StatusForbidden, "tenant_inactive", "chat is currently unavailable")
			return
		}
		h.logger.Error("checking tenant for widget chat", "error", err, "tenant_id", tenantID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to process message")
		return
	}

	ctx := tenant.NewContext(r.Context(), tenant.Context{TenantID: &tenantID})

	// The widget keeps a per-visitor conversation key; a fresh visitor gets
	// a new one here and echoes it back on subsequent messages.
	externalID := req.ConversationID
	if externalID == "" {
		externalID = uuid.NewString()
	}

	in := conversation.Inbound{
		TenantID:   tenantID,
		Platform:   conversation.PlatformWidget,
		ExternalID: externalID,
		Text:       req.Message,
	}
	if req.UserInfo != nil {
		in.Name = req.UserInfo.Name
		// Explicitly submitted contact details beat regex extraction.
		if _, err := h.leads.Ensure(ctx, lead.Info{
			Name:  req.UserInfo.Name,
			Email: req.UserInfo.Email,
			Phone: lead.NormalizePhone(req.UserInfo.Phone),
		}, lead.SourceWidget, false); err != nil {
			h.logger.Warn("ensuring widget lead", "error", err, "tenant_id", tenantID)
		}
	}

	out, err := h.engine.IngestInbound(ctx, in)
	if err != nil {
		h.logger.Error("processing widget message", "error", err, "tenant_id", tenantID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to process message")
		return
	}

	httpserver.Respond(w, http.StatusOK, ChatResponse{
		Response:       out.ReplyText,
		ShouldEscalate: out.Escalated,
		NeedsUserInfo:  out.NeedsUserInfo,
		Confidence:     out.Confidence,
		LeadID:         out.LeadID,
		ConversationID: externalID,
	})
}

func (h *Handler) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	ident := auth.FromContext(r.Context())
	if ident == nil || ident.TenantID == nil {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "widget tokens are issued per tenant")
		return
	}

	token, err := h.issuer.Issue(*ident.TenantID, req.WidgetID, req.Domains)
	if err != nil {
		h.logger.Error("issuing widget token", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to issue token")
		return
	}

	httpserver.Respond(w, http.StatusCreated, map[string]any{"token": token})
}
