package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/coverdesk/coverdesk/internal/telemetry"
	"github.com/coverdesk/coverdesk/pkg/conversation"
	"github.com/coverdesk/coverdesk/pkg/credential"
	"github.com/coverdesk/coverdesk/pkg/tenant"
)

const (
	maxWebhookBody = 1 << 20
	dedupTTL       = 24 * time.Hour
	dedupPrefix    = "coverdesk:wamid:"
)

// StatusRecorder receives delivery status notifications for outbound
// messages. Implemented by the campaign store.
type StatusRecorder interface {
	RecordStatus(ctx context.Context, externalID, status string) error
}

// Webhook handles inbound deliveries from the Meta webhook. Endpoints are
// addressed per credential; the credential resolves the tenant.
type Webhook struct {
	creds    *credential.Store
	resolver *credential.Resolver
	tenants  *tenant.Service
	engine   *conversation.Engine
	statuses StatusRecorder
	redis    *redis.Client
	logger   *slog.Logger
}

func NewWebhook(resolver *credential.Resolver, tenants *tenant.Service, engine *conversation.Engine, statuses StatusRecorder, rdb *redis.Client, logger *slog.Logger) *Webhook {
	return &Webhook{
		creds:    resolver.Store(),
		resolver: resolver,
		tenants:  tenants,
		engine:   engine,
		statuses: statuses,
		redis:    rdb,
		logger:   logger,
	}
}

// Routes returns the public webhook routes.
func (wh *Webhook) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{credentialID}", wh.handleVerify)
	r.Post("/{credentialID}", wh.handleReceive)
	return r
}

// handleVerify answers Meta's subscription handshake: echo hub.challenge
// iff the verify token matches the credential's.
func (wh *Webhook) handleVerify(w http.ResponseWriter, r *http.Request) {
	cred, ok := wh.credentialFromPath(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || cred.WebhookVerifyToken == "" ||
		!hmac.Equal([]byte(token), []byte(cred.WebhookVerifyToken)) {
		telemetry.WebhookSignatureFailuresTotal.Inc()
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge)) //nolint:errcheck
}

// handleReceive verifies the payload signature, then processes it
// best-effort: processing errors are logged and still acknowledged with 200
// so Meta does not retry indefinitely. Only signature failures get 401.
func (wh *Webhook) handleReceive(w http.ResponseWriter, r *http.Request) {
	cred, ok := wh.credentialFromPath(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if !wh.verifySignature(cred, r.Header.Get("X-Hub-Signature-256"), body) {
		telemetry.WebhookSignatureFailuresTotal.Inc()
		wh.logger.Warn("webhook signature verification failed", "credential_id", cred.ID)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		wh.logger.Warn("unparseable webhook payload", "error", err, "credential_id", cred.ID)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := wh.process(r.Context(), cred, payload); err != nil {
		wh.logger.Error("processing webhook delivery", "error", err, "credential_id", cred.ID)
	}
	w.WriteHeader(http.StatusOK)
}

func (wh *Webhook) verifySignature(cred credential.Credential, header string, body []byte) bool {
	secret, err := wh.resolver.AppSecret(cred)
	if err != nil {
		return false
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(want, mac.Sum(nil))
}

func (wh *Webhook) process(ctx context.Context, cred credential.Credential, payload Payload) error {
	// Re-validate the tenant on every delivery: a suspended tenant's
	// webhook keeps receiving traffic until Meta is reconfigured.
	t, err := wh.tenants.CheckActive(ctx, cred.TenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrTrialExpired) || errors.Is(err, tenant.ErrTenantInactive) {
			wh.logger.Info("dropping webhook for inactive tenant", "tenant_id", cred.TenantID)
			return nil
		}
		return err
	}

	ctx = tenant.NewContext(ctx, tenant.Context{TenantID: &t.ID})

	var firstErr error
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			names := map[string]string{}
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				if err := wh.processMessage(ctx, t.ID, msg, names[msg.From]); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			for _, st := range change.Value.Statuses {
				if err := wh.processStatus(ctx, st); err != nil && firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

func (wh *Webhook) processMessage(ctx context.Context, tenantID uuid.UUID, msg InboundMessage, profileName string) error {
	if msg.Type != "text" || msg.Text == nil {
		return nil
	}
	if wh.isDuplicate(ctx, msg.ID) {
		return nil
	}

	_, err := wh.engine.IngestInbound(ctx, conversation.Inbound{
		TenantID:   tenantID,
		Platform:   conversation.PlatformWhatsApp,
		ExternalID: msg.From,
		MessageID:  msg.ID,
		Text:       msg.Text.Body,
		Name:       profileName,
	})
	return err
}

func (wh *Webhook) processStatus(ctx context.Context, st StatusNotification) error {
	switch st.Status {
	case "sent", "delivered", "read", "failed":
	default:
		return nil
	}
	if wh.statuses == nil {
		return nil
	}
	return wh.statuses.RecordStatus(ctx, st.ID, st.Status)
}

// isDuplicate marks the message id seen and reports whether it already was.
// Meta retries deliveries; redis SetNX makes processing idempotent. A redis
// failure degrades to at-least-once.
func (wh *Webhook) isDuplicate(ctx context.Context, messageID string) bool {
	if wh.redis == nil || messageID == "" {
		return false
	}
	set, err := wh.redis.SetNX(ctx, dedupPrefix+messageID, 1, dedupTTL).Result()
	if err != nil {
		wh.logger.Warn("webhook dedup check failed", "error", err)
		return false
	}
	return !set
}

func (wh *Webhook) credentialFromPath(w http.ResponseWriter, r *http.Request) (credential.Credential, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "credentialID"))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return credential.Credential{}, false
	}
	cred, err := wh.creds.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return credential.Credential{}, false
	}
	return cred, true
}
