// Package whatsapp integrates with the Meta WhatsApp Cloud API: an outbound
// Graph client and the inbound webhook endpoints.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/coverdesk/coverdesk/pkg/credential"
)

const defaultGraphTimeout = 10 * time.Second

// Client sends messages through the Graph API using each tenant's own
// credential. It implements the conversation package's Sender.
type Client struct {
	baseURL  string
	http     *http.Client
	resolver *credential.Resolver
	logger   *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, resolver *credential.Resolver, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultGraphTimeout
	}
	return &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: timeout},
		resolver: resolver,
		logger:   logger,
	}
}

type graphResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText delivers a plain text message and returns the platform message id.
func (c *Client) SendText(ctx context.Context, tenantID uuid.UUID, to, text string) (string, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"body": text},
	}
	return c.send(ctx, tenantID, payload)
}

// SendTemplate delivers a pre-approved template message with positional body
// parameters.
func (c *Client) SendTemplate(ctx context.Context, tenantID uuid.UUID, to, name, language string, params []string) (string, error) {
	tpl := map[string]any{
		"name":     name,
		"language": map[string]any{"code": language},
	}
	if len(params) > 0 {
		values := make([]map[string]any, 0, len(params))
		for _, p := range params {
			values = append(values, map[string]any{"type": "text", "text": p})
		}
		tpl["components"] = []map[string]any{{"type": "body", "parameters": values}}
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "template",
		"template":          tpl,
	}
	return c.send(ctx, tenantID, payload)
}

// send posts to the Graph API, re-resolving the credential and retrying once
// when Meta reports the token invalid. Tokens rotate out of band; the fresh
// credential may already be in place.
func (c *Client) send(ctx context.Context, tenantID uuid.UUID, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling message: %w", err)
	}

	op := func() (string, error) {
		ch, err := c.resolver.WhatsAppChannel(ctx, tenantID)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		id, err := c.post(ctx, ch, body)
		if err != nil {
			if isInvalidToken(err) {
				c.logger.Warn("graph api rejected token, re-resolving credential", "tenant_id", tenantID)
				return "", err
			}
			return "", backoff.Permanent(err)
		}
		return id, nil
	}

	return backoff.Retry(ctx, op, backoff.WithMaxTries(2))
}

func (c *Client) post(ctx context.Context, ch credential.Channel, body []byte) (string, error) {
	url := fmt.Sprintf("%s/%s/messages", c.baseURL, ch.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building graph request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+ch.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling graph api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading graph response: %w", err)
	}

	var gr graphResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return "", fmt.Errorf("parsing graph response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode >= 400 || gr.Error != nil {
		if gr.Error != nil {
			return "", &graphError{Code: gr.Error.Code, Type: gr.Error.Type, Message: gr.Error.Message, Status: resp.StatusCode}
		}
		return "", &graphError{Status: resp.StatusCode, Message: string(raw)}
	}
	if len(gr.Messages) == 0 {
		return "", fmt.Errorf("graph response carried no message id")
	}
	return gr.Messages[0].ID, nil
}

type graphError struct {
	Code    int
	Type    string
	Message string
	Status  int
}

func (e *graphError) Error() string {
	return fmt.Sprintf("graph api error (status %d, code %d, type %s): %s", e.Status, e.Code, e.Type, e.Message)
}

// Graph error code 190 is OAuthException / invalid access token.
func isInvalidToken(err error) bool {
	ge, ok := err.(*graphError)
	return ok && (ge.Code == 190 || ge.Status == http.StatusUnauthorized)
}
