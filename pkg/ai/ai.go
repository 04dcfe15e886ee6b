// Package ai abstracts the completion provider used for assistant replies.
package ai

import (
	"context"
	"errors"
)

// Chat roles in a completion request.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrProviderUnavailable covers quota, rate-limit, invalid-key, and outage
// failures. Callers map it to a neutral customer-facing message plus forced
// escalation; the raw provider error never reaches the end customer.
var ErrProviderUnavailable = errors.New("completion provider unavailable")

// Turn is one message in the completion context window.
type Turn struct {
	Role    string
	Content string
}

// CompletionRequest carries the prompt for one assistant reply.
type CompletionRequest struct {
	System string
	Turns  []Turn
}

// Reply is the provider's answer with its confidence estimate in [0,1].
type Reply struct {
	Text       string
	Confidence float64
}

// Provider generates assistant replies. The API key is passed per call
// because every tenant brings its own.
type Provider interface {
	Complete(ctx context.Context, apiKey string, req CompletionRequest) (Reply, error)
}
