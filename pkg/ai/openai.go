package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI implements Provider against the OpenAI chat completion API.
type OpenAI struct {
	model   string
	timeout time.Duration
}

// NewOpenAI creates an OpenAI provider. An empty model selects a default.
func NewOpenAI(model string, timeout time.Duration) *OpenAI {
	if model == "" {
		model = openai.GPT4oMini
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{model: model, timeout: timeout}
}

// Complete generates one assistant reply. Confidence is derived from the
// mean token log-probability of the response.
func (o *OpenAI) Complete(ctx context.Context, apiKey string, req CompletionRequest) (Reply, error) {
	client := openai.NewClient(apiKey)

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Turns)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: req.System,
		})
	}
	for _, t := range req.Turns {
		role := openai.ChatMessageRoleUser
		if t.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}

	cctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := client.CreateChatCompletion(cctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: msgs,
		LogProbs: true,
	})
	if err != nil {
		return Reply{}, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, fmt.Errorf("%w: empty response", ErrProviderUnavailable)
	}

	choice := resp.Choices[0]
	return Reply{
		Text:       choice.Message.Content,
		Confidence: confidenceFromLogProbs(choice.LogProbs),
	}, nil
}

// classifyError folds quota, auth, rate-limit, and availability failures
// into ErrProviderUnavailable; other errors pass through wrapped.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden,
			http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable:
			return fmt.Errorf("%w: %v", ErrProviderUnavailable, apiErr.HTTPStatusCode)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timeout", ErrProviderUnavailable)
	}
	return fmt.Errorf("completion: %w", err)
}

// confidenceFromLogProbs maps the mean token log-probability to [0,1].
// Without logprobs a neutral 0.75 is assumed so that escalation falls to
// the lexicon checks alone.
func confidenceFromLogProbs(lp *openai.LogProbs) float64 {
	if lp == nil || len(lp.Content) == 0 {
		return 0.75
	}
	var sum float64
	for _, tok := range lp.Content {
		sum += tok.LogProb
	}
	return math.Exp(sum / float64(len(lp.Content)))
}
