// Package oracle talks to an OpenAI-compatible chat completion endpoint and
// implements the extraction, translation and summarization capabilities on
// top of it.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/starford/tenantgraph/internal/apperr"
)

// Request is one chat completion call.
type Request struct {
	Op          string // metric and breaker label, e.g. "extract"
	System      string
	Prompt      string
	Temperature float32
	JSON        bool // ask for a JSON object response
}

// Completer returns the assistant text for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Config configures the chat completion client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// Timeout bounds the HTTP exchange; callers still set their own deadline.
	Timeout time.Duration
	// BreakerFailures is the number of consecutive failures that opens the
	// circuit.
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open.
	BreakerCooldown time.Duration
}

// Client is a Completer backed by go-openai and guarded by a circuit breaker.
type Client struct {
	api     *openai.Client
	model   string
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

var _ Completer = (*Client)(nil)

// NewClient creates a chat completion client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("oracle: base_url is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("oracle: model is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "unused" // local OpenAI-compatible servers ignore the key
	}
	oc := openai.DefaultConfig(apiKey)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = &http.Client{Timeout: timeout}

	c := &Client{
		api:    openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		logger: logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "oracle",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("oracle: circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
		// A caller giving up is not a sign of oracle trouble.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, errMalformed)
		},
	})
	return c, nil
}

var errMalformed = errors.New("completion has no choices")

// Complete sends one chat completion request.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	op := "oracle." + req.Op

	temperature := req.Temperature
	if temperature == 0 {
		// go-openai drops a zero temperature from the payload.
		temperature = math.SmallestNonzeroFloat32
	}
	creq := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	out, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.api.CreateChatCompletion(ctx, creq)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errMalformed
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", classify(ctx, op, err)
	}
	return out.(string), nil
}

func classify(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperr.Wrap(apperr.KindTimeout, op, err)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return apperr.Wrap(apperr.KindOracleUnavailable, op, err)
	case errors.Is(err, errMalformed):
		return apperr.Wrap(apperr.KindOracleMalformed, op, err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apperr.Wrap(apperr.KindOracleUnavailable, op, fmt.Errorf("status %d: %w", apiErr.HTTPStatusCode, err))
	}
	return apperr.Wrap(apperr.KindOracleUnavailable, op, err)
}
