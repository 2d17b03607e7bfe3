// Package llm wraps the Anthropic Messages API behind the small Client
// interface the classification pipeline consumes.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/caseops/casepilot/pkg/backoff"
	"github.com/caseops/casepilot/pkg/config"
	"github.com/caseops/casepilot/pkg/taxonomy"
)

// Message roles. The system prompt travels outside the message list.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	defaultStageTimeout = 30 * time.Second
	maxAttempts         = 3
)

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role    string
	Content string
}

// Request describes a single completion call. Temperature is always
// sent, so 0 means deterministic rather than "use the default".
type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// TokenUsage reports consumption for one completion.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int { return u.InputTokens + u.OutputTokens }

// Response is the completion result.
type Response struct {
	Content    string
	Model      string
	StopReason string
	Usage      TokenUsage
}

// Client completes prompts. The pipeline depends on this interface so
// tests can substitute a fake.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// AnthropicClient calls the Anthropic Messages API with bounded retries
// on transient failures. SDK-internal retries are disabled so this
// client's backoff governs.
type AnthropicClient struct {
	api          anthropic.Client
	model        string
	maxTokens    int
	stageTimeout time.Duration
	retry        backoff.Config
	requestOpts  []option.RequestOption
	logger       *slog.Logger
}

var _ Client = (*AnthropicClient)(nil)

// Option customizes the underlying SDK client.
type Option func(*AnthropicClient)

// WithBaseURL points the client at an alternate API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *AnthropicClient) {
		c.requestOpts = append(c.requestOpts, option.WithBaseURL(baseURL))
	}
}

// WithHTTPClient replaces the transport used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *AnthropicClient) {
		c.requestOpts = append(c.requestOpts, option.WithHTTPClient(hc))
	}
}

// NewAnthropicClient creates a pipeline LLM client from the environment
// API key and the llm config section. A nil config uses the defaults.
func NewAnthropicClient(apiKey string, cfg *config.LLMConfig, opts ...Option) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY is required for the classification pipeline")
	}
	if cfg == nil {
		cfg = config.DefaultLLMConfig()
	}

	c := &AnthropicClient{
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		stageTimeout: cfg.StageTimeout.Duration(),
		retry: backoff.Config{
			BasePeriod:    500 * time.Millisecond,
			MaxPeriod:     8 * time.Second,
			Multiplier:    2.0,
			JitterPercent: 10,
		},
		logger: slog.Default().With("component", "llm"),
	}
	if c.stageTimeout <= 0 {
		c.stageTimeout = defaultStageTimeout
	}
	for _, opt := range opts {
		opt(c)
	}

	reqOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, c.requestOpts...)
	c.api = anthropic.NewClient(reqOpts...)

	c.logger.Info("anthropic client configured", "model", c.model, "max_tokens", c.maxTokens)
	return c, nil
}

// Complete sends the request, retrying transient failures with backoff
// inside the stage deadline.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, taxonomy.Validation(errors.New("at least one message is required"))
	}
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok && c.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.stageTimeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.send(ctx, params)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !taxonomy.Retryable(err) || attempt == maxAttempts {
			break
		}
		delay := c.retry.Calculate(attempt)
		c.logger.Warn("completion failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err)
		select {
		case <-ctx.Done():
			return nil, taxonomy.Timeout(fmt.Errorf("completion aborted: %w", ctx.Err()))
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func (c *AnthropicClient) buildParams(req Request) (anthropic.MessageNewParams, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleUser, "":
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			return anthropic.MessageNewParams{}, taxonomy.Validation(fmt.Errorf("unsupported message role %q", m.Role))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(maxTokens),
		Messages:    messages,
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params, nil
}

func (c *AnthropicClient) send(ctx context.Context, params anthropic.MessageNewParams) (*Response, error) {
	started := time.Now()
	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAPIError(ctx, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, taxonomy.Transient(errors.New("completion returned no text content"))
	}

	resp := &Response{
		Content:    text.String(),
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	c.logger.Debug("completion finished",
		"model", resp.Model,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"elapsed", time.Since(started))
	return resp, nil
}

func classifyAPIError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return taxonomy.Timeout(fmt.Errorf("completion timed out: %w", err))
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		wrapped := fmt.Errorf("anthropic API error (status %d): %w", apierr.StatusCode, err)
		switch {
		case apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden:
			return taxonomy.Auth(wrapped)
		// 429 and 5xx cover rate limits and the 529 overloaded signal.
		case apierr.StatusCode == http.StatusTooManyRequests || apierr.StatusCode >= 500:
			return taxonomy.Transient(wrapped)
		case apierr.StatusCode == http.StatusRequestTimeout:
			return taxonomy.Timeout(wrapped)
		default:
			return taxonomy.Validation(wrapped)
		}
	}
	return taxonomy.Transient(fmt.Errorf("completion request failed: %w", err))
}
