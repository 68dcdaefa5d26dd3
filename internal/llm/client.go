package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"relaybot/internal/domain"
	"relaybot/internal/obs"
	"relaybot/internal/retry"
)

// DefaultTimeout bounds a single attempt.
const DefaultTimeout = 30 * time.Second

// ClientConfig holds the request parameters and the retry schedule.
type ClientConfig struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration // per attempt
	Retry       retry.Config
}

// ModelInfo describes the client's request settings.
type ModelInfo struct {
	Model       string
	MaxTokens   int
	Temperature float64
	MaxRetries  int
}

// Client is the resilient completion client. It validates input, classifies
// failures, retries transient ones with linear backoff and always returns *domain.Error.
type Client struct {
	completer domain.Completer
	cfg       ClientConfig
	classify  retry.Classifier
	logger    zerolog.Logger
	metrics   *obs.Metrics
	sleepFunc func(context.Context, time.Duration) error // injectable for testing
	nowFunc   func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClassifier replaces retry.DefaultClassify.
func WithClassifier(c retry.Classifier) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.classify = c
		}
	}
}

// WithLogger sets the logger for attempt and retry events. Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = logger }
}

// WithMetrics records attempts and per-request latency by outcome on m.
func WithMetrics(m *obs.Metrics) ClientOption {
	return func(cl *Client) { cl.metrics = m }
}

// NewClient returns a Client over completer. completer must not be nil. An
// invalid cfg.Retry is replaced by retry.DefaultConfig.
func NewClient(completer domain.Completer, cfg ClientConfig, opts ...ClientOption) *Client {
	if completer == nil {
		panic("llm: completer must not be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Client{
		completer: completer,
		cfg:       cfg,
		classify:  retry.DefaultClassify,
		logger:    zerolog.Nop(),
		sleepFunc: retry.Sleep,
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.cfg.Retry.Validate(); err != nil {
		c.logger.Warn().Err(err).Msg("retry config rejected, using defaults")
		c.cfg.Retry = retry.DefaultConfig()
	}
	return c
}

// ModelInfo returns the configured model settings.
func (c *Client) ModelInfo() ModelInfo {
	return ModelInfo{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		MaxRetries:  c.cfg.Retry.MaxAttempts,
	}
}

// GetResponse sends messages to the completion API and returns the trimmed reply.
func (c *Client) GetResponse(ctx context.Context, messages []domain.Message) (string, error) {
	start := c.nowFunc()
	reply, err := c.getResponse(ctx, messages)
	kind := "ok"
	if err != nil {
		kind = domain.KindOf(err).String()
	}
	c.metrics.ObserveAPI(kind, c.nowFunc().Sub(start))
	return reply, err
}

func (c *Client) getResponse(ctx context.Context, messages []domain.Message) (string, error) {
	if err := ValidateMessages(messages); err != nil {
		return "", err
	}

	req := domain.CompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Timeout:     c.cfg.Timeout,
	}

	var lastErr *domain.Error
	for attempt := 1; attempt <= c.cfg.Retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", domain.NewError(domain.KindServiceUnavailable, err)
		}

		c.metrics.ObserveAttempt()
		text, err := c.completer.Complete(ctx, req)
		if err == nil {
			text = strings.TrimSpace(text)
			if text == "" {
				return "", domain.NewError(domain.KindEmptyResponse, nil)
			}
			return text, nil
		}

		// A cancelled caller is not a remote failure; stop without classifying.
		if ctx.Err() != nil {
			return "", domain.NewError(domain.KindServiceUnavailable, err)
		}

		kind := c.classify(err)
		lastErr = domain.NewError(kind, err)
		c.logger.Warn().
			Int("attempt", attempt).
			Str("kind", kind.String()).
			Err(err).
			Msg("completion attempt failed")

		if !kind.Transient() {
			return "", lastErr
		}
		if attempt == c.cfg.Retry.MaxAttempts {
			break
		}

		delay := retry.Backoff(kind, c.cfg.Retry.BaseDelay, attempt)
		c.logger.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("backing off")
		if err := c.sleepFunc(ctx, delay); err != nil {
			return "", domain.NewError(domain.KindServiceUnavailable, err)
		}
	}

	return "", domain.NewError(domain.KindServiceUnavailable,
		fmt.Errorf("retries exhausted after %d attempts: %w", c.cfg.Retry.MaxAttempts, lastErr))
}

// ValidateMessages checks the request preconditions: a non-empty sequence, known
// roles and non-blank content. Failures are KindInvalidInput.
func ValidateMessages(messages []domain.Message) error {
	if len(messages) == 0 {
		return &domain.Error{Kind: domain.KindInvalidInput, Msg: "No messages provided"}
	}
	for i, m := range messages {
		if !m.Role.Valid() {
			return &domain.Error{
				Kind: domain.KindInvalidInput,
				Msg:  "Invalid message format",
				Err:  fmt.Errorf("message %d: unknown role %q", i, m.Role),
			}
		}
		if strings.TrimSpace(m.Content) == "" {
			return &domain.Error{
				Kind: domain.KindInvalidInput,
				Msg:  "Invalid message format",
				Err:  fmt.Errorf("message %d: empty content", i),
			}
		}
	}
	return nil
}

var _ domain.Responder = (*Client)(nil)
