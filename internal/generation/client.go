package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sanvibhowmick/forge/internal/config"
	"github.com/sanvibhowmick/forge/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Scrubber removes secrets from text before it leaves the process.
type Scrubber interface {
	Scrub(content string) string
}

// Client adds rate limiting, bounded retries and secret scrubbing to a
// provider. It is safe for concurrent use.
type Client struct {
	provider   Generator
	name       string
	limiter    *rate.Limiter
	maxTries   uint
	timeout    time.Duration
	newBackOff func() backoff.BackOff
	scrubber   Scrubber
	metrics    *Metrics
	logger     *logging.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithScrubber scrubs prompts through s.
func WithScrubber(s Scrubber) ClientOption {
	return func(c *Client) { c.scrubber = s }
}

// WithMetrics records calls on m.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithBackOff replaces the exponential backoff between attempts.
func WithBackOff(fn func() backoff.BackOff) ClientOption {
	return func(c *Client) { c.newBackOff = fn }
}

// NewClient wraps provider using the limits in cfg. name labels logs and
// metrics.
func NewClient(provider Generator, name string, cfg config.GenerationConfig, opts ...ClientOption) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider is nil", ErrInvalidConfig)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		provider: provider,
		name:     name,
		limiter:  rate.NewLimiter(limit, burst),
		maxTries: cfg.MaxRetries + 1,
		timeout:  cfg.Timeout.Duration(),
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Generate sends req, retrying transient failures. Rejections and context
// cancellation end the call immediately.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if c.scrubber != nil {
		req.System = c.scrubber.Scrub(req.System)
		req.User = c.scrubber.Scrub(req.User)
	}

	start := time.Now()
	attempt := 0
	op := func() (string, error) {
		attempt++
		if attempt > 1 {
			c.metrics.recordRetry(ctx, c.name)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return "", backoff.Permanent(fmt.Errorf("waiting for rate limiter: %w", err))
		}

		callCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		text, err := c.provider.Generate(callCtx, req)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil || errors.Is(err, ErrRejected) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	c.logger.Trace(ctx, "generation request",
		zap.String("provider", c.name),
		zap.Int("system_len", len(req.System)),
		zap.Int("user_len", len(req.User)))

	text, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn(ctx, "generation attempt failed, retrying",
				zap.String("provider", c.name),
				zap.Duration("backoff", next),
				zap.Error(err))
		}),
	)

	elapsed := time.Since(start)
	c.metrics.recordCall(ctx, c.name, elapsed, err)
	if err != nil {
		c.logger.Error(ctx, "generation failed",
			zap.String("provider", c.name),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return "", fmt.Errorf("generating with %s after %d attempt(s): %w", c.name, attempt, err)
	}

	c.logger.Debug(ctx, "generation complete",
		zap.String("provider", c.name),
		zap.Int("attempts", attempt),
		zap.Int("response_len", len(text)),
		zap.Duration("duration", elapsed))
	return text, nil
}
