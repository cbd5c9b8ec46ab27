package llm

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryConfig holds retry configuration for LLM requests.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the maximum backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns retry defaults for a local model server.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        10 * time.Second,
	}
}

// Retrying retries transient failures of the wrapped Completer.
type Retrying struct {
	next   Completer
	cfg    RetryConfig
	logger *slog.Logger
}

// WithRetry wraps c so that transient errors are retried with exponential
// backoff. The caller's context bounds the total time spent.
func WithRetry(c Completer, cfg RetryConfig, logger *slog.Logger) *Retrying {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{next: c, cfg: cfg, logger: logger}
}

// Complete implements Completer.
func (r *Retrying) Complete(ctx context.Context, msgs []Message) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		out, err := r.next.Complete(ctx, msgs)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return "", err
		}

		if attempt < r.cfg.MaxAttempts {
			backoff := r.backoff(attempt)
			r.logger.Debug("LLM request failed, retrying",
				"attempt", attempt,
				"max_attempts", r.cfg.MaxAttempts,
				"backoff", backoff,
				"status", StatusCode(err),
				"error", err)

			select {
			case <-ctx.Done():
				return "", NewTransientError(ctx.Err())
			case <-time.After(backoff):
			}
		}
	}

	return "", lastErr
}

// backoff computes exponential backoff with +/- 25% jitter.
func (r *Retrying) backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= r.cfg.BackoffMultiplier
	}

	backoff := time.Duration(float64(r.cfg.BackoffBase) * multiplier)
	if r.cfg.MaxBackoff > 0 && backoff > r.cfg.MaxBackoff {
		backoff = r.cfg.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}
