package llm

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// retrying retries failed calls with capped exponential backoff. It
// gives up early when the next wait would run past the context deadline:
// the assistant bounds every reply, and sleeping into that bound only
// trades a provider error for a deadline error.
type retrying struct {
	inner Provider
	cfg   RetryConfig
	log   *slog.Logger
}

// WithRetry wraps p with retries per cfg.
func WithRetry(p Provider, cfg RetryConfig, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &retrying{inner: p, cfg: cfg, log: logger}
}

func (r *retrying) Generate(ctx context.Context, req Request) (*Response, error) {
	attempts := max(r.cfg.MaxAttempts, 1)
	invalidSeen := false
	for attempt := 1; ; attempt++ {
		resp, err := r.inner.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		if attempt == attempts || !retryable(err, &invalidSeen) {
			return nil, err
		}

		wait := r.backoff(attempt)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			return nil, err
		}
		r.log.Debug("retrying llm request", "attempt", attempt, "wait", wait, "err", err)
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(wait):
		}
	}
}

func (r *retrying) ModelID() string { return r.inner.ModelID() }

// retryable reports whether err is worth another attempt. An invalid
// reply gets one more try; a second one means the model does not follow
// the schema.
func retryable(err error, invalidSeen *bool) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return true
	}
	if e.Kind == KindInvalid {
		if *invalidSeen {
			return false
		}
		*invalidSeen = true
	}
	return e.Retryable()
}

// backoff is the wait after the given failed attempt (1-based), with
// ±20% jitter.
func (r *retrying) backoff(attempt int) time.Duration {
	mult := max(r.cfg.Multiplier, 1)
	wait := float64(r.cfg.InitialWait) * math.Pow(mult, float64(attempt-1))
	if r.cfg.MaxWait > 0 {
		wait = min(wait, float64(r.cfg.MaxWait))
	}
	wait += wait * 0.2 * (2*rand.Float64() - 1)
	return time.Duration(max(wait, 0))
}
