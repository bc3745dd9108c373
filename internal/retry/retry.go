// Package retry runs upstream operations with bounded exponential backoff.
// Attempts are strictly sequential.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/ledgerd/internal/clock"
	"pkt.systems/ledgerd/internal/upstream"
)

// Policy bounds the attempts made for one operation.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultPolicy makes three attempts, sleeping 1s and then 2s between them.
var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultPolicy.Multiplier
	}
	return p
}

// Delay returns the scheduled wait after the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

// UpstreamUnavailableError is returned once every attempt failed
// transiently.
type UpstreamUnavailableError struct {
	Attempts int
	Last     error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("upstream unavailable after %d attempts: %v", e.Attempts, e.Last)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Last }

// IsUnavailable reports whether err is an exhausted retry budget.
func IsUnavailable(err error) bool {
	var target *UpstreamUnavailableError
	return errors.As(err, &target)
}

// Do runs op until it succeeds, fails permanently, the context ends or the
// policy's attempts are spent. Transient failures are classified with
// upstream.Classify. The wait between attempts always follows the policy
// schedule; a Retry-After hint is logged but neither shortens nor extends it.
func Do[T any](ctx context.Context, policy Policy, clk clock.Clock, logger pslog.Logger, op string, fn func(context.Context) (T, error)) (T, error) {
	policy = policy.normalized()
	clk = clock.Or(clk)
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	var zero T
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		switch upstream.Classify(err) {
		case upstream.Canceled:
			return zero, err
		case upstream.Permanent:
			return zero, err
		}
		if attempt == policy.MaxAttempts {
			break
		}
		delay := policy.Delay(attempt)
		var retryAfter time.Duration
		var upErr *upstream.Error
		if errors.As(err, &upErr) {
			retryAfter = upErr.RetryAfter
		}
		logger.Warn("retry.transient",
			"operation", op,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"delay", delay,
			"retry_after", retryAfter,
			"error", err,
		)
		if err := clock.Sleep(ctx, clk, delay); err != nil {
			return zero, err
		}
	}
	logger.Warn("retry.exhausted", "operation", op, "attempts", policy.MaxAttempts, "error", lastErr)
	return zero, &UpstreamUnavailableError{Attempts: policy.MaxAttempts, Last: lastErr}
}
