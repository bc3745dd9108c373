// Package retry decorates a blob.Backend with bounded retries of transient
// failures.
package retry

import (
	"context"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/ledgerd/internal/blob"
	"pkt.systems/ledgerd/internal/clock"
)

// Config controls retry behaviour.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// Wrap returns a backend that retries transient errors according to cfg.
func Wrap(inner blob.Backend, logger pslog.Logger, clk clock.Clock, cfg Config) blob.Backend {
	if inner == nil {
		return nil
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 50 * time.Millisecond
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &backend{inner: inner, logger: logger, clock: clock.Or(clk), cfg: cfg}
}

type backend struct {
	inner  blob.Backend
	logger pslog.Logger
	clock  clock.Clock
	cfg    Config
}

func (b *backend) Put(ctx context.Context, key string, data []byte, opts blob.PutOptions) error {
	return b.withRetry(ctx, "put", key, func(ctx context.Context) error {
		return b.inner.Put(ctx, key, data, opts)
	})
}

func (b *backend) Get(ctx context.Context, key string) (blob.Object, error) {
	var obj blob.Object
	err := b.withRetry(ctx, "get", key, func(ctx context.Context) error {
		var err error
		obj, err = b.inner.Get(ctx, key)
		return err
	})
	return obj, err
}

func (b *backend) Delete(ctx context.Context, key string) error {
	return b.withRetry(ctx, "delete", key, func(ctx context.Context) error {
		return b.inner.Delete(ctx, key)
	})
}

func (b *backend) Close() error {
	return b.inner.Close()
}

func (b *backend) withRetry(ctx context.Context, op, key string, fn func(context.Context) error) error {
	attempts := b.cfg.MaxAttempts
	delay := b.cfg.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !blob.IsTransient(err) || attempt == attempts {
			return err
		}
		b.logger.Warn("blob.retry.transient",
			"operation", op,
			"key", key,
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err,
		)
		if err := clock.Sleep(ctx, b.clock, delay); err != nil {
			return err
		}
		next := time.Duration(float64(delay) * b.cfg.Multiplier)
		if next > b.cfg.MaxDelay {
			next = b.cfg.MaxDelay
		}
		delay = next
	}
	return lastErr
}
