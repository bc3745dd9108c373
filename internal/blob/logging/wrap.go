// Package logging decorates a blob.Backend with trace spans and debug logs.
package logging

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/pslog"

	"pkt.systems/ledgerd/internal/blob"
)

type backend struct {
	inner  blob.Backend
	logger pslog.Logger
	tracer trace.Tracer
	kind   string
}

// Wrap decorates inner with spans named ledgerd.blob.<op>. kind names the
// backend (mem, disk, s3, azure) on every span and log entry.
func Wrap(inner blob.Backend, logger pslog.Logger, kind string) blob.Backend {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &backend{
		inner:  inner,
		logger: logger,
		tracer: otel.Tracer("pkt.systems/ledgerd/blob"),
		kind:   kind,
	}
}

func (b *backend) start(ctx context.Context, op, key string) (context.Context, trace.Span, pslog.Logger, func(error, ...any)) {
	begin := time.Now()
	ctx, span := b.tracer.Start(ctx, "ledgerd.blob."+op, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("ledgerd.blob.operation", op),
		attribute.String("ledgerd.blob.backend", b.kind),
		attribute.String("ledgerd.blob.key", key),
	)
	logger := b.logger
	if ctxLogger := pslog.LoggerFromContext(ctx); ctxLogger != nil {
		logger = ctxLogger
	}
	logger = logger.With("backend", b.kind, "key", key)
	logger.Trace("blob." + op + ".begin")
	return ctx, span, logger, func(err error, kv ...any) {
		elapsed := time.Since(begin)
		span.SetAttributes(attribute.Int64("ledgerd.blob.duration_ms", elapsed.Milliseconds()))
		switch {
		case err == nil:
			span.SetStatus(codes.Ok, "")
			logger.Debug("blob."+op+".success", append(kv, "elapsed", elapsed)...)
		case errors.Is(err, blob.ErrNotFound):
			span.SetStatus(codes.Ok, "not_found")
			logger.Debug("blob."+op+".not_found", "elapsed", elapsed)
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "blob_error")
			logger.Debug("blob."+op+".error", "error", err, "transient", blob.IsTransient(err), "elapsed", elapsed)
		}
		span.End()
	}
}

func (b *backend) Put(ctx context.Context, key string, data []byte, opts blob.PutOptions) error {
	ctx, _, _, finish := b.start(ctx, "put", key)
	err := b.inner.Put(ctx, key, data, opts)
	finish(err, "bytes", len(data))
	return err
}

func (b *backend) Get(ctx context.Context, key string) (blob.Object, error) {
	ctx, _, _, finish := b.start(ctx, "get", key)
	obj, err := b.inner.Get(ctx, key)
	finish(err, "bytes", len(obj.Data))
	return obj, err
}

func (b *backend) Delete(ctx context.Context, key string) error {
	ctx, _, _, finish := b.start(ctx, "delete", key)
	err := b.inner.Delete(ctx, key)
	finish(err)
	return err
}

func (b *backend) Close() error {
	return b.inner.Close()
}
