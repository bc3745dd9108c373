package gateway

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

type gatewayMetrics struct {
	executeCount    metric.Int64Counter
	executeDuration metric.Int64Histogram
	deniedCount     metric.Int64Counter
	categoryCount   metric.Int64Counter
}

func newGatewayMetrics(logger pslog.Logger) *gatewayMetrics {
	meter := otel.Meter("pkt.systems/ledgerd/gateway")
	m := &gatewayMetrics{}
	var err error

	m.executeCount, err = meter.Int64Counter(
		"ledgerd.gateway.execute",
		metric.WithDescription("Tool executions"),
	)
	logMetricInitError(logger, "ledgerd.gateway.execute", err)

	m.executeDuration, err = meter.Int64Histogram(
		"ledgerd.gateway.execute.duration_ms",
		metric.WithDescription("Tool execution duration"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "ledgerd.gateway.execute.duration_ms", err)

	m.deniedCount, err = meter.Int64Counter(
		"ledgerd.gateway.denied",
		metric.WithDescription("Tool executions rejected by the permission engine"),
	)
	logMetricInitError(logger, "ledgerd.gateway.denied", err)

	m.categoryCount, err = meter.Int64Counter(
		"ledgerd.gateway.category",
		metric.WithDescription("Category manifest requests"),
	)
	logMetricInitError(logger, "ledgerd.gateway.category", err)

	return m
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err != nil && logger != nil {
		logger.Warn("gateway.metrics.init_failed", "metric", name, "error", err)
	}
}

func (m *gatewayMetrics) recordExecute(ctx context.Context, tool string, code Code, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if code != "" {
		result = string(code)
	}
	attrs := metric.WithAttributes(
		attribute.String("ledgerd.tool", tool),
		attribute.String("ledgerd.result", result),
	)
	if m.executeCount != nil {
		m.executeCount.Add(ctx, 1, attrs)
	}
	if m.executeDuration != nil {
		m.executeDuration.Record(ctx, duration.Milliseconds(), attrs)
	}
	if code == CodePermissionDenied && m.deniedCount != nil {
		m.deniedCount.Add(ctx, 1, metric.WithAttributes(attribute.String("ledgerd.tool", tool)))
	}
}

func (m *gatewayMetrics) recordCategory(ctx context.Context, category string, visible int) {
	if m == nil || m.categoryCount == nil {
		return
	}
	m.categoryCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("ledgerd.category", category),
		attribute.Int("ledgerd.visible_tools", visible),
	))
}
