// Package audit records one event per tool execution.
package audit

import (
	"context"
	"errors"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/ledgerd/internal/svcfields"
)

// Outcome classifies a tool execution.
type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeDenied Outcome = "denied"
	OutcomeError  Outcome = "error"
)

// Event describes one execute_tool call.
type Event struct {
	CallID string `json:"callId"`
	// CorrelationID ties the call to the HTTP request that carried it.
	CorrelationID string        `json:"correlationId,omitempty"`
	UserID        string        `json:"userId"`
	Tool          string        `json:"tool"`
	Outcome       Outcome       `json:"outcome"`
	Code          string        `json:"code,omitempty"`
	Duration      time.Duration `json:"durationNs"`
	At            time.Time     `json:"at"`
}

// Sink receives audit events. Record must not block the calling request for
// longer than a local write.
type Sink interface {
	Record(ctx context.Context, ev Event)
	Close() error
}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger pslog.Logger
}

// NewLogSink returns a sink logging at info level.
func NewLogSink(logger pslog.Logger) *LogSink {
	return &LogSink{logger: svcfields.WithSubsystem(logger, "audit")}
}

// Record implements Sink.
func (s *LogSink) Record(_ context.Context, ev Event) {
	s.logger.Info("audit.tool_call",
		svcfields.CallKey, ev.CallID,
		svcfields.CorrelationKey, ev.CorrelationID,
		svcfields.UserKey, ev.UserID,
		svcfields.ToolKey, ev.Tool,
		"outcome", string(ev.Outcome),
		"code", ev.Code,
		"duration_ms", ev.Duration.Milliseconds(),
	)
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }

// Multi fans events out to several sinks.
type Multi []Sink

// Record implements Sink.
func (m Multi) Record(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Record(ctx, ev)
	}
}

// Close implements Sink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

// Record implements Sink.
func (Discard) Record(context.Context, Event) {}

// Close implements Sink.
func (Discard) Close() error { return nil }
