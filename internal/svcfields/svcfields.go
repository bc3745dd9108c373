package svcfields

import (
	"context"
	"strings"

	"pkt.systems/pslog"
)

// Canonical log keys shared by every subsystem.
const (
	SubsystemKey   = pslog.TrustedString("sys")
	UserKey        = pslog.TrustedString("user")
	ToolKey        = pslog.TrustedString("tool")
	CallKey        = pslog.TrustedString("call_id")
	ResourceKey    = pslog.TrustedString("resource_id")
	CorrelationKey = pslog.TrustedString("correlation_id")
)

// Subsystem builds a dot-delimited subsystem path, skipping empty parts.
func Subsystem(parts ...string) string {
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.Trim(part, ". "); part != "" {
			filtered = append(filtered, part)
		}
	}
	return strings.Join(filtered, ".")
}

// WithSubsystem attaches a subsystem tag to every log entry.
func WithSubsystem(logger pslog.Logger, subsystem string) pslog.Logger {
	logger = Ensure(logger)
	subsystem = strings.Trim(subsystem, ". ")
	if subsystem == "" {
		return logger
	}
	return logger.With(SubsystemKey, subsystem)
}

// WithCall tags a logger with the identity of a single tool invocation.
func WithCall(logger pslog.Logger, callID, userID, tool string) pslog.Logger {
	logger = Ensure(logger)
	kv := make([]any, 0, 6)
	if callID != "" {
		kv = append(kv, CallKey, callID)
	}
	if userID != "" {
		kv = append(kv, UserKey, userID)
	}
	if tool != "" {
		kv = append(kv, ToolKey, tool)
	}
	if len(kv) == 0 {
		return logger
	}
	return logger.With(kv...)
}

// Ensure returns logger or a no-op logger when it is nil.
func Ensure(logger pslog.Logger) pslog.Logger {
	if logger == nil {
		return pslog.NoopLogger()
	}
	return logger
}

// FromContext returns the call logger stored in ctx, tagged with subsystem,
// or fallback when ctx carries none.
func FromContext(ctx context.Context, fallback pslog.Logger, subsystem string) pslog.Logger {
	if logger := pslog.LoggerFromContext(ctx); logger != nil {
		return logger.With(SubsystemKey, subsystem)
	}
	return Ensure(fallback)
}
