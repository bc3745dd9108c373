package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pkt.systems/ledgerd/internal/credential"
	"pkt.systems/ledgerd/internal/cursor"
	"pkt.systems/ledgerd/internal/resource"
	"pkt.systems/ledgerd/internal/retry"
	"pkt.systems/ledgerd/internal/schema"
	"pkt.systems/ledgerd/internal/upstream"
)

// Code is the machine-readable part of a tool error.
type Code string

const (
	CodeInvalidCursor       Code = "invalid_cursor"
	CodePermissionDenied    Code = "permission_denied"
	CodeUnknownTool         Code = "unknown_tool"
	CodeSchemaViolation     Code = "schema_violation"
	CodeUpstreamUnavailable Code = "upstream_unavailable"
	CodeUpstreamError       Code = "upstream_error"
	CodeResourceNotFound    Code = "resource_not_found"
	CodeStorageUnavailable  Code = "storage_unavailable"
	CodeNotConnected        Code = "not_connected"
	CodeInternal            Code = "internal_error"
)

const internalMessage = "internal error while executing the tool"

// ToolError is the only error type Execute returns.
type ToolError struct {
	Code      Code
	Message   string
	Retryable bool
	cause     error
}

func (e *ToolError) Error() string { return string(e.Code) + ": " + e.Message }

// Unwrap exposes the underlying failure for logging.
func (e *ToolError) Unwrap() error { return e.cause }

// Envelope is the wire form of a failed tool call.
type Envelope struct {
	Error     string `json:"error"`
	IsError   bool   `json:"isError"`
	Code      Code   `json:"code"`
	Retryable bool   `json:"retryable"`
}

// Envelope returns the wire form of e.
func (e *ToolError) Envelope() Envelope {
	return Envelope{Error: e.Message, IsError: true, Code: e.Code, Retryable: e.Retryable}
}

// JSON encodes the envelope.
func (e *ToolError) JSON() []byte {
	raw, err := json.Marshal(e.Envelope())
	if err != nil {
		return []byte(`{"error":"` + internalMessage + `","isError":true,"code":"internal_error","retryable":false}`)
	}
	return raw
}

func newToolError(code Code, message string, cause error) *ToolError {
	return &ToolError{Code: code, Message: message, cause: cause}
}

// Classify maps any failure to a ToolError. Unclassified failures become
// internal errors whose text is not exposed.
func Classify(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	var violation *schema.ViolationError
	switch {
	case errors.Is(err, cursor.ErrInvalidCursor):
		msg := "invalid cursor, restart pagination without a cursor"
		if errors.Is(err, cursor.ErrCursorExpired) {
			msg = cursor.ErrCursorExpired.Error()
		}
		return newToolError(CodeInvalidCursor, msg, err)
	case errors.As(err, &violation):
		return newToolError(CodeSchemaViolation, "invalid arguments: "+violation.Error(), err)
	case errors.Is(err, credential.ErrNotConnected):
		return newToolError(CodeNotConnected, err.Error(), err)
	case errors.Is(err, upstream.ErrCircuitOpen):
		te := newToolError(CodeUpstreamUnavailable, upstream.ErrCircuitOpen.Error(), err)
		te.Retryable = true
		return te
	case retry.IsUnavailable(err):
		te := newToolError(CodeUpstreamUnavailable, unavailableMessage(err), err)
		te.Retryable = true
		return te
	case errors.Is(err, resource.ErrNotFound):
		return newToolError(CodeResourceNotFound, resource.ErrNotFound.Error(), err)
	case errors.Is(err, resource.ErrStorageUnavailable):
		te := newToolError(CodeStorageUnavailable, resource.ErrStorageUnavailable.Error(), err)
		te.Retryable = true
		return te
	case errors.Is(err, context.DeadlineExceeded):
		te := newToolError(CodeUpstreamUnavailable, "upstream request timed out", err)
		te.Retryable = true
		return te
	}
	var upErr *upstream.Error
	if errors.As(err, &upErr) {
		msg := upErr.Message
		if msg == "" {
			msg = upErr.Error()
		}
		te := newToolError(CodeUpstreamError, msg, err)
		te.Retryable = upErr.Transient()
		return te
	}
	if upstream.Classify(err) == upstream.Transient {
		te := newToolError(CodeUpstreamUnavailable, "upstream unavailable", err)
		te.Retryable = true
		return te
	}
	return newToolError(CodeInternal, internalMessage, err)
}

// unavailableMessage reports the attempt count and the upstream's own last
// message. Transport errors are not echoed since they name internal hosts.
func unavailableMessage(err error) string {
	var exhausted *retry.UpstreamUnavailableError
	if !errors.As(err, &exhausted) {
		return "upstream unavailable"
	}
	msg := fmt.Sprintf("upstream unavailable after %d attempts", exhausted.Attempts)
	var upErr *upstream.Error
	if errors.As(exhausted.Last, &upErr) {
		detail := upErr.Message
		if detail == "" {
			detail = upErr.Error()
		}
		msg += ": " + detail
	}
	return msg
}
