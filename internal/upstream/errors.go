package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"pkt.systems/ledgerd/internal/jsonutil"
)

// Error is a non-2xx upstream response.
type Error struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Message)
}

// Transient reports whether the status is worth retrying.
func (e *Error) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// Class buckets failures for retry decisions.
type Class int

const (
	// Permanent failures are returned immediately.
	Permanent Class = iota
	// Transient failures may succeed on a later attempt.
	Transient
	// Canceled means the caller gave up; nothing is retried.
	Canceled
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Canceled:
		return "canceled"
	default:
		return "permanent"
	}
}

// Classify decides how a failure returned by Client should be treated.
func Classify(err error) Class {
	if err == nil {
		return Permanent
	}
	if errors.Is(err, context.Canceled) {
		return Canceled
	}
	var upErr *Error
	if errors.As(err, &upErr) {
		if upErr.Transient() {
			return Transient
		}
		return Permanent
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Transient
	}
	if errors.Is(err, jsonutil.ErrTooLarge) || errors.Is(err, jsonutil.ErrInvalid) {
		return Permanent
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	return Permanent
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// errorMessage extracts a human readable message from the common upstream
// error shapes:
//
//	{"Message": "..."}                       Xero
//	{"Detail": "..."}                        Xero problem+json
//	{"Elements":[{"ValidationErrors":[{"Message":"..."}]}]}
//	{"error": {"message": "..."}}            Google
//	{"error": "...", "error_description": "..."}
func errorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var shape struct {
		Message  string          `json:"Message"`
		Detail   string          `json:"Detail"`
		Title    string          `json:"Title"`
		Elements []struct {
			ValidationErrors []struct {
				Message string `json:"Message"`
			} `json:"ValidationErrors"`
		} `json:"Elements"`
		Error            json.RawMessage `json:"error"`
		ErrorDescription string          `json:"error_description"`
	}
	if err := json.Unmarshal(body, &shape); err != nil {
		return truncate(strings.TrimSpace(string(body)), 200)
	}
	var validation []string
	for _, el := range shape.Elements {
		for _, ve := range el.ValidationErrors {
			if ve.Message != "" {
				validation = append(validation, ve.Message)
			}
		}
	}
	switch {
	case len(validation) > 0:
		return strings.Join(validation, "; ")
	case shape.Message != "":
		return shape.Message
	case shape.Detail != "":
		return shape.Detail
	case shape.Title != "":
		return shape.Title
	case shape.ErrorDescription != "":
		return shape.ErrorDescription
	}
	if len(shape.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(shape.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if json.Unmarshal(shape.Error, &flat) == nil {
			return flat
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
