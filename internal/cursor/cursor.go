// Package cursor implements the opaque pagination tokens handed to MCP
// clients. A token carries an offset, a page size and the time it was issued;
// it is valid for one hour and must be passed back verbatim.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pkt.systems/ledgerd/internal/clock"
)

const (
	// TTL is the fixed lifetime of a cursor token.
	TTL = time.Hour
	// MaxPageSize bounds the page size a token may carry.
	MaxPageSize = 1000
	// maxFutureSkew tolerates small clock differences between replicas.
	maxFutureSkew = time.Minute
	maxTokenLen   = 256
)

// ErrInvalidCursor is returned for malformed, tampered or expired tokens.
// Callers must restart pagination from the beginning.
var ErrInvalidCursor = errors.New("invalid cursor")

// ErrCursorExpired is wrapped together with ErrInvalidCursor when a token is
// older than TTL.
var ErrCursorExpired = errors.New("cursor expired, please retry your search")

// Position is a decoded pagination position.
type Position struct {
	Offset   int `json:"offset"`
	PageSize int `json:"pageSize"`
}

// End returns the offset one past the last item of the page.
func (p Position) End() int {
	return p.Offset + p.PageSize
}

type payload struct {
	Offset   *int   `json:"o"`
	PageSize *int   `json:"s"`
	Issued   *int64 `json:"t"`
}

// Codec encodes and decodes cursor tokens against its own clock.
type Codec struct {
	clock clock.Clock
}

// NewCodec returns a Codec using clk (wall clock when nil).
func NewCodec(clk clock.Clock) *Codec {
	return &Codec{clock: clock.Or(clk)}
}

// Encode serialises offset and pageSize with the current issue time.
func (c *Codec) Encode(offset, pageSize int) (string, error) {
	if offset < 0 {
		return "", fmt.Errorf("cursor: offset must be >= 0, got %d", offset)
	}
	if pageSize <= 0 || pageSize > MaxPageSize {
		return "", fmt.Errorf("cursor: page size must be in 1..%d, got %d", MaxPageSize, pageSize)
	}
	issued := c.clock.Now().UnixMilli()
	raw, err := json.Marshal(payload{Offset: &offset, PageSize: &pageSize, Issued: &issued})
	if err != nil {
		return "", fmt.Errorf("cursor: encode: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses token and verifies its age.
func (c *Codec) Decode(token string) (Position, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Position{}, invalid("empty token")
	}
	if len(token) > maxTokenLen {
		return Position{}, invalid("token too long")
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Position{}, invalid("not a cursor token")
	}
	var p payload
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Position{}, invalid("not a cursor token")
	}
	if p.Offset == nil || p.PageSize == nil || p.Issued == nil {
		return Position{}, invalid("missing fields")
	}
	if *p.Offset < 0 || *p.PageSize <= 0 || *p.PageSize > MaxPageSize {
		return Position{}, invalid("out of range")
	}
	issued := time.UnixMilli(*p.Issued).UTC()
	now := c.clock.Now()
	if issued.After(now.Add(maxFutureSkew)) {
		return Position{}, invalid("issued in the future")
	}
	if now.Sub(issued) > TTL {
		return Position{}, fmt.Errorf("%w: %w", ErrInvalidCursor, ErrCursorExpired)
	}
	return Position{Offset: *p.Offset, PageSize: *p.PageSize}, nil
}

// ParseParams is the single entry point paginated executors use. An empty
// cursor starts at offset zero with defaultPageSize.
func (c *Codec) ParseParams(token string, defaultPageSize int) (Position, error) {
	if strings.TrimSpace(token) == "" {
		if defaultPageSize <= 0 {
			return Position{}, fmt.Errorf("cursor: default page size must be > 0")
		}
		if defaultPageSize > MaxPageSize {
			defaultPageSize = MaxPageSize
		}
		return Position{Offset: 0, PageSize: defaultPageSize}, nil
	}
	return c.Decode(token)
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidCursor, reason)
}
