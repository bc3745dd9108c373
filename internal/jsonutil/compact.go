// Package jsonutil compacts and validates untrusted JSON bodies under a size
// cap before they are decoded.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"pkt.systems/jpact"
)

const smallJSONThreshold = 2048

// ErrTooLarge reports a body above the configured cap.
var ErrTooLarge = errors.New("json: payload too large")

// ErrInvalid reports a body that is not a single JSON value.
var ErrInvalid = errors.New("json: invalid input")

// Compact reads at most maxBytes from r and returns the compacted JSON.
// maxBytes <= 0 disables the cap. Small bodies without insignificant
// whitespace are validated and returned as read.
func Compact(r io.Reader, maxBytes int64) ([]byte, error) {
	var src io.Reader = r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, maxBytes)
	}
	if len(data) <= smallJSONThreshold && !hasSpace(data) {
		if !json.Valid(data) {
			return nil, ErrInvalid
		}
		return data, nil
	}
	out, err := jpact.CompactToBuffer(bytes.NewReader(data), maxBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return out, nil
}

func hasSpace(data []byte) bool {
	for _, b := range data {
		switch b {
		case ' ', '\n', '\t', '\r':
			return true
		}
	}
	return false
}
