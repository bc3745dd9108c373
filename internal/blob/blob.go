// Package blob defines the object storage used for large resource payloads.
// Backends store opaque byte slices under slash-delimited keys.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// ErrNotFound indicates the requested object does not exist.
var ErrNotFound = errors.New("blob: not found")

// Backend is the object store contract shared by every blob backend.
type Backend interface {
	Put(ctx context.Context, key string, data []byte, opts PutOptions) error
	Get(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// PutOptions carries per-object attributes.
type PutOptions struct {
	ContentType string
}

// Object is a fetched blob.
type Object struct {
	Data        []byte
	ContentType string
	ModTime     time.Time
}

// Size returns the stored length of the object.
func (o Object) Size() int64 {
	return int64(len(o.Data))
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

// NewTransientError marks err as retryable.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	var te *transientError
	if errors.As(err, &te) {
		return err
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) was marked retryable.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *transientError
	return errors.As(err, &te)
}

// ContentTypeJSON is the content type used for resource payloads.
const ContentTypeJSON = "application/json"

// CleanKey normalises key and rejects empty or escaping keys.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("blob: key required")
	}
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("blob: invalid key %q", key)
	}
	return strings.TrimPrefix(clean, "/"), nil
}
