// Package resource stores large tool results out of band. Every resource
// lives for exactly one hour; small payloads are kept inline in the index and
// larger ones are written, compressed, to a blob backend.
package resource

import (
	"context"
	"errors"
	"time"
)

const (
	// TTL is the fixed lifetime of every stored resource.
	TTL = time.Hour
	// InlineThreshold is the payload size at which storage moves to the blob
	// tier. Payloads strictly smaller are kept inline.
	InlineThreshold = 400 * 1024
	// MimeType is the content type of every resource payload.
	MimeType = "application/json"
)

var (
	// ErrNotFound covers unknown, expired and foreign resources alike.
	ErrNotFound = errors.New("resource not found")
	// ErrStorageUnavailable reports a failing index or blob backend.
	ErrStorageUnavailable = errors.New("resource storage unavailable")
)

// Kind classifies what a resource holds.
type Kind string

const (
	KindReport Kind = "report"
	KindList   Kind = "list"
	KindExport Kind = "export"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindReport, KindList, KindExport:
		return true
	}
	return false
}

// Tier names where the payload bytes live.
type Tier string

const (
	TierInline Tier = "inline"
	TierBlob   Tier = "blob"
)

// Metadata describes a stored resource.
type Metadata struct {
	ResourceID  string    `json:"resourceId"`
	Kind        Kind      `json:"kind"`
	OwnerUserID string    `json:"ownerUserId"`
	TenantID    string    `json:"tenantId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	SizeBytes   int64     `json:"sizeBytes"`
	StorageTier Tier      `json:"storageTier"`
}

// Expired reports whether the resource is past its lifetime at now. The
// boundary instant counts as expired.
func (m Metadata) Expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}

// Resource is a retrieved payload with its metadata.
type Resource struct {
	Metadata Metadata
	Data     []byte
}

// Entry is the index record for one resource. Inline holds the payload for
// the inline tier and is nil for blob-tier entries.
type Entry struct {
	Metadata Metadata `json:"metadata"`
	Inline   []byte   `json:"inline,omitempty"`
}

// Index holds resource metadata, inline payloads and the expiry schedule.
// Get returns ErrNotFound for unknown ids; it does not filter expired
// entries, the Store does.
type Index interface {
	Put(ctx context.Context, entry Entry) error
	Get(ctx context.Context, id string) (Entry, error)
	Delete(ctx context.Context, id string) error
	// Expired returns up to limit ids whose expiry is at or before now.
	Expired(ctx context.Context, now time.Time, limit int) ([]string, error)
	Close() error
}

func blobKey(id string) string {
	return "resources/" + id
}
