package resource

import (
	"context"
	"time"
)

// Link points at the stored full dataset.
type Link struct {
	URI        string `json:"uri"`
	MimeType   string `json:"mimeType"`
	ResourceID string `json:"resourceId"`
}

// DualMetadata describes the full dataset behind a preview.
type DualMetadata struct {
	TotalCount int       `json:"totalCount"`
	ExecutedAt time.Time `json:"executedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Columns    []string  `json:"columns,omitempty"`
}

// DualResponse pairs a short inline preview with a link to the complete
// dataset.
type DualResponse[T any] struct {
	Preview  []T          `json:"preview"`
	Resource Link         `json:"resource"`
	Metadata DualMetadata `json:"metadata"`
}

// Extra carries optional descriptive fields for a dual response.
type Extra struct {
	Columns []string
}

// CreateDualResponse stores full and returns its first previewSize items
// together with a resource link. A storage failure is returned as
// ErrStorageUnavailable and no partial response is produced.
func CreateDualResponse[T any](ctx context.Context, s *Store, full []T, previewSize int, kind Kind, owner, tenant string, extra Extra) (DualResponse[T], error) {
	if full == nil {
		full = []T{}
	}
	meta, err := s.Store(ctx, full, kind, owner, tenant)
	if err != nil {
		return DualResponse[T]{}, err
	}
	previewSize = max(previewSize, 0)
	preview := full[:min(len(full), previewSize)]
	return DualResponse[T]{
		Preview: preview,
		Resource: Link{
			URI:        s.URI(meta.ResourceID),
			MimeType:   MimeType,
			ResourceID: meta.ResourceID,
		},
		Metadata: DualMetadata{
			TotalCount: len(full),
			ExecutedAt: meta.CreatedAt,
			ExpiresAt:  meta.ExpiresAt,
			Columns:    extra.Columns,
		},
	}, nil
}
