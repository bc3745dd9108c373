package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"pkt.systems/pslog"

	"pkt.systems/ledgerd/internal/blob"
	"pkt.systems/ledgerd/internal/clock"
	"pkt.systems/ledgerd/internal/svcfields"
	"pkt.systems/ledgerd/internal/uuidv7"
)

const sweepBatch = 256

// Config wires a Store.
type Config struct {
	// BaseURL prefixes resource URIs, e.g. https://ledgerd.example.com.
	BaseURL     string
	Index       Index
	Blob        blob.Backend
	Compression blob.Compression
	Clock       clock.Clock
	Logger      pslog.Logger
}

// Store persists tool results for later out-of-band retrieval.
type Store struct {
	baseURL     string
	index       Index
	blob        blob.Backend
	compression blob.Compression
	clock       clock.Clock
	logger      pslog.Logger
}

// New validates cfg and returns a Store.
func New(cfg Config) (*Store, error) {
	if cfg.Index == nil {
		return nil, fmt.Errorf("resource: index required")
	}
	if cfg.Blob == nil {
		return nil, fmt.Errorf("resource: blob backend required")
	}
	return &Store{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		index:       cfg.Index,
		blob:        cfg.Blob,
		compression: cfg.Compression,
		clock:       clock.Or(cfg.Clock),
		logger:      svcfields.WithSubsystem(cfg.Logger, "resource.store"),
	}, nil
}

// URI returns the retrieval URI for id.
func (s *Store) URI(id string) string {
	return s.baseURL + "/resources/" + id
}

// Store serializes data to JSON and keeps it for TTL. The returned metadata
// carries the new resource id.
func (s *Store) Store(ctx context.Context, data any, kind Kind, owner, tenant string) (Metadata, error) {
	if !kind.Valid() {
		return Metadata{}, fmt.Errorf("resource: invalid kind %q", kind)
	}
	if owner == "" {
		return Metadata{}, fmt.Errorf("resource: owner required")
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return Metadata{}, fmt.Errorf("resource: encode payload: %w", err)
	}
	now := s.clock.Now()
	meta := Metadata{
		ResourceID:  uuidv7.NewString(),
		Kind:        kind,
		OwnerUserID: owner,
		TenantID:    tenant,
		CreatedAt:   now,
		ExpiresAt:   now.Add(TTL),
		SizeBytes:   int64(len(payload)),
		StorageTier: TierInline,
	}
	logger := s.logger.With(svcfields.ResourceKey, meta.ResourceID, svcfields.UserKey, owner)
	if len(payload) < InlineThreshold {
		if err := s.index.Put(ctx, Entry{Metadata: meta, Inline: payload}); err != nil {
			logger.Error("resource.store.index_error", "error", err)
			return Metadata{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		logger.Debug("resource.store.inline", "kind", kind, "size", humanize.Bytes(uint64(len(payload))))
		return meta, nil
	}

	meta.StorageTier = TierBlob
	frame, err := blob.Frame(payload, s.compression)
	if err != nil {
		return Metadata{}, fmt.Errorf("resource: compress payload: %w", err)
	}
	key := blobKey(meta.ResourceID)
	if err := s.blob.Put(ctx, key, frame, blob.PutOptions{ContentType: blob.ContentTypeJSON}); err != nil {
		logger.Error("resource.store.blob_error", "error", err)
		return Metadata{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if err := s.index.Put(ctx, Entry{Metadata: meta}); err != nil {
		logger.Error("resource.store.index_error", "error", err)
		if derr := s.blob.Delete(ctx, key); derr != nil && !errors.Is(derr, blob.ErrNotFound) {
			logger.Warn("resource.store.blob_cleanup_error", "error", derr)
		}
		return Metadata{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	logger.Debug("resource.store.blob",
		"kind", kind,
		"size", humanize.Bytes(uint64(len(payload))),
		"stored", humanize.Bytes(uint64(len(frame))),
	)
	return meta, nil
}

// Retrieve returns the resource stored under id. Unknown, expired and
// blob-missing resources all yield ErrNotFound.
func (s *Store) Retrieve(ctx context.Context, id string) (Resource, error) {
	if !uuidv7.Valid(id) {
		return Resource{}, ErrNotFound
	}
	entry, err := s.index.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Resource{}, ErrNotFound
		}
		return Resource{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	meta := entry.Metadata
	if meta.Expired(s.clock.Now()) {
		s.evict(ctx, id, meta.StorageTier)
		return Resource{}, ErrNotFound
	}
	if meta.StorageTier == TierInline {
		return Resource{Metadata: meta, Data: entry.Inline}, nil
	}
	obj, err := s.blob.Get(ctx, blobKey(id))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			s.logger.Warn("resource.retrieve.blob_missing", svcfields.ResourceKey, id)
			s.evict(ctx, id, TierInline)
			return Resource{}, ErrNotFound
		}
		return Resource{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	data, err := blob.Unframe(obj.Data)
	if err != nil {
		return Resource{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return Resource{Metadata: meta, Data: data}, nil
}

// RetrieveOwned is Retrieve restricted to resources owned by userID. A
// foreign resource is reported as ErrNotFound.
func (s *Store) RetrieveOwned(ctx context.Context, id, userID string) (Resource, error) {
	res, err := s.Retrieve(ctx, id)
	if err != nil {
		return Resource{}, err
	}
	if userID == "" || res.Metadata.OwnerUserID != userID {
		s.logger.Warn("resource.retrieve.foreign", svcfields.ResourceKey, id, svcfields.UserKey, userID)
		return Resource{}, ErrNotFound
	}
	return res, nil
}

// Sweep evicts every expired resource and returns how many were removed.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	now := s.clock.Now()
	removed := 0
	for {
		ids, err := s.index.Expired(ctx, now, sweepBatch)
		if err != nil {
			return removed, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		if len(ids) == 0 {
			break
		}
		progressed := false
		for _, id := range ids {
			tier := TierBlob
			if entry, err := s.index.Get(ctx, id); err == nil {
				tier = entry.Metadata.StorageTier
			}
			if s.evict(ctx, id, tier) {
				removed++
				progressed = true
			}
		}
		if len(ids) < sweepBatch || !progressed {
			break
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
	}
	if removed > 0 {
		s.logger.Debug("resource.sweep.evicted", "count", removed)
	}
	return removed, nil
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		if err := clock.Sleep(ctx, s.clock, interval); err != nil {
			return
		}
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("resource.sweep.error", "error", err)
		}
	}
}

func (s *Store) evict(ctx context.Context, id string, tier Tier) bool {
	if tier == TierBlob {
		if err := s.blob.Delete(ctx, blobKey(id)); err != nil && !errors.Is(err, blob.ErrNotFound) {
			s.logger.Warn("resource.evict.blob_error", svcfields.ResourceKey, id, "error", err)
		}
	}
	if err := s.index.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Warn("resource.evict.index_error", svcfields.ResourceKey, id, "error", err)
		return false
	}
	return true
}

// Close releases the index and blob backend.
func (s *Store) Close() error {
	return errors.Join(s.index.Close(), s.blob.Close())
}
