package resource_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/ledgerd/internal/blob"
	"pkt.systems/ledgerd/internal/blob/memory"
	"pkt.systems/ledgerd/internal/clock"
	"pkt.systems/ledgerd/internal/resource"
	"pkt.systems/ledgerd/internal/resource/memindex"
)

type fixture struct {
	store *resource.Store
	index *memindex.Index
	blobs *memory.Store
	clock *clock.Manual
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	idx := memindex.New()
	blobs := memory.New()
	manual := clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	store, err := resource.New(resource.Config{
		BaseURL:     "https://ledgerd.test/",
		Index:       idx,
		Blob:        blobs,
		Compression: blob.CompressionZstd,
		Clock:       manual,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return fixture{store: store, index: idx, blobs: blobs, clock: manual}
}

func TestStoreTiers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload string
		tier    resource.Tier
		blobs   int
	}{
		{name: "small", payload: "hello", tier: resource.TierInline, blobs: 0},
		{name: "just-below", payload: strings.Repeat("a", resource.InlineThreshold-3), tier: resource.TierInline, blobs: 0},
		{name: "at-threshold", payload: strings.Repeat("a", resource.InlineThreshold-2), tier: resource.TierBlob, blobs: 1},
		{name: "large", payload: strings.Repeat("ledger", 100_000), tier: resource.TierBlob, blobs: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			ctx := context.Background()
			meta, err := f.store.Store(ctx, tc.payload, resource.KindExport, "user-1", "tenant-1")
			if err != nil {
				t.Fatalf("store: %v", err)
			}
			if meta.StorageTier != tc.tier {
				t.Fatalf("expected tier %s, got %s (size %d)", tc.tier, meta.StorageTier, meta.SizeBytes)
			}
			if f.blobs.Len() != tc.blobs {
				t.Fatalf("expected %d blobs, got %d", tc.blobs, f.blobs.Len())
			}
			if !meta.ExpiresAt.Equal(meta.CreatedAt.Add(time.Hour)) {
				t.Fatalf("expiry not createdAt+1h: %v %v", meta.CreatedAt, meta.ExpiresAt)
			}
			res, err := f.store.Retrieve(ctx, meta.ResourceID)
			if err != nil {
				t.Fatalf("retrieve: %v", err)
			}
			var got string
			if err := json.Unmarshal(res.Data, &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tc.payload {
				t.Fatalf("payload mismatch for %s", tc.name)
			}
			if res.Metadata.SizeBytes != int64(len(res.Data)) {
				t.Fatalf("size mismatch: meta %d data %d", res.Metadata.SizeBytes, len(res.Data))
			}
		})
	}
}

func TestRetrieveExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	meta, err := f.store.Store(ctx, []int{1, 2, 3}, resource.KindList, "user-1", "")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	f.clock.Advance(59*time.Minute + 59*time.Second)
	if _, err := f.store.Retrieve(ctx, meta.ResourceID); err != nil {
		t.Fatalf("retrieve before expiry: %v", err)
	}
	f.clock.Advance(time.Second)
	if _, err := f.store.Retrieve(ctx, meta.ResourceID); !errors.Is(err, resource.ErrNotFound) {
		t.Fatalf("expected not found at expiry, got %v", err)
	}
	if f.index.Len() != 0 {
		t.Fatalf("expired entry not evicted on read")
	}
}

var tierPayloads = []struct {
	name    string
	payload string
	tier    resource.Tier
}{
	{name: "inline", payload: "hello ledger", tier: resource.TierInline},
	{name: "blob", payload: strings.Repeat("ledger", 100_000), tier: resource.TierBlob},
}

func TestRetrieveConcurrentReaders(t *testing.T) {
	t.Parallel()

	for _, tc := range tierPayloads {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			ctx := context.Background()
			meta, err := f.store.Store(ctx, tc.payload, resource.KindExport, "user-1", "tenant-1")
			if err != nil {
				t.Fatalf("store: %v", err)
			}
			if meta.StorageTier != tc.tier {
				t.Fatalf("expected tier %s, got %s", tc.tier, meta.StorageTier)
			}
			want, err := f.store.Retrieve(ctx, meta.ResourceID)
			if err != nil {
				t.Fatalf("retrieve: %v", err)
			}

			const readers = 64
			start := make(chan struct{})
			var wg sync.WaitGroup
			for range readers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					res, err := f.store.RetrieveOwned(ctx, meta.ResourceID, "user-1")
					if err != nil {
						t.Errorf("concurrent retrieve: %v", err)
						return
					}
					if !bytes.Equal(res.Data, want.Data) {
						t.Errorf("concurrent retrieve returned %d bytes, want %d identical bytes", len(res.Data), len(want.Data))
					}
					if res.Metadata.ResourceID != meta.ResourceID || res.Metadata.StorageTier != tc.tier {
						t.Errorf("unexpected metadata %+v", res.Metadata)
					}
				}()
			}
			close(start)
			wg.Wait()
			if f.index.Len() != 1 {
				t.Fatalf("concurrent reads changed the index: %d entries", f.index.Len())
			}
		})
	}
}

func TestRetrieveRacesExpiry(t *testing.T) {
	t.Parallel()

	for _, tc := range tierPayloads {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			ctx := context.Background()
			meta, err := f.store.Store(ctx, tc.payload, resource.KindExport, "user-1", "tenant-1")
			if err != nil {
				t.Fatalf("store: %v", err)
			}
			want, err := f.store.Retrieve(ctx, meta.ResourceID)
			if err != nil {
				t.Fatalf("retrieve: %v", err)
			}
			f.clock.Advance(resource.TTL - time.Millisecond)

			const readers = 64
			start := make(chan struct{})
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				served   int
				notFound int
			)
			for range readers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					res, err := f.store.Retrieve(ctx, meta.ResourceID)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						served++
						if !bytes.Equal(res.Data, want.Data) {
							t.Errorf("read near expiry returned %d bytes, want %d identical bytes", len(res.Data), len(want.Data))
						}
					case errors.Is(err, resource.ErrNotFound):
						notFound++
					default:
						t.Errorf("read near expiry: %v", err)
					}
				}()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				f.clock.Advance(time.Millisecond)
				if _, err := f.store.Sweep(ctx); err != nil {
					t.Errorf("sweep: %v", err)
				}
			}()
			close(start)
			wg.Wait()

			if served+notFound != readers {
				t.Fatalf("served %d + not found %d != %d readers", served, notFound, readers)
			}
			if _, err := f.store.Retrieve(ctx, meta.ResourceID); !errors.Is(err, resource.ErrNotFound) {
				t.Fatalf("expected not found after expiry, got %v", err)
			}
			if f.index.Len() != 0 || f.blobs.Len() != 0 {
				t.Fatalf("expired resource left behind: %d index entries, %d blobs", f.index.Len(), f.blobs.Len())
			}
		})
	}
}

func TestRetrieveUnknownAndMalformed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"", "nope", "../../etc/passwd", "018f2a4e-7c1b-7d3a-9b2c-1a2b3c4d5e6f"} {
		if _, err := f.store.Retrieve(ctx, id); !errors.Is(err, resource.ErrNotFound) {
			t.Fatalf("id %q: expected not found, got %v", id, err)
		}
	}
}

func TestRetrieveBlobMissing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	meta, err := f.store.Store(ctx, strings.Repeat("z", resource.InlineThreshold), resource.KindExport, "user-1", "")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := f.blobs.Delete(ctx, "resources/"+meta.ResourceID); err != nil {
		t.Fatalf("delete blob: %v", err)
	}
	if _, err := f.store.Retrieve(ctx, meta.ResourceID); !errors.Is(err, resource.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRetrieveOwned(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	meta, err := f.store.Store(ctx, map[string]string{"k": "v"}, resource.KindReport, "owner", "")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := f.store.RetrieveOwned(ctx, meta.ResourceID, "owner"); err != nil {
		t.Fatalf("owner retrieve: %v", err)
	}
	_, foreign := f.store.RetrieveOwned(ctx, meta.ResourceID, "intruder")
	_, missing := f.store.RetrieveOwned(ctx, "018f2a4e-7c1b-7d3a-9b2c-1a2b3c4d5e6f", "intruder")
	if !errors.Is(foreign, resource.ErrNotFound) || foreign.Error() != missing.Error() {
		t.Fatalf("foreign and missing must be indistinguishable: %v vs %v", foreign, missing)
	}
}

func TestSweepEvictsExpired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.Store(ctx, "small", resource.KindList, "u", ""); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := f.store.Store(ctx, strings.Repeat("q", resource.InlineThreshold), resource.KindExport, "u", ""); err != nil {
		t.Fatalf("store: %v", err)
	}
	f.clock.Advance(30 * time.Minute)
	fresh, err := f.store.Store(ctx, "fresh", resource.KindList, "u", "")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	f.clock.Advance(31 * time.Minute)

	removed, err := f.store.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 evictions, got %d", removed)
	}
	if f.blobs.Len() != 0 {
		t.Fatalf("expected blob deleted, %d remain", f.blobs.Len())
	}
	if _, err := f.store.Retrieve(ctx, fresh.ResourceID); err != nil {
		t.Fatalf("fresh resource lost: %v", err)
	}
}

type failingBlob struct{}

func (failingBlob) Put(context.Context, string, []byte, blob.PutOptions) error {
	return blob.NewTransientError(errors.New("backend down"))
}
func (failingBlob) Get(context.Context, string) (blob.Object, error) {
	return blob.Object{}, errors.New("backend down")
}
func (failingBlob) Delete(context.Context, string) error { return nil }
func (failingBlob) Close() error                         { return nil }

func TestStoreFailureIsStorageUnavailable(t *testing.T) {
	t.Parallel()

	store, err := resource.New(resource.Config{Index: memindex.New(), Blob: failingBlob{}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = store.Store(context.Background(), strings.Repeat("x", resource.InlineThreshold), resource.KindExport, "u", "")
	if !errors.Is(err, resource.ErrStorageUnavailable) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
}

func TestStoreRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := f.store.Store(context.Background(), "x", resource.Kind("bogus"), "u", ""); err == nil {
		t.Fatal("expected invalid kind error")
	}
	if _, err := f.store.Store(context.Background(), "x", resource.KindList, "", ""); err == nil {
		t.Fatal("expected missing owner error")
	}
}
