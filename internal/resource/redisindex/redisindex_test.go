package redisindex

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"pkt.systems/ledgerd/internal/clock"
	"pkt.systems/ledgerd/internal/resource"
	"pkt.systems/ledgerd/internal/uuidv7"
)

func TestNewRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected error without url")
	}
	if _, err := New(context.Background(), Config{URL: "http://not-redis"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()

	x := &Index{prefix: "p"}
	if got := x.entryKey("abc"); got != "p:entry:abc" {
		t.Fatalf("unexpected entry key %q", got)
	}
	if got := x.expiryKey(); got != "p:expiry" {
		t.Fatalf("unexpected expiry key %q", got)
	}
}

// TestRedisLifecycle runs against a live server when LEDGERD_TEST_REDIS_URL
// is set.
func TestRedisLifecycle(t *testing.T) {
	url := os.Getenv("LEDGERD_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LEDGERD_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	now := time.Now().UTC()
	idx, err := New(ctx, Config{URL: url, Prefix: "ledgerd-test:" + uuidv7.NewString(), Clock: clock.NewManual(now)})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer idx.Close()

	id := uuidv7.NewString()
	entry := resource.Entry{
		Metadata: resource.Metadata{ResourceID: id, Kind: resource.KindList, OwnerUserID: "u", ExpiresAt: now.Add(time.Hour), StorageTier: resource.TierInline},
		Inline:   []byte(`[1,2,3]`),
	}
	if err := idx.Put(ctx, entry); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := idx.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Inline) != "[1,2,3]" || got.Metadata.OwnerUserID != "u" {
		t.Fatalf("unexpected entry %+v", got)
	}
	ids, err := idx.Expired(ctx, now.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("expired: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("unexpected expired ids %v", ids)
	}
	if err := idx.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := idx.Get(ctx, id); !errors.Is(err, resource.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
