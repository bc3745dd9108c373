// Package redisindex is a resource.Index shared by several ledgerd processes
// through Redis. Entries are written with SET EX so Redis drops them on its
// own; a sorted set scored by expiry lets the sweeper find blobs to delete.
package redisindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"pkt.systems/ledgerd/internal/clock"
	"pkt.systems/ledgerd/internal/resource"
)

// DefaultPrefix namespaces every key written by the index.
const DefaultPrefix = "ledgerd:resource"

// Config controls the Redis connection.
type Config struct {
	// URL is a redis:// or rediss:// connection string.
	URL    string
	Prefix string
	// Client overrides URL when set.
	Client redis.UniversalClient
	Clock  clock.Clock
}

// Index implements resource.Index on Redis.
type Index struct {
	client redis.UniversalClient
	prefix string
	owned  bool
	clock  clock.Clock
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Index, error) {
	client := cfg.Client
	owned := false
	if client == nil {
		if cfg.URL == "" {
			return nil, fmt.Errorf("redisindex: url required")
		}
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("redisindex: parse url: %w", err)
		}
		client = redis.NewClient(opts)
		owned = true
	}
	prefix := strings.TrimRight(cfg.Prefix, ":")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if err := client.Ping(ctx).Err(); err != nil {
		if owned {
			_ = client.Close()
		}
		return nil, fmt.Errorf("redisindex: ping: %w", err)
	}
	return &Index{client: client, prefix: prefix, owned: owned, clock: clock.Or(cfg.Clock)}, nil
}

func (x *Index) entryKey(id string) string {
	return x.prefix + ":entry:" + id
}

func (x *Index) expiryKey() string {
	return x.prefix + ":expiry"
}

// Put writes entry with a Redis TTL matching its expiry and schedules it in
// the expiry set.
func (x *Index) Put(ctx context.Context, entry resource.Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redisindex: encode entry: %w", err)
	}
	id := entry.Metadata.ResourceID
	ttl := entry.Metadata.ExpiresAt.Sub(x.clock.Now())
	if ttl < time.Second {
		ttl = time.Second
	}
	_, err = x.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, x.entryKey(id), payload, ttl)
		pipe.ZAdd(ctx, x.expiryKey(), &redis.Z{Score: score(entry.Metadata.ExpiresAt), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisindex: put %s: %w", id, err)
	}
	return nil
}

// Get reads the entry for id.
func (x *Index) Get(ctx context.Context, id string) (resource.Entry, error) {
	raw, err := x.client.Get(ctx, x.entryKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return resource.Entry{}, resource.ErrNotFound
		}
		return resource.Entry{}, fmt.Errorf("redisindex: get %s: %w", id, err)
	}
	var entry resource.Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return resource.Entry{}, fmt.Errorf("redisindex: decode %s: %w", id, err)
	}
	return entry, nil
}

// Delete removes the entry and its expiry slot.
func (x *Index) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := x.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, x.entryKey(id))
		pipe.ZRem(ctx, x.expiryKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisindex: delete %s: %w", id, err)
	}
	if del.Val() == 0 {
		return resource.ErrNotFound
	}
	return nil
}

// Expired lists ids scheduled to expire at or before now. Ids whose entry
// Redis already dropped are still returned so their blobs get deleted.
func (x *Index) Expired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rng := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatFloat(score(now), 'f', 0, 64)}
	if limit > 0 {
		rng.Count = int64(limit)
	}
	ids, err := x.client.ZRangeByScore(ctx, x.expiryKey(), rng).Result()
	if err != nil {
		return nil, fmt.Errorf("redisindex: expired: %w", err)
	}
	return ids, nil
}

// Close closes the client when the index created it.
func (x *Index) Close() error {
	if !x.owned {
		return nil
	}
	return x.client.Close()
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
