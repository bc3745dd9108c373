// Package memindex is an in-process resource.Index backed by a map and a
// min-heap ordered by expiry.
package memindex

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"pkt.systems/ledgerd/internal/resource"
)

// Index implements resource.Index in memory.
type Index struct {
	mu      sync.RWMutex
	entries map[string]resource.Entry
	expiry  expiryHeap
}

// New returns an empty index.
func New() *Index {
	return &Index{entries: make(map[string]resource.Entry)}
}

// Put stores entry, replacing any previous entry with the same id.
func (x *Index) Put(_ context.Context, entry resource.Entry) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	entry.Inline = append([]byte(nil), entry.Inline...)
	x.entries[entry.Metadata.ResourceID] = entry
	heap.Push(&x.expiry, expiryItem{id: entry.Metadata.ResourceID, at: entry.Metadata.ExpiresAt})
	return nil
}

// Get returns the entry for id.
func (x *Index) Get(_ context.Context, id string) (resource.Entry, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	entry, ok := x.entries[id]
	if !ok {
		return resource.Entry{}, resource.ErrNotFound
	}
	entry.Inline = append([]byte(nil), entry.Inline...)
	return entry, nil
}

// Delete removes id. Its heap slot is dropped lazily by Expired.
func (x *Index) Delete(_ context.Context, id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.entries[id]; !ok {
		return resource.ErrNotFound
	}
	delete(x.entries, id)
	return nil
}

// Expired pops up to limit expired ids off the heap. Stale heap slots whose
// entry is gone or was re-put with a later expiry are discarded.
func (x *Index) Expired(_ context.Context, now time.Time, limit int) ([]string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	var ids []string
	for x.expiry.Len() > 0 && (limit <= 0 || len(ids) < limit) {
		top := x.expiry[0]
		if now.Before(top.at) {
			break
		}
		heap.Pop(&x.expiry)
		entry, ok := x.entries[top.id]
		if !ok || !entry.Metadata.ExpiresAt.Equal(top.at) {
			continue
		}
		ids = append(ids, top.id)
	}
	return ids, nil
}

// Len returns the number of live entries, expired or not.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Close satisfies resource.Index.
func (x *Index) Close() error { return nil }

type expiryItem struct {
	id string
	at time.Time
}

type expiryHeap []expiryItem

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *expiryHeap) Push(v any) { *h = append(*h, v.(expiryItem)) }

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
