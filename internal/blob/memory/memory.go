// Package memory provides an in-process blob backend for tests and
// single-node development.
package memory

import (
	"context"
	"sync"
	"time"

	"pkt.systems/ledgerd/internal/blob"
)

// Store implements blob.Backend in memory.
type Store struct {
	mu   sync.RWMutex
	objs map[string]entry
	now  func() time.Time
}

type entry struct {
	data        []byte
	contentType string
	modified    time.Time
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		objs: make(map[string]entry),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Put stores a copy of data under key.
func (s *Store) Put(ctx context.Context, key string, data []byte, opts blob.PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := blob.CleanKey(key)
	if err != nil {
		return err
	}
	clone := append([]byte(nil), data...)
	s.mu.Lock()
	s.objs[key] = entry{data: clone, contentType: opts.ContentType, modified: s.now()}
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the object stored under key.
func (s *Store) Get(ctx context.Context, key string) (blob.Object, error) {
	if err := ctx.Err(); err != nil {
		return blob.Object{}, err
	}
	key, err := blob.CleanKey(key)
	if err != nil {
		return blob.Object{}, err
	}
	s.mu.RLock()
	e, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return blob.Object{}, blob.ErrNotFound
	}
	return blob.Object{
		Data:        append([]byte(nil), e.data...),
		ContentType: e.contentType,
		ModTime:     e.modified,
	}, nil
}

// Delete removes key. Missing keys report blob.ErrNotFound.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := blob.CleanKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objs[key]; !ok {
		return blob.ErrNotFound
	}
	delete(s.objs, key)
	return nil
}

// Len reports the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objs)
}

// Close satisfies blob.Backend.
func (s *Store) Close() error { return nil }
