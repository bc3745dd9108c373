package permission

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MemoryStore keeps levels in process memory. Each user owns an independent
// record, so access for one user never waits on another.
type MemoryStore struct {
	records sync.Map // user -> *atomic.Int32
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get returns the user's level.
func (s *MemoryStore) Get(_ context.Context, user string) (Level, bool, error) {
	v, ok := s.records.Load(user)
	if !ok {
		return ReadOnly, false, nil
	}
	return Level(v.(*atomic.Int32).Load()), true, nil
}

// Set records level for user.
func (s *MemoryStore) Set(_ context.Context, user string, level Level) error {
	if user == "" {
		return fmt.Errorf("permission: user required")
	}
	if !level.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, int(level))
	}
	rec := new(atomic.Int32)
	rec.Store(int32(level))
	if existing, loaded := s.records.LoadOrStore(user, rec); loaded {
		existing.(*atomic.Int32).Store(int32(level))
	}
	return nil
}

// EnsureDefault creates a ReadOnly record for user when absent.
func (s *MemoryStore) EnsureDefault(_ context.Context, user string) (Level, error) {
	if user == "" {
		return ReadOnly, fmt.Errorf("permission: user required")
	}
	v, _ := s.records.LoadOrStore(user, new(atomic.Int32))
	return Level(v.(*atomic.Int32).Load()), nil
}

// Close satisfies Store.
func (s *MemoryStore) Close() error { return nil }
