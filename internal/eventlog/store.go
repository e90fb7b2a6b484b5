package eventlog

import (
	"context"
	"errors"
	"sync"
)

// ErrOutOfOrder is returned by a Store when an entry's ID does not follow
// the last stored ID.
var ErrOutOfOrder = errors.New("eventlog: entry id out of order")

// Store persists entries in ID order.
type Store interface {
	Append(ctx context.Context, e Entry) error
	// Since returns entries with ID > cursor in ascending order. limit <= 0
	// means no limit.
	Since(ctx context.Context, cursor uint64, limit int) ([]Entry, error)
	LastID(ctx context.Context) (uint64, error)
	Close() error
}

// MemoryStore keeps entries in a slice.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.entries); n > 0 && e.ID <= s.entries[n-1].ID {
		return ErrOutOfOrder
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemoryStore) Since(_ context.Context, cursor uint64, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// IDs are dense from 1 in memory, but search anyway so a store seeded
	// with gaps still behaves.
	lo, hi := 0, len(s.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.entries[mid].ID <= cursor {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	out := s.entries[lo:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]Entry(nil), out...), nil
}

func (s *MemoryStore) LastID(context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return 0, nil
	}
	return s.entries[len(s.entries)-1].ID, nil
}

func (s *MemoryStore) Close() error { return nil }
