package snapshot

import (
	"errors"
	"sync"
)

// ErrNoSnapshot is returned before any snapshot is available.
var ErrNoSnapshot = errors.New("no snapshot available")

// Store holds the latest snapshot for concurrent readers. A reader gets a
// whole snapshot, never a mix of two refreshes.
type Store struct {
	mu      sync.RWMutex
	current *Snapshot
	version uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Set replaces the current snapshot.
func (s *Store) Set(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = snap
	s.version++
}

// Get returns the current snapshot or ErrNoSnapshot.
func (s *Store) Get() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNoSnapshot
	}
	return s.current, nil
}

// Version increases on every Set. Pollers compare it to skip unchanged data.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
