package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/portunus-access/internal/portunus/store"
)

// Store keeps the latest heartbeat per module.
type Store struct {
	mu   sync.RWMutex
	data map[string]store.HeartbeatRecord
}

func New() *Store {
	return &Store{
		data: make(map[string]store.HeartbeatRecord),
	}
}

func (s *Store) UpsertHeartbeat(_ context.Context, moduleID string, rec store.HeartbeatRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	s.data[moduleID] = rec
	return nil
}

func (s *Store) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, rec := range s.data {
		if rec.ReceivedAt.Before(cutoff) {
			delete(s.data, id)
			n++
		}
	}
	return n, nil
}

// Latest returns the last heartbeat stored for moduleID.
func (s *Store) Latest(moduleID string) (store.HeartbeatRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[moduleID]
	return rec, ok
}
