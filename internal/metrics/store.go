package metrics

import (
	"sync"
	"time"

	"deployguard/internal/model"
)

// Store keeps the latest snapshot per epoch for the status API.
type Store struct {
	mu        sync.RWMutex
	byEpoch   map[string]model.Snapshot
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{
		byEpoch:   make(map[string]model.Snapshot),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(snapshot model.Snapshot) {
	if snapshot.EpochID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEpoch[snapshot.EpochID] = snapshot
	s.updatedAt[snapshot.EpochID] = time.Now().UTC()
	if len(s.byEpoch) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(epochID string) (model.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.byEpoch[epochID]
	return snap, ok
}

func (s *Store) GetAll() map[string]model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.Snapshot, len(s.byEpoch))
	for id, snap := range s.byEpoch {
		out[id] = snap
	}
	return out
}

func (s *Store) evictOldest() {
	var oldestID string
	var oldest time.Time
	for id, ts := range s.updatedAt {
		if oldestID == "" || ts.Before(oldest) {
			oldestID = id
			oldest = ts
		}
	}
	if oldestID != "" {
		delete(s.byEpoch, oldestID)
		delete(s.updatedAt, oldestID)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEpoch = make(map[string]model.Snapshot)
	s.updatedAt = make(map[string]time.Time)
}
