package decisions

import (
	"sync"
	"time"

	"deployguard/internal/model"
)

// Store is the in-memory decision log: append-only per epoch, bounded per
// epoch by limit (oldest dropped first). It backs the status API; the
// durable audit trail lives in storage.
type Store struct {
	mu      sync.RWMutex
	byEpoch map[string][]model.Decision
	limit   int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{
		byEpoch: make(map[string][]model.Decision),
		limit:   limit,
	}
}

func (s *Store) Append(d model.Decision) {
	if d.EpochID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.byEpoch[d.EpochID]
	if len(log) < s.limit {
		s.byEpoch[d.EpochID] = append(log, d)
		return
	}
	copy(log, log[1:])
	log[len(log)-1] = d
}

func (s *Store) ForEpoch(epochID string) []model.Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.byEpoch[epochID]
	out := make([]model.Decision, len(log))
	copy(out, log)
	return out
}

func (s *Store) Latest(epochID string) (model.Decision, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.byEpoch[epochID]
	if len(log) == 0 {
		return model.Decision{}, false
	}
	return log[len(log)-1], true
}

func (s *Store) Since(epochID string, ts time.Time) []model.Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Decision, 0)
	for _, d := range s.byEpoch[epochID] {
		if !d.Timestamp.Before(ts) {
			out = append(out, d)
		}
	}
	return out
}

func (s *Store) Epochs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byEpoch))
	for id := range s.byEpoch {
		out = append(out, id)
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEpoch = make(map[string][]model.Decision)
}
