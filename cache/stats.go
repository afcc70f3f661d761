package cache

import "sync"

// Stats tracks running operation counters for a Tiered store. Process-wide,
// reset only by explicit call, never persisted.
type Stats struct {
	mu      sync.Mutex
	hits    uint64
	misses  uint64
	sets    uint64
	deletes uint64
	errors  uint64
}

// StatsSnapshot is a point-in-time copy of the counters plus the derived
// hit rate.
type StatsSnapshot struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Sets    uint64  `json:"sets"`
	Deletes uint64  `json:"deletes"`
	Errors  uint64  `json:"errors"`
	HitRate float64 `json:"hitRate"`
}

func (s *Stats) hit() {
	s.mu.Lock()
	s.hits++
	s.mu.Unlock()
}

func (s *Stats) miss() {
	s.mu.Lock()
	s.misses++
	s.mu.Unlock()
}

func (s *Stats) set() {
	s.mu.Lock()
	s.sets++
	s.mu.Unlock()
}

func (s *Stats) delete() {
	s.mu.Lock()
	s.deletes++
	s.mu.Unlock()
}

func (s *Stats) error() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := StatsSnapshot{
		Hits:    s.hits,
		Misses:  s.misses,
		Sets:    s.sets,
		Deletes: s.deletes,
		Errors:  s.errors,
	}
	if total := s.hits + s.misses + s.sets + s.deletes; total > 0 {
		snap.HitRate = float64(s.hits) / float64(total)
	}
	return snap
}

// Reset zeroes all counters.
func (s *Stats) Reset() {
	s.mu.Lock()
	s.hits, s.misses, s.sets, s.deletes, s.errors = 0, 0, 0, 0, 0
	s.mu.Unlock()
}
