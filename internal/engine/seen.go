package engine

import "sync"

// SeenSet tracks remote transfer ids that have already been dispatched.
// It is pruned against the live listing every poll so ids the remote side
// removed become claimable again.
type SeenSet struct {
	mu  sync.Mutex
	ids map[uint64]struct{}
}

// NewSeenSet creates an empty seen set.
func NewSeenSet() *SeenSet {
	return &SeenSet{
		ids: make(map[uint64]struct{}),
	}
}

// Contains reports whether id was already dispatched.
func (s *SeenSet) Contains(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Add marks id as dispatched.
func (s *SeenSet) Add(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

// Prune drops every id not present in live.
func (s *SeenSet) Prune(live map[uint64]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.ids {
		if _, ok := live[id]; !ok {
			delete(s.ids, id)
		}
	}
}

// Len returns the number of tracked ids.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
