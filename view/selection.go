package view

import (
	"slices"
	"sync"
)

// Selection is the set of task ids picked for a bulk action.
type Selection struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewSelection() *Selection {
	return &Selection{ids: make(map[string]struct{})}
}

// Toggle adds id if absent, removes it otherwise, and reports whether it is
// now selected.
func (s *Selection) Toggle(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *Selection) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *Selection) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// IDs returns the selected ids sorted.
func (s *Selection) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

// Take returns the selected ids and empties the selection.
func (s *Selection) Take() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.sortedLocked()
	clear(s.ids)
	return ids
}

func (s *Selection) sortedLocked() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.ids)
}

// Retain drops ids that are not in keep.
func (s *Selection) Retain(keep func(id string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.ids {
		if !keep(id) {
			delete(s.ids, id)
		}
	}
}
