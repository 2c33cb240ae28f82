package registry

import (
	"sort"
	"sync"

	"github.com/brianly1003/devtap/internal/domain/events"
)

// Store holds the process-wide registry. The discovery reconciler builds
// a complete replacement map each cycle and installs it in one step;
// readers always observe either the fully-old or fully-new registry,
// never a partial mix.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewStore creates an empty registry store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*Entry)}
}

// Replace installs the new registry wholesale and reports whether the
// cardinality changed. The coarse signal is intentional: add/remove is
// what subscribers relist on.
func (s *Store) Replace(entries map[string]*Entry) bool {
	if entries == nil {
		entries = make(map[string]*Entry)
	}
	s.mu.Lock()
	changed := len(entries) != len(s.entries)
	s.entries = entries
	s.mu.Unlock()
	return changed
}

// Get returns the entry for an identity, or nil.
func (s *Store) Get(id string) *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id]
}

// List returns all live entries.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot returns a copy of the current identity->entry map. Used by
// the reconciler as the starting point for the next cycle.
func (s *Store) Snapshot() map[string]*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Entry, len(s.entries))
	for id, e := range s.entries {
		out[id] = e
	}
	return out
}

// Listing returns the session listing sorted by identity for stable
// output.
func (s *Store) Listing() []events.SessionInfo {
	entries := s.List()
	infos := make([]events.SessionInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, e.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
