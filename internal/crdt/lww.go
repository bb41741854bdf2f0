// internal/crdt/lww.go
package crdt

import (
	"encoding/json"
	"sync"
	"time"
)

// LWW is the default Store: a last-writer-wins register map. Each key keeps
// the value with the newest timestamp; ties break toward the larger author id
// so that every replica converges on the same winner.
type LWW struct {
	author  string
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewLWW creates an empty store attributing writes to the given author.
func NewLWW(author string) *LWW {
	return &LWW{
		author:  author,
		entries: make(map[string]Entry),
	}
}

// Set records the value under key, attributed to this store's author.
func (s *LWW) Set(key string, value json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = Entry{
		Key:       key,
		Value:     append(json.RawMessage(nil), value...),
		Author:    s.author,
		UpdatedAt: time.Now().UTC(),
	}
}

// Get returns the live value for key, if any. Tombstones read as absent.
func (s *LWW) Get(key string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || e.Value == nil {
		return nil, false
	}
	return e.Value, true
}

// GetAll returns every live key/value pair.
func (s *LWW) GetAll() map[string]json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(s.entries))
	for k, e := range s.entries {
		if e.Value != nil {
			out[k] = e.Value
		}
	}
	return out
}

// Delete writes a tombstone for key so the deletion wins over older writes
// from other replicas.
func (s *LWW) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = Entry{
		Key:       key,
		Author:    s.author,
		UpdatedAt: time.Now().UTC(),
	}
}

// Entries exports every entry, tombstones included.
func (s *LWW) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// Apply merges one entry from another replica. Returns true if the entry won
// and replaced (or created) the local record.
func (s *LWW) Apply(in Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[in.Key]
	if ok {
		if in.UpdatedAt.Before(cur.UpdatedAt) {
			return false
		}
		if in.UpdatedAt.Equal(cur.UpdatedAt) && in.Author <= cur.Author {
			return false
		}
	}
	s.entries[in.Key] = in
	return true
}

var _ Store = (*LWW)(nil)
var _ Replicator = (*LWW)(nil)
