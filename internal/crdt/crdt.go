// Package crdt defines the narrow contract for the replicated key/value
// store the hub shares state through. The merge policy belongs entirely to
// the implementation; the hub treats it as a black box.
package crdt

import (
	"encoding/json"
	"time"
)

// Store is the contract the hub depends on. Implementations are constructed
// with an author id used to attribute writes.
type Store interface {
	Set(key string, value json.RawMessage)
	Get(key string) (json.RawMessage, bool)
	GetAll() map[string]json.RawMessage
	Delete(key string)
}

// Entry is one attributed record, the unit of persistence and replication.
// A nil Value marks a deletion (tombstone).
type Entry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value,omitempty"`
	Author    string          `json:"author"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Replicator is the optional side of a Store that can export and merge
// attributed entries. Persistence and cross-hub sync go through it.
type Replicator interface {
	Entries() []Entry
	Apply(Entry) bool
}
