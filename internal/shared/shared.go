// internal/shared/shared.go
package shared

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/collabhub/internal/crdt"
	"github.com/user/collabhub/internal/fsjson"
	"github.com/user/collabhub/internal/types"
)

// State is the replicated key/value store shared across sessions, wrapped
// around an external CRDT component. The merge policy belongs to the store;
// State only adds the working-on index and disk persistence.
type State struct {
	path  string
	store crdt.Store
	mu    sync.Mutex
}

type stateFile struct {
	Version   string       `json:"version"`
	UpdatedAt time.Time    `json:"updated_at"`
	Entries   []crdt.Entry `json:"entries"`
}

// New wraps the given CRDT store, persisting to the given file path.
func New(path string, store crdt.Store) *State {
	return &State{path: path, store: store}
}

// Load hydrates the store from disk, if the store supports replication.
func (s *State) Load() error {
	rep, ok := s.store.(crdt.Replicator)
	if !ok {
		return nil
	}
	var file stateFile
	found, err := fsjson.Read(s.path, &file)
	if err != nil || !found {
		return err
	}
	for _, e := range file.Entries {
		rep.Apply(e)
	}
	return nil
}

// Set stores a JSON value under key and persists.
func (s *State) Set(key string, value json.RawMessage) error {
	s.store.Set(key, value)
	return s.save()
}

// Get returns the value under key, if present.
func (s *State) Get(key string) (json.RawMessage, bool) {
	return s.store.Get(key)
}

// GetAll returns every live key/value pair.
func (s *State) GetAll() map[string]json.RawMessage {
	return s.store.GetAll()
}

// Delete removes key and persists.
func (s *State) Delete(key string) error {
	s.store.Delete(key)
	return s.save()
}

// SetWorkingOn mirrors the session's work state under working:<session_id>
// so other sessions (and federated hubs) can see it.
func (s *State) SetWorkingOn(sessionID, path string) error {
	work := types.SessionWorkState{
		WorkingOn:  path,
		Status:     string(types.StatusActive),
		LastUpdate: time.Now().UTC(),
		Active:     true,
	}
	data, err := json.Marshal(work)
	if err != nil {
		return fmt.Errorf("marshal work state: %w", err)
	}
	return s.Set(types.WorkKeyPrefix+sessionID, data)
}

// ClearWorkingOn drops the session's work-state mirror.
func (s *State) ClearWorkingOn(sessionID string) error {
	return s.Delete(types.WorkKeyPrefix + sessionID)
}

// WhoIsWorkingOn returns the ids of every session currently reporting the
// given path as its work target, sorted for stable output.
func (s *State) WhoIsWorkingOn(path string) []string {
	var ids []string
	for key, raw := range s.store.GetAll() {
		if !strings.HasPrefix(key, types.WorkKeyPrefix) {
			continue
		}
		var work types.SessionWorkState
		if err := json.Unmarshal(raw, &work); err != nil {
			continue
		}
		if work.Active && work.WorkingOn == path {
			ids = append(ids, strings.TrimPrefix(key, types.WorkKeyPrefix))
		}
	}
	sort.Strings(ids)
	return ids
}

// WorkStates returns the full working-on index keyed by session id.
func (s *State) WorkStates() map[string]types.SessionWorkState {
	out := make(map[string]types.SessionWorkState)
	for key, raw := range s.store.GetAll() {
		if !strings.HasPrefix(key, types.WorkKeyPrefix) {
			continue
		}
		var work types.SessionWorkState
		if err := json.Unmarshal(raw, &work); err != nil {
			continue
		}
		out[strings.TrimPrefix(key, types.WorkKeyPrefix)] = work
	}
	return out
}

func (s *State) save() error {
	rep, ok := s.store.(crdt.Replicator)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := rep.Entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return fsjson.Write(s.path, stateFile{
		Version:   fsjson.FileVersion,
		UpdatedAt: time.Now().UTC(),
		Entries:   entries,
	})
}
