// internal/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/user/collabhub/internal/fsjson"
	"github.com/user/collabhub/internal/types"
)

// SessionRegistry tracks collaboration sessions and persists them to
// sessions.json after every mutation. The in-memory map is the source of
// truth; a failed write leaves memory correct and surfaces the error.
type SessionRegistry struct {
	path        string
	mu          sync.RWMutex
	sessions    map[string]*types.Session
	globalPrefs map[string]json.RawMessage
	now         func() time.Time
}

type registryFile struct {
	Version     string                     `json:"version"`
	UpdatedAt   time.Time                  `json:"updated_at"`
	Sessions    []*types.Session           `json:"sessions"`
	GlobalPrefs map[string]json.RawMessage `json:"global_preferences,omitempty"`
}

// New creates a registry backed by the given file path.
func New(path string) *SessionRegistry {
	return &SessionRegistry{
		path:        path,
		sessions:    make(map[string]*types.Session),
		globalPrefs: make(map[string]json.RawMessage),
		now:         time.Now,
	}
}

// Load hydrates the registry from disk. Missing file means an empty registry.
func (r *SessionRegistry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var file registryFile
	ok, err := fsjson.Read(r.path, &file)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	r.sessions = make(map[string]*types.Session, len(file.Sessions))
	for _, s := range file.Sessions {
		r.sessions[s.ID] = s
	}
	if file.GlobalPrefs != nil {
		r.globalPrefs = file.GlobalPrefs
	}
	return nil
}

// Register creates a session for the given role. Fails if a non-stale session
// already holds the role; this is the registry's only hard invariant.
func (r *SessionRegistry) Register(role types.Role, name string) (*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, s := range r.sessions {
		if s.Role == role && !s.Stale(now) {
			return nil, fmt.Errorf("role %s already taken by session %s (%s)", role, s.ID, s.Name)
		}
	}

	hostname, _ := os.Hostname()
	wd, _ := os.Getwd()
	pid := os.Getpid()
	if name == "" {
		name = string(role)
	}
	session := &types.Session{
		ID:            types.NewSessionID(role, hostname, pid, now),
		Role:          role,
		Name:          name,
		Status:        types.StatusActive,
		WorkingDir:    wd,
		JoinedAt:      now,
		LastHeartbeat: now,
		PID:           pid,
	}
	r.sessions[session.ID] = session
	return cloneSession(session), r.save()
}

// Unregister removes a session.
func (r *SessionRegistry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	delete(r.sessions, id)
	return r.save()
}

// Get returns a copy of the session with the given id.
func (r *SessionRegistry) Get(id string) (*types.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return cloneSession(s), true
}

// GetByRole returns the non-stale session holding the role, if any.
func (r *SessionRegistry) GetByRole(role types.Role) (*types.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	for _, s := range r.sessions {
		if s.Role == role && !s.Stale(now) {
			return cloneSession(s), true
		}
	}
	return nil, false
}

// GetActive returns all non-stale sessions ordered by join time.
func (r *SessionRegistry) GetActive() []*types.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	active := make([]*types.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if !s.Stale(now) {
			active = append(active, cloneSession(s))
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].JoinedAt.Before(active[j].JoinedAt)
	})
	return active
}

// Heartbeat extends the session's liveness window.
func (r *SessionRegistry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	s.LastHeartbeat = r.now()
	return r.save()
}

// SetStatus updates the session's presence status.
func (r *SessionRegistry) SetStatus(id string, status types.SessionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	s.Status = status
	return r.save()
}

// SetWorkingOn records the session's current work target. Empty clears it.
func (r *SessionRegistry) SetWorkingOn(id, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	s.WorkingOn = path
	return r.save()
}

// RecordCommand appends to the session's bounded history, bumps the
// execution/error counters, and refreshes the heartbeat.
func (r *SessionRegistry) RecordCommand(id, command string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	now := r.now()
	s.History = append(s.History, types.CommandRecord{Command: command, Success: success, At: now})
	if len(s.History) > types.HistoryCapacity {
		s.History = s.History[len(s.History)-types.HistoryCapacity:]
	}
	s.Executions++
	if !success {
		s.Errors++
	}
	s.LastHeartbeat = now
	return r.save()
}

// CleanupStale removes every stale session and returns how many were dropped.
// Called opportunistically; there is no background reaper.
func (r *SessionRegistry) CleanupStale() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, s := range r.sessions {
		if s.Stale(now) {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, r.save()
}

// SetPreference stores a per-session preference value.
func (r *SessionRegistry) SetPreference(id, key string, value json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	if s.Preferences == nil {
		s.Preferences = make(map[string]json.RawMessage)
	}
	s.Preferences[key] = value
	return r.save()
}

// GetPreference reads a per-session preference value.
func (r *SessionRegistry) GetPreference(id, key string) (json.RawMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok || s.Preferences == nil {
		return nil, false
	}
	v, ok := s.Preferences[key]
	return v, ok
}

// SetGlobalPreference stores a hub-wide preference value.
func (r *SessionRegistry) SetGlobalPreference(key string, value json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.globalPrefs[key] = value
	return r.save()
}

// GetGlobalPreference reads a hub-wide preference value.
func (r *SessionRegistry) GetGlobalPreference(key string) (json.RawMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.globalPrefs[key]
	return v, ok
}

// Count returns the number of sessions, stale included.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// cloneSession copies a session so callers can read and marshal it after the
// registry lock is released.
func cloneSession(s *types.Session) *types.Session {
	c := *s
	if len(s.History) > 0 {
		c.History = append([]types.CommandRecord(nil), s.History...)
	}
	if s.Preferences != nil {
		c.Preferences = make(map[string]json.RawMessage, len(s.Preferences))
		for k, v := range s.Preferences {
			c.Preferences[k] = v
		}
	}
	return &c
}

func (r *SessionRegistry) save() error {
	sessions := make([]*types.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].JoinedAt.Before(sessions[j].JoinedAt)
	})
	return fsjson.Write(r.path, registryFile{
		Version:     fsjson.FileVersion,
		UpdatedAt:   r.now().UTC(),
		Sessions:    sessions,
		GlobalPrefs: r.globalPrefs,
	})
}
