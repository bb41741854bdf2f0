// internal/conflict/locks.go
package conflict

import (
	"fmt"
	"sync"
	"time"

	"github.com/user/collabhub/internal/types"
)

// LockManager grants short-lived exclusive file locks. Unlike conflict
// detection, locking is mandatory: a held lock blocks other owners until it
// expires. Expired locks are reclaimed lazily before each acquire.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*types.FileLock
	now   func() time.Time
}

// NewLockManager creates an empty lock manager.
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*types.FileLock),
		now:   time.Now,
	}
}

// Acquire grants or extends an exclusive lock on path. Fails while a live
// lock is held by a different owner; the same owner re-acquiring extends it.
func (m *LockManager) Acquire(path, sessionID string, ttl time.Duration) (*types.FileLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.cleanupExpired(now)

	if held, ok := m.locks[path]; ok && held.Owner != sessionID {
		return nil, fmt.Errorf("lock on %s held by session %s until %s",
			path, held.Owner, held.ExpiresAt.Format(time.RFC3339))
	}

	lock := &types.FileLock{
		Path:       path,
		Owner:      sessionID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	if held, ok := m.locks[path]; ok {
		lock.AcquiredAt = held.AcquiredAt
	}
	m.locks[path] = lock
	return lock, nil
}

// Release drops the lock on path. Fails if the caller does not own it.
func (m *LockManager) Release(path, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.locks[path]
	if !ok {
		return fmt.Errorf("no lock on %s", path)
	}
	if held.Owner != sessionID {
		return fmt.Errorf("lock on %s owned by session %s, not %s", path, held.Owner, sessionID)
	}
	delete(m.locks, path)
	return nil
}

// CleanupExpired drops every expired lock and returns how many were removed.
func (m *LockManager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupExpired(m.now())
}

func (m *LockManager) cleanupExpired(now time.Time) int {
	removed := 0
	for path, lock := range m.locks {
		if lock.Expired(now) {
			delete(m.locks, path)
			removed++
		}
	}
	return removed
}

// Held returns the live lock on path, if any.
func (m *LockManager) Held(path string) (*types.FileLock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[path]
	if !ok || lock.Expired(m.now()) {
		return nil, false
	}
	return lock, true
}

// Active returns every live lock.
func (m *LockManager) Active() []*types.FileLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := make([]*types.FileLock, 0, len(m.locks))
	for _, lock := range m.locks {
		if !lock.Expired(now) {
			out = append(out, lock)
		}
	}
	return out
}

// ReleaseAllFor drops every lock owned by the session, for use when the
// session leaves.
func (m *LockManager) ReleaseAllFor(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for path, lock := range m.locks {
		if lock.Owner == sessionID {
			delete(m.locks, path)
			removed++
		}
	}
	return removed
}
