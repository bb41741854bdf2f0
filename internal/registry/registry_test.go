// internal/registry/registry_test.go
package registry

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/collabhub/internal/types"
)

func newTestRegistry(t *testing.T) *SessionRegistry {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "sessions.json"))
}

func TestRegister(t *testing.T) {
	r := newTestRegistry(t)

	s, err := r.Register(types.RoleBackend, "api work")
	if err != nil {
		t.Fatal(err)
	}
	if len(s.ID) != 8 {
		t.Errorf("expected 8-char session id, got %q", s.ID)
	}
	if s.Status != types.StatusActive {
		t.Errorf("expected active status, got %s", s.Status)
	}
	if s.PID == 0 {
		t.Error("expected owning pid to be recorded")
	}
}

func TestRegister_RoleTaken(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.Register(types.RoleAndroid, "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(types.RoleAndroid, "second"); err == nil {
		t.Fatal("expected error registering a second session for the same role")
	}
}

func TestRegister_StaleRoleReleased(t *testing.T) {
	r := newTestRegistry(t)

	s, err := r.Register(types.RoleWeb, "old")
	if err != nil {
		t.Fatal(err)
	}

	// Push the clock past the staleness window; the role frees up.
	r.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	if _, err := r.Register(types.RoleWeb, "new"); err != nil {
		t.Fatalf("expected stale session to release the role: %v", err)
	}
	if _, ok := r.Get(s.ID); !ok {
		t.Error("stale session should still exist until cleanup")
	}
}

func TestGetActive_FiltersStale(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.Register(types.RoleBackend, ""); err != nil {
		t.Fatal(err)
	}
	if len(r.GetActive()) != 1 {
		t.Fatal("expected one active session")
	}

	r.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	if len(r.GetActive()) != 0 {
		t.Error("expected stale session to be filtered from GetActive")
	}
}

func TestCleanupStale(t *testing.T) {
	r := newTestRegistry(t)

	s, err := r.Register(types.RoleIoT, "")
	if err != nil {
		t.Fatal(err)
	}

	r.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	removed, err := r.CleanupStale()
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if _, ok := r.Get(s.ID); ok {
		t.Error("stale session still present after cleanup")
	}
}

func TestHeartbeat(t *testing.T) {
	r := newTestRegistry(t)

	s, err := r.Register(types.RoleGeneral, "")
	if err != nil {
		t.Fatal(err)
	}
	before := s.LastHeartbeat

	r.now = func() time.Time { return time.Now().Add(time.Hour) }
	if err := r.Heartbeat(s.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Get(s.ID)
	if !got.LastHeartbeat.After(before) {
		t.Error("heartbeat did not advance")
	}

	if err := r.Heartbeat("nope"); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestRecordCommand(t *testing.T) {
	r := newTestRegistry(t)

	s, err := r.Register(types.RoleBackend, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := r.RecordCommand(s.ID, "build", true); err != nil {
		t.Fatal(err)
	}
	if err := r.RecordCommand(s.ID, "deploy", false); err != nil {
		t.Fatal(err)
	}

	got, _ := r.Get(s.ID)
	if got.Executions != 2 || got.Errors != 1 {
		t.Errorf("expected 2 executions / 1 error, got %d/%d", got.Executions, got.Errors)
	}
	if len(got.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(got.History))
	}
	if got.History[1].Command != "deploy" || got.History[1].Success {
		t.Error("history entry mismatch")
	}
}

func TestRecordCommand_HistoryBounded(t *testing.T) {
	r := newTestRegistry(t)

	s, err := r.Register(types.RoleBackend, "")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < types.HistoryCapacity+10; i++ {
		if err := r.RecordCommand(s.ID, "cmd", true); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := r.Get(s.ID)
	if len(got.History) != types.HistoryCapacity {
		t.Errorf("expected history capped at %d, got %d", types.HistoryCapacity, len(got.History))
	}
	if got.Executions != types.HistoryCapacity+10 {
		t.Errorf("counters should outlive the ring buffer, got %d", got.Executions)
	}
}

func TestPreferences(t *testing.T) {
	r := newTestRegistry(t)

	s, err := r.Register(types.RoleWeb, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := r.SetPreference(s.ID, "editor", json.RawMessage(`"vim"`)); err != nil {
		t.Fatal(err)
	}
	v, ok := r.GetPreference(s.ID, "editor")
	if !ok || string(v) != `"vim"` {
		t.Errorf("expected \"vim\", got %s (%v)", v, ok)
	}

	if err := r.SetGlobalPreference("theme", json.RawMessage(`{"dark":true}`)); err != nil {
		t.Fatal(err)
	}
	g, ok := r.GetGlobalPreference("theme")
	if !ok || string(g) != `{"dark":true}` {
		t.Errorf("global preference mismatch: %s (%v)", g, ok)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.json")

	r1 := New(path)
	s, err := r1.Register(types.RoleBackend, "persist me")
	if err != nil {
		t.Fatal(err)
	}
	if err := r1.SetGlobalPreference("k", json.RawMessage(`1`)); err != nil {
		t.Fatal(err)
	}

	r2 := New(path)
	if err := r2.Load(); err != nil {
		t.Fatal(err)
	}
	got, ok := r2.Get(s.ID)
	if !ok {
		t.Fatal("session missing after reload")
	}
	if got.Name != "persist me" || got.Role != types.RoleBackend {
		t.Errorf("session fields lost in round trip: %+v", got)
	}
	if len(r2.GetActive()) != 1 {
		t.Error("expected one active session after reload")
	}
	if _, ok := r2.GetGlobalPreference("k"); !ok {
		t.Error("global preference lost in round trip")
	}
}

func TestUnregister(t *testing.T) {
	r := newTestRegistry(t)

	s, err := r.Register(types.RoleBackend, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Unregister(s.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Get(s.ID); ok {
		t.Error("session still present after unregister")
	}
	if err := r.Unregister(s.ID); err == nil {
		t.Error("expected error unregistering twice")
	}
}

func TestReturnedSessionsAreCopies(t *testing.T) {
	r := newTestRegistry(t)

	s, err := r.Register(types.RoleBackend, "original")
	if err != nil {
		t.Fatal(err)
	}
	s.Name = "scribbled"
	s.Status = types.StatusAway

	got, ok := r.Get(s.ID)
	if !ok {
		t.Fatal("session missing")
	}
	if got.Name != "original" || got.Status != types.StatusActive {
		t.Errorf("stored session changed through a returned pointer: %+v", got)
	}

	if err := r.RecordCommand(s.ID, "heartbeat", true); err != nil {
		t.Fatal(err)
	}
	got, _ = r.Get(s.ID)
	got.History[0].Command = "forged"
	again, _ := r.Get(s.ID)
	if again.History[0].Command != "heartbeat" {
		t.Errorf("stored history changed through a returned slice: %+v", again.History)
	}

	for _, a := range r.GetActive() {
		a.WorkingOn = "scribbled.go"
	}
	got, _ = r.Get(s.ID)
	if got.WorkingOn != "" {
		t.Error("stored session changed through a GetActive result")
	}
}
