package termctx

import (
	"strings"
	"testing"
)

func TestTerminalID_FromEnv(t *testing.T) {
	t.Setenv("COLLABHUB_TERMINAL_ID", "term-1")
	id := TerminalID()
	if len(id) != 12 {
		t.Errorf("expected 12-char derived id, got %q", id)
	}
	if id != TerminalID() {
		t.Error("terminal id should be stable for the same environment")
	}

	t.Setenv("COLLABHUB_TERMINAL_ID", "term-2")
	if id == TerminalID() {
		t.Error("different terminals should derive different ids")
	}
}

func TestTerminalID_PidFallback(t *testing.T) {
	for _, key := range terminalEnvVars {
		t.Setenv(key, "")
	}
	if !strings.HasPrefix(TerminalID(), "pid-") {
		t.Errorf("expected pid fallback, got %q", TerminalID())
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())

	if _, ok := s.Lookup("term-a"); ok {
		t.Error("unexpected binding before save")
	}
	if err := s.Save("term-a", "aaaa1111"); err != nil {
		t.Fatal(err)
	}
	id, ok := s.Lookup("term-a")
	if !ok || id != "aaaa1111" {
		t.Errorf("lookup mismatch: %q %v", id, ok)
	}

	if err := s.Clear("term-a"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Lookup("term-a"); ok {
		t.Error("binding survived clear")
	}
	if err := s.Clear("term-a"); err != nil {
		t.Error("clearing a missing binding should be a no-op")
	}
}
