// Package termctx remembers which hub session belongs to the current
// terminal, so repeated CLI invocations from one shell act as one session.
package termctx

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/user/collabhub/internal/fsjson"
)

// Context is the per-terminal record persisted under term_contexts/.
type Context struct {
	Version    string    `json:"version"`
	UpdatedAt  time.Time `json:"updated_at"`
	TerminalID string    `json:"terminal_id"`
	SessionID  string    `json:"session_id"`
}

// terminalEnvVars are checked in order for something that identifies this
// terminal across invocations.
var terminalEnvVars = []string{
	"COLLABHUB_TERMINAL_ID",
	"TMUX_PANE",
	"ITERM_SESSION_ID",
	"TERM_SESSION_ID",
	"WINDOWID",
}

// TerminalID derives a stable identifier for the current terminal from
// environment variables, falling back to the parent process id.
func TerminalID() string {
	for _, key := range terminalEnvVars {
		if v := os.Getenv(key); v != "" {
			sum := sha256.Sum256([]byte(key + "=" + v))
			return hex.EncodeToString(sum[:])[:12]
		}
	}
	return fmt.Sprintf("pid-%d", os.Getppid())
}

// Store reads and writes terminal contexts under a directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at the given directory.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Save binds the current terminal to a session id.
func (s *Store) Save(terminalID, sessionID string) error {
	return fsjson.Write(s.path(terminalID), Context{
		Version:    fsjson.FileVersion,
		UpdatedAt:  time.Now().UTC(),
		TerminalID: terminalID,
		SessionID:  sessionID,
	})
}

// Lookup returns the session bound to the terminal, if any.
func (s *Store) Lookup(terminalID string) (string, bool) {
	var ctx Context
	ok, err := fsjson.Read(s.path(terminalID), &ctx)
	if err != nil || !ok || ctx.SessionID == "" {
		return "", false
	}
	return ctx.SessionID, true
}

// Clear removes the terminal's binding.
func (s *Store) Clear(terminalID string) error {
	err := os.Remove(s.path(terminalID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear terminal context: %w", err)
	}
	return nil
}

func (s *Store) path(terminalID string) string {
	return filepath.Join(s.dir, terminalID+".json")
}
