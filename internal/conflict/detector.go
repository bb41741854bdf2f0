// internal/conflict/detector.go
package conflict

import (
	"sync"
	"time"

	"github.com/user/collabhub/internal/shared"
	"github.com/user/collabhub/internal/types"
)

// historyCapacity bounds the remembered conflict records.
const historyCapacity = 50

// Detector warns when sessions report the same file as their work target.
// Detection is advisory: it records and reports, never blocks.
type Detector struct {
	mu      sync.Mutex
	history []types.Conflict
	now     func() time.Time
}

// NewDetector creates an empty detector.
func NewDetector() *Detector {
	return &Detector{now: time.Now}
}

// CheckFile cross-references the shared state for other sessions working on
// path. Returns nil when the session has the file to itself. Severity is
// critical with two or more other workers, high with one.
func (d *Detector) CheckFile(path, sessionID string, state *shared.State) *types.Conflict {
	var others []string
	for _, id := range state.WhoIsWorkingOn(path) {
		if id != sessionID {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return nil
	}

	severity := types.SeverityHigh
	if len(others) >= 2 {
		severity = types.SeverityCritical
	}
	c := types.Conflict{
		Path:       path,
		SessionID:  sessionID,
		Others:     others,
		Severity:   severity,
		DetectedAt: d.now().UTC(),
	}

	d.mu.Lock()
	d.history = append(d.history, c)
	if len(d.history) > historyCapacity {
		d.history = d.history[len(d.history)-historyCapacity:]
	}
	d.mu.Unlock()
	return &c
}

// History returns the recorded conflicts, oldest first.
func (d *Detector) History() []types.Conflict {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.Conflict, len(d.history))
	copy(out, d.history)
	return out
}
