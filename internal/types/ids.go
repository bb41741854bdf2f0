// internal/types/ids.go
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewSessionID derives a short, human-typeable session id from the role,
// hostname, join time, and owning process id. Eight hex characters is enough
// to avoid collisions among the handful of sessions a hub ever holds.
func NewSessionID(role Role, hostname string, pid int, at time.Time) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%d:%d", role, hostname, at.UnixNano(), pid))
	return hex.EncodeToString(sum[:])[:8]
}

// NewMessageID derives a message id from sender, recipient, and send time.
func NewMessageID(from, to string, at time.Time) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%d", from, to, at.UnixNano()))
	return hex.EncodeToString(sum[:])[:12]
}

// NewHubID returns a fresh persistent hub identity id.
func NewHubID() string {
	return uuid.New().String()
}

// NewRequestID returns an id for a federation connection request.
func NewRequestID() string {
	return uuid.New().String()
}

// NewAuthToken mints the opaque token shared by both sides of an approved
// federation link.
func NewAuthToken() string {
	return strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", "")
}
