// internal/types/types.go
package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Role tags a session with the kind of work its owner is doing. At most one
// non-stale session per role may exist in a registry.
type Role string

const (
	RoleAndroid Role = "android"
	RoleWeb     Role = "web"
	RoleBackend Role = "backend"
	RoleIoT     Role = "iot"
	RoleGeneral Role = "general"
	RoleCustom  Role = "custom"
)

// ParseRole maps a user-supplied string onto a known role, falling back to
// RoleCustom for anything unrecognized.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAndroid:
		return RoleAndroid
	case RoleWeb:
		return RoleWeb
	case RoleBackend:
		return RoleBackend
	case RoleIoT:
		return RoleIoT
	case RoleGeneral:
		return RoleGeneral
	default:
		return RoleCustom
	}
}

type SessionStatus string

const (
	StatusActive SessionStatus = "active"
	StatusIdle   SessionStatus = "idle"
	StatusBusy   SessionStatus = "busy"
	StatusAway   SessionStatus = "away"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
)

type TaskPriority string

const (
	PriorityCritical TaskPriority = "critical"
	PriorityHigh     TaskPriority = "high"
	PriorityMedium   TaskPriority = "medium"
	PriorityLow      TaskPriority = "low"
)

// Rank orders priorities for display: critical sorts first, low last.
// Unknown priorities sort after low.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

type MessageType string

const (
	MessageDirect     MessageType = "direct"
	MessageBroadcast  MessageType = "broadcast"
	MessageSystem     MessageType = "system"
	MessageAlert      MessageType = "alert"
	MessageTaskUpdate MessageType = "task_update"
)

// StaleAfter is how long a session may go without a heartbeat before it is
// considered stale. Clients do not heartbeat continuously, so the window is
// deliberately long.
const StaleAfter = 24 * time.Hour

// HistoryCapacity bounds the per-session command history ring buffer.
const HistoryCapacity = 100

// CommandRecord is one entry in a session's command history.
type CommandRecord struct {
	Command string    `json:"command"`
	Success bool      `json:"success"`
	At      time.Time `json:"at"`
}

// Session is one logical participant registered with a hub.
type Session struct {
	ID            string                     `json:"id"`
	Role          Role                       `json:"role"`
	Name          string                     `json:"name"`
	Status        SessionStatus              `json:"status"`
	WorkingOn     string                     `json:"working_on,omitempty"`
	WorkingDir    string                     `json:"working_dir,omitempty"`
	JoinedAt      time.Time                  `json:"joined_at"`
	LastHeartbeat time.Time                  `json:"last_heartbeat"`
	PID           int                        `json:"pid"`
	History       []CommandRecord            `json:"history,omitempty"`
	Preferences   map[string]json.RawMessage `json:"preferences,omitempty"`
	Executions    int                        `json:"executions"`
	Errors        int                        `json:"errors"`
}

// Stale reports whether the session has gone without a heartbeat for longer
// than StaleAfter.
func (s *Session) Stale(now time.Time) bool {
	return now.Sub(s.LastHeartbeat) > StaleAfter
}

// Task is one entry on the shared task board.
type Task struct {
	ID          uint64       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Assignee    string       `json:"assignee,omitempty"`
	Creator     string       `json:"creator"`
	Priority    TaskPriority `json:"priority"`
	Status      TaskStatus   `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Blockers    []string     `json:"blockers,omitempty"`
}

// BroadcastRecipient is the recipient value that addresses every session.
const BroadcastRecipient = "all"

// Message is one hub message. Recipient is a session id or BroadcastRecipient.
type Message struct {
	ID      string      `json:"id"`
	From    string      `json:"from"`
	To      string      `json:"to"`
	Content string      `json:"content"`
	Type    MessageType `json:"type"`
	SentAt  time.Time   `json:"sent_at"`
	Read    bool        `json:"read"`
}

// SessionWorkState is the transient "who is working on what" record mirrored
// into the shared state store under working:<session_id>.
type SessionWorkState struct {
	WorkingOn  string    `json:"working_on"`
	Status     string    `json:"status"`
	LastUpdate time.Time `json:"last_update"`
	Active     bool      `json:"active"`
}

// WorkKeyPrefix prefixes the shared-state keys that mirror SessionWorkState.
const WorkKeyPrefix = "working:"

// ConflictSeverity grades an advisory file conflict.
type ConflictSeverity string

const (
	SeverityHigh     ConflictSeverity = "high"
	SeverityCritical ConflictSeverity = "critical"
)

// Conflict records that a session started working on a file other sessions
// already report as their work target. Advisory only.
type Conflict struct {
	Path       string           `json:"path"`
	SessionID  string           `json:"session_id"`
	Others     []string         `json:"others"`
	Severity   ConflictSeverity `json:"severity"`
	DetectedAt time.Time        `json:"detected_at"`
}

// FileLock is a short-lived exclusive claim on a path. Expiry is checked
// lazily; there is no active reaper.
type FileLock struct {
	Path       string    `json:"path"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the lock's TTL has elapsed.
func (l *FileLock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// HubIdentity is the persistent identity of one hub process.
type HubIdentity struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Hostname  string    `json:"hostname"`
	Port      int       `json:"port"`
	CreatedAt time.Time `json:"created_at"`
	Version   string    `json:"version"`
}

// RequestTTL bounds how long a federation connection request stays valid.
const RequestTTL = 5 * time.Minute

// ConnectionRequest is an ephemeral federation request, consumed by approve
// or reject.
type ConnectionRequest struct {
	RequestID   string    `json:"request_id"`
	FromHubID   string    `json:"from_hub_id"`
	FromHubName string    `json:"from_hub_name"`
	FromAddress string    `json:"from_address"`
	FromPort    int       `json:"from_port"`
	Message     string    `json:"message,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Expired reports whether the request has outlived RequestTTL.
func (r *ConnectionRequest) Expired(now time.Time) bool {
	return now.Sub(r.ReceivedAt) > RequestTTL
}

// OnlineWindow is how recently a peer must have been seen to count as online.
const OnlineWindow = 60 * time.Second

// ConnectedHub is an established federation link to a peer hub.
type ConnectedHub struct {
	HubID        string    `json:"hub_id"`
	Name         string    `json:"name"`
	Address      string    `json:"address"`
	Port         int       `json:"port"`
	AuthToken    string    `json:"auth_token"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastSeen     time.Time `json:"last_seen"`
	SessionCount int       `json:"session_count"`
}

// Online reports whether the peer has been seen within OnlineWindow.
func (h *ConnectedHub) Online(now time.Time) bool {
	return now.Sub(h.LastSeen) <= OnlineWindow
}

// RemoteSession is a read-only projection of a session on a peer hub.
type RemoteSession struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Role      Role          `json:"role"`
	Status    SessionStatus `json:"status"`
	WorkingOn string        `json:"working_on,omitempty"`
	HubID     string        `json:"hub_id"`
	HubName   string        `json:"hub_name"`
}
