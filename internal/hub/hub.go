// internal/hub/hub.go
package hub

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/user/collabhub/internal/conflict"
	"github.com/user/collabhub/internal/crdt"
	"github.com/user/collabhub/internal/msgqueue"
	"github.com/user/collabhub/internal/peer"
	"github.com/user/collabhub/internal/registry"
	"github.com/user/collabhub/internal/shared"
	"github.com/user/collabhub/internal/taskboard"
	"github.com/user/collabhub/internal/types"
)

// Dialer is the outbound half of federation. Implementations deliver one
// frame to a peer hub and return; the hub never retries.
type Dialer interface {
	SendConnectionRequest(address string, port int, req *types.ConnectionRequest) error
	SendApproval(address string, port int, approved *types.ConnectedHub) error
	PushSessions(address string, port int, fromHubID string, sessions []*types.RemoteSession) error
}

// Hub composes every component behind one coordination lock. Each command
// handler holds the lock for its whole execution, so commands apply
// atomically with respect to each other across all connections.
type Hub struct {
	mu sync.Mutex

	Sessions  *registry.SessionRegistry
	State     *shared.State
	Conflicts *conflict.Detector
	Locks     *conflict.LockManager
	Messages  *msgqueue.Queue
	Tasks     *taskboard.Board
	Peers     *peer.Manager

	dialer    Dialer
	startTime time.Time
}

// New builds a hub rooted at dataDir, loading or creating its identity.
func New(dataDir, hubName string, fedPort int) (*Hub, error) {
	identity, err := peer.LoadIdentity(filepath.Join(dataDir, "identity.json"), hubName, fedPort)
	if err != nil {
		return nil, fmt.Errorf("load hub identity: %w", err)
	}

	h := &Hub{
		Sessions:  registry.New(filepath.Join(dataDir, "sessions.json")),
		State:     shared.New(filepath.Join(dataDir, "state.json"), crdt.NewLWW(identity.ID)),
		Conflicts: conflict.NewDetector(),
		Locks:     conflict.NewLockManager(),
		Messages:  msgqueue.New(filepath.Join(dataDir, "messages")),
		Tasks:     taskboard.New(filepath.Join(dataDir, "tasks.json")),
		Peers:     peer.NewManager(filepath.Join(dataDir, "peers.json"), identity),
		startTime: time.Now(),
	}

	if err := h.Sessions.Load(); err != nil {
		return nil, err
	}
	if err := h.State.Load(); err != nil {
		return nil, err
	}
	if err := h.Messages.Load(); err != nil {
		return nil, err
	}
	if err := h.Tasks.Load(); err != nil {
		return nil, err
	}
	if err := h.Peers.Load(); err != nil {
		return nil, err
	}
	return h, nil
}

// SetDialer wires the outbound federation transport.
func (h *Hub) SetDialer(d Dialer) {
	h.dialer = d
}

// Identity returns the hub's persistent identity.
func (h *Hub) Identity() *types.HubIdentity {
	return h.Peers.Identity()
}

// Join registers a session, announces it, and pushes the new session list to
// peers. Stale sessions are swept opportunistically first.
func (h *Hub) Join(role types.Role, name string) (*types.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if removed, err := h.Sessions.CleanupStale(); err != nil {
		slog.Warn("stale session cleanup failed", "error", err)
	} else if removed > 0 {
		slog.Info("swept stale sessions", "removed", removed)
	}

	session, err := h.Sessions.Register(role, name)
	if err != nil {
		return nil, err
	}
	if _, err := h.Messages.System(fmt.Sprintf("%s joined as %s (%s)", session.Name, session.Role, session.ID)); err != nil {
		slog.Warn("join announcement failed", "error", err)
	}
	h.pushSessions()
	return session, nil
}

// Leave releases the session's locks and work state, removes it, and
// announces the departure.
func (h *Hub) Leave(sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	session, ok := h.Sessions.Get(sessionID)
	if !ok {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	name := session.Name

	h.Locks.ReleaseAllFor(sessionID)
	if err := h.State.ClearWorkingOn(sessionID); err != nil {
		slog.Warn("clear work state failed", "session_id", sessionID, "error", err)
	}
	if err := h.Sessions.Unregister(sessionID); err != nil {
		return err
	}
	if _, err := h.Messages.System(fmt.Sprintf("%s left (%s)", name, sessionID)); err != nil {
		slog.Warn("leave announcement failed", "error", err)
	}
	h.pushSessions()
	return nil
}

// Heartbeat extends a session's liveness.
func (h *Hub) Heartbeat(sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Sessions.Heartbeat(sessionID)
}

// Who returns the local active sessions and the federated projections.
func (h *Hub) Who() ([]*types.Session, []*types.RemoteSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Sessions.GetActive(), h.Peers.AllRemoteSessions()
}

// Tell delivers a direct (or alert) message to the resolved target session.
func (h *Hub) Tell(fromSessionID, target, content string, alert bool) (*types.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	localID, remote, ok := h.Peers.ResolveSession(target, h.localResolver())
	if !ok {
		return nil, fmt.Errorf("no session matches %q", target)
	}
	if remote != nil {
		return nil, fmt.Errorf("session %s lives on hub %s; remote delivery is not supported", remote.Name, remote.HubName)
	}
	if alert {
		return h.Messages.Alert(fromSessionID, localID, content)
	}
	return h.Messages.Send(fromSessionID, localID, content)
}

// Broadcast sends a message to every session.
func (h *Hub) Broadcast(fromSessionID, content string) (*types.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Messages.Broadcast(fromSessionID, content)
}

// Inbox returns the session's messages, optionally unread only.
func (h *Hub) Inbox(sessionID string, unreadOnly bool) []*types.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	if unreadOnly {
		return h.Messages.GetUnread(sessionID)
	}
	return h.Messages.GetInbox(sessionID)
}

// MarkRead marks one message read; empty messageID marks all.
func (h *Hub) MarkRead(sessionID, messageID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if messageID == "" {
		return h.Messages.MarkAllRead(sessionID)
	}
	return h.Messages.MarkRead(sessionID, messageID)
}

// CreateTask inserts a task and broadcasts a notification. The two steps are
// not transactional: a failed broadcast is logged and dropped, the task kept.
func (h *Hub) CreateTask(task *types.Task) (*types.Task, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	created, err := h.Tasks.CreateFrom(task)
	if err != nil {
		return nil, err
	}
	h.notifyTask(created.Creator, fmt.Sprintf("task #%d created: %s [%s]", created.ID, created.Title, created.Priority))
	return created, nil
}

// UpdateTask applies status/assignee/description changes and broadcasts each.
func (h *Hub) UpdateTask(sessionID string, taskID uint64, status types.TaskStatus, assignee, description string) (*types.Task, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	task, ok := h.Tasks.Get(taskID)
	if !ok {
		return nil, fmt.Errorf("task not found: %d", taskID)
	}
	if status != "" {
		var err error
		task, err = h.Tasks.UpdateStatus(taskID, status)
		if err != nil {
			return nil, err
		}
		h.notifyTask(sessionID, fmt.Sprintf("task #%d -> %s: %s", task.ID, task.Status, task.Title))
	}
	if assignee != "" {
		var err error
		task, err = h.Tasks.Reassign(taskID, assignee)
		if err != nil {
			return nil, err
		}
		h.notifyTask(sessionID, fmt.Sprintf("task #%d reassigned to %s: %s", task.ID, assignee, task.Title))
	}
	if description != "" {
		var err error
		task, err = h.Tasks.SetDescription(taskID, description)
		if err != nil {
			return nil, err
		}
	}
	return task, nil
}

// ListTasks filters the board by assignee and/or status; empty filters list
// everything, in board order.
func (h *Hub) ListTasks(assignee string, status types.TaskStatus) []*types.Task {
	h.mu.Lock()
	defer h.mu.Unlock()

	tasks := h.Tasks.GetAll()
	if assignee == "" && status == "" {
		return tasks
	}
	var out []*types.Task
	for _, task := range tasks {
		if assignee != "" && task.Assignee != assignee {
			continue
		}
		if status != "" && task.Status != status {
			continue
		}
		out = append(out, task)
	}
	return out
}

// SetWorkingOn records the session's work target, mirrors it into shared
// state, and returns an advisory conflict if other sessions report the same
// path. The update is always recorded, conflict or not.
func (h *Hub) SetWorkingOn(sessionID, path string) (*types.Conflict, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.Sessions.Get(sessionID); !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}

	c := h.Conflicts.CheckFile(path, sessionID, h.State)
	if err := h.Sessions.SetWorkingOn(sessionID, path); err != nil {
		return c, err
	}
	if err := h.State.SetWorkingOn(sessionID, path); err != nil {
		return c, err
	}
	if c != nil {
		slog.Warn("file conflict detected",
			"path", path, "session_id", sessionID, "others", c.Others, "severity", c.Severity)
	}
	h.pushSessions()
	return c, nil
}

// ClearWorkingOn drops the session's work target.
func (h *Hub) ClearWorkingOn(sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Sessions.SetWorkingOn(sessionID, ""); err != nil {
		return err
	}
	if err := h.State.ClearWorkingOn(sessionID); err != nil {
		return err
	}
	h.pushSessions()
	return nil
}

// SetState writes a shared state key.
func (h *Hub) SetState(key string, value []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if key == "" {
		return fmt.Errorf("state key is required")
	}
	if len(value) == 0 {
		return fmt.Errorf("state value is required")
	}
	return h.State.Set(key, value)
}

// DeleteState removes a shared state key.
func (h *Hub) DeleteState(key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if key == "" {
		return fmt.Errorf("state key is required")
	}
	return h.State.Delete(key)
}

// AcquireLock grants or extends an exclusive file lock.
func (h *Hub) AcquireLock(sessionID, path string, ttl time.Duration) (*types.FileLock, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return h.Locks.Acquire(path, sessionID, ttl)
}

// ReleaseLock releases a held file lock.
func (h *Hub) ReleaseLock(sessionID, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Locks.Release(path, sessionID)
}

// ConflictHistory returns the recorded advisory conflicts.
func (h *Hub) ConflictHistory() []types.Conflict {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Conflicts.History()
}

// RequestConnection sends a federation request to a hub at address:port.
// The dial happens outside h.mu so an unreachable hub cannot stall other
// commands; it stays synchronous so the caller sees the delivery error.
func (h *Hub) RequestConnection(address string, port int, message string) (*types.ConnectionRequest, error) {
	if h.dialer == nil {
		return nil, fmt.Errorf("federation is not enabled")
	}
	req := h.Peers.CreateConnectionRequest(message)
	if err := h.dialer.SendConnectionRequest(address, port, req); err != nil {
		return nil, fmt.Errorf("send connection request: %w", err)
	}
	return req, nil
}

// ApproveRequest approves a pending federation request, notifies the
// requester, and pushes our sessions to the new peer.
func (h *Hub) ApproveRequest(requestID string) (*types.ConnectedHub, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	approved, err := h.Peers.ApproveRequest(requestID)
	if err != nil {
		return nil, err
	}
	if h.dialer != nil {
		identity := h.Peers.Identity()
		// The requester stores our identity with the same token.
		mirror := &types.ConnectedHub{
			HubID:       identity.ID,
			Name:        identity.Name,
			Address:     identity.Hostname,
			Port:        identity.Port,
			AuthToken:   approved.AuthToken,
			ConnectedAt: approved.ConnectedAt,
		}
		// Notify off-lock: the requester may be slow or already gone.
		go func() {
			if err := h.dialer.SendApproval(approved.Address, approved.Port, mirror); err != nil {
				slog.Warn("approval notification failed", "hub", approved.Name, "error", err)
			}
		}()
	}
	h.pushSessions()
	return approved, nil
}

// RejectRequest discards a pending federation request.
func (h *Hub) RejectRequest(requestID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Peers.RejectRequest(requestID)
}

// Disconnect removes a peer link.
func (h *Hub) Disconnect(hubID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Peers.DisconnectHub(hubID)
}

// HandleConnectionRequest records an inbound federation request.
func (h *Hub) HandleConnectionRequest(req *types.ConnectionRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Peers.AddPendingRequest(req); err != nil {
		return err
	}
	if _, err := h.Messages.System(fmt.Sprintf("hub %s requests a connection (request %s)", req.FromHubName, req.RequestID)); err != nil {
		slog.Warn("connection request announcement failed", "error", err)
	}
	return nil
}

// HandleApproval records a peer link approved by the other side.
func (h *Hub) HandleApproval(approved *types.ConnectedHub) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Peers.AddConnectedHub(approved); err != nil {
		return err
	}
	if _, err := h.Messages.System(fmt.Sprintf("hub %s approved our connection", approved.Name)); err != nil {
		slog.Warn("approval announcement failed", "error", err)
	}
	h.pushSessions()
	return nil
}

// HandleSessionUpdate replaces a peer's cached session projection.
func (h *Hub) HandleSessionUpdate(hubID string, sessions []*types.RemoteSession) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Peers.UpdateRemoteSessions(hubID, sessions)
}

// HandlePing refreshes a peer's liveness.
func (h *Hub) HandlePing(hubID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Peers.UpdateHubLastSeen(hubID)
}

// Status summarizes the hub for the Status command.
type Status struct {
	HubID          string `json:"hub_id"`
	HubName        string `json:"hub_name"`
	Version        string `json:"version"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	ActiveSessions int    `json:"active_sessions"`
	Tasks          int    `json:"tasks"`
	ConnectedHubs  int    `json:"connected_hubs"`
	PendingFed     int    `json:"pending_requests"`
	ActiveLocks    int    `json:"active_locks"`
	Conflicts      int    `json:"conflicts"`
}

// GetStatus returns the hub summary.
func (h *Hub) GetStatus() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	identity := h.Peers.Identity()
	return Status{
		HubID:          identity.ID,
		HubName:        identity.Name,
		Version:        identity.Version,
		UptimeSeconds:  int64(time.Since(h.startTime).Seconds()),
		ActiveSessions: len(h.Sessions.GetActive()),
		Tasks:          len(h.Tasks.GetAll()),
		ConnectedHubs:  len(h.Peers.ConnectedHubs()),
		PendingFed:     len(h.Peers.GetPendingRequests()),
		ActiveLocks:    len(h.Locks.Active()),
		Conflicts:      len(h.Conflicts.History()),
	}
}

// Maintain runs every lazy cleanup in one pass: stale sessions, expired
// locks, expired federation requests, and week-old messages.
func (h *Hub) Maintain() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if removed, err := h.Sessions.CleanupStale(); err != nil {
		slog.Warn("session sweep failed", "error", err)
	} else if removed > 0 {
		slog.Info("session sweep", "removed", removed)
	}
	if removed := h.Locks.CleanupExpired(); removed > 0 {
		slog.Info("lock sweep", "removed", removed)
	}
	if removed, err := h.Peers.CleanupExpiredRequests(); err != nil {
		slog.Warn("request sweep failed", "error", err)
	} else if removed > 0 {
		slog.Info("request sweep", "removed", removed)
	}
	if removed, err := h.Messages.Cleanup(7 * 24 * time.Hour); err != nil {
		slog.Warn("message sweep failed", "error", err)
	} else if removed > 0 {
		slog.Info("message sweep", "removed", removed)
	}
}

// localResolver matches a target against local sessions by id, then
// case-insensitive name, then role. Callers must hold h.mu.
func (h *Hub) localResolver() peer.LocalResolver {
	return func(nameOrID string) (string, bool) {
		if s, ok := h.Sessions.Get(nameOrID); ok {
			return s.ID, true
		}
		for _, s := range h.Sessions.GetActive() {
			if strings.EqualFold(s.Name, nameOrID) || strings.EqualFold(string(s.Role), nameOrID) {
				return s.ID, true
			}
		}
		return "", false
	}
}

// notifyTask broadcasts a task notification, dropping it on failure.
func (h *Hub) notifyTask(from, text string) {
	if _, err := h.Messages.TaskUpdate(from, text); err != nil {
		slog.Warn("task notification dropped", "error", err)
	}
}

// pushSessions projects the local active sessions to every connected peer.
// The snapshot is taken under h.mu but the sends run in a goroutine so a
// slow or unreachable peer never stalls command handling. Best effort;
// failures are logged and never retried. Callers hold h.mu.
func (h *Hub) pushSessions() {
	if h.dialer == nil {
		return
	}
	peers := h.Peers.ConnectedHubs()
	if len(peers) == 0 {
		return
	}

	identity := h.Peers.Identity()
	local := h.Sessions.GetActive()
	projection := make([]*types.RemoteSession, 0, len(local))
	for _, s := range local {
		projection = append(projection, &types.RemoteSession{
			ID:        s.ID,
			Name:      s.Name,
			Role:      s.Role,
			Status:    s.Status,
			WorkingOn: s.WorkingOn,
			HubID:     identity.ID,
			HubName:   identity.Name,
		})
	}
	go func() {
		for _, p := range peers {
			if err := h.dialer.PushSessions(p.Address, p.Port, identity.ID, projection); err != nil {
				slog.Debug("session push failed", "hub", p.Name, "error", err)
			}
		}
	}()
}
