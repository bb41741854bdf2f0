// internal/peer/manager.go
package peer

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/collabhub/internal/fsjson"
	"github.com/user/collabhub/internal/types"
)

// Manager federates this hub with others. Per remote hub the state machine
// is discovered -> pending request -> connected, with disconnection only by
// explicit removal; there is no automatic reconnection. All federation state
// persists to one peers.json file.
type Manager struct {
	path     string
	identity *types.HubIdentity

	mu         sync.RWMutex
	discovered map[string]*types.HubIdentity
	pending    map[string]*types.ConnectionRequest
	connected  map[string]*types.ConnectedHub
	remote     map[string][]*types.RemoteSession
	now        func() time.Time
}

type peersFile struct {
	Version   string                            `json:"version"`
	UpdatedAt time.Time                         `json:"updated_at"`
	Pending   []*types.ConnectionRequest        `json:"pending_requests"`
	Connected []*types.ConnectedHub             `json:"connected_hubs"`
	Remote    map[string][]*types.RemoteSession `json:"remote_sessions,omitempty"`
}

// NewManager creates a manager for the given local identity, persisting to
// the given file path.
func NewManager(path string, identity *types.HubIdentity) *Manager {
	return &Manager{
		path:       path,
		identity:   identity,
		discovered: make(map[string]*types.HubIdentity),
		pending:    make(map[string]*types.ConnectionRequest),
		connected:  make(map[string]*types.ConnectedHub),
		remote:     make(map[string][]*types.RemoteSession),
		now:        time.Now,
	}
}

// Identity returns the local hub identity.
func (m *Manager) Identity() *types.HubIdentity {
	return m.identity
}

// Load hydrates federation state from disk, pruning requests that expired
// while the hub was down.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var file peersFile
	ok, err := fsjson.Read(m.path, &file)
	if err != nil || !ok {
		return err
	}
	now := m.now()
	for _, req := range file.Pending {
		if !req.Expired(now) {
			m.pending[req.RequestID] = req
		}
	}
	for _, hub := range file.Connected {
		m.connected[hub.HubID] = hub
	}
	if file.Remote != nil {
		m.remote = file.Remote
	}
	return nil
}

// AddDiscoveredHub records a hub seen on the network, refreshing the address
// and port of an already-known one. Discovery never connects by itself.
func (m *Manager) AddDiscoveredHub(identity types.HubIdentity) {
	if identity.ID == m.identity.ID {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discovered[identity.ID] = &identity
}

// Discovered returns every known-but-unconnected hub, sorted by name.
func (m *Manager) Discovered() []*types.HubIdentity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.HubIdentity, 0, len(m.discovered))
	for id, hub := range m.discovered {
		if _, ok := m.connected[id]; !ok {
			identity := *hub
			out = append(out, &identity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CreateConnectionRequest builds the request this hub sends to a peer.
func (m *Manager) CreateConnectionRequest(message string) *types.ConnectionRequest {
	return &types.ConnectionRequest{
		RequestID:   types.NewRequestID(),
		FromHubID:   m.identity.ID,
		FromHubName: m.identity.Name,
		FromAddress: m.identity.Hostname,
		FromPort:    m.identity.Port,
		Message:     message,
		ReceivedAt:  m.now().UTC(),
	}
}

// AddPendingRequest records an inbound connection request. Self-requests are
// rejected; a newer request from the same peer replaces any prior one.
func (m *Manager) AddPendingRequest(req *types.ConnectionRequest) error {
	if req.FromHubID == m.identity.ID {
		return fmt.Errorf("cannot accept a connection request from ourselves")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, existing := range m.pending {
		if existing.FromHubID == req.FromHubID {
			delete(m.pending, id)
		}
	}
	stored := *req
	stored.ReceivedAt = m.now().UTC()
	m.pending[stored.RequestID] = &stored
	return m.save()
}

// GetPendingRequests returns the live pending requests, newest first.
func (m *Manager) GetPendingRequests() []*types.ConnectionRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	out := make([]*types.ConnectionRequest, 0, len(m.pending))
	for _, req := range m.pending {
		if !req.Expired(now) {
			r := *req
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	return out
}

// ApproveRequest consumes a pending request, mints the shared auth token,
// and establishes the peer link. An expired request fails and is purged.
func (m *Manager) ApproveRequest(requestID string) (*types.ConnectedHub, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.pending[requestID]
	if !ok {
		return nil, fmt.Errorf("connection request not found: %s", requestID)
	}
	delete(m.pending, requestID)
	if req.Expired(m.now()) {
		if err := m.save(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("connection request expired: %s", requestID)
	}

	now := m.now().UTC()
	hub := &types.ConnectedHub{
		HubID:       req.FromHubID,
		Name:        req.FromHubName,
		Address:     req.FromAddress,
		Port:        req.FromPort,
		AuthToken:   types.NewAuthToken(),
		ConnectedAt: now,
		LastSeen:    now,
	}
	m.connected[hub.HubID] = hub
	return cloneHub(hub), m.save()
}

// RejectRequest discards a pending request.
func (m *Manager) RejectRequest(requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[requestID]; !ok {
		return fmt.Errorf("connection request not found: %s", requestID)
	}
	delete(m.pending, requestID)
	return m.save()
}

// AddConnectedHub records a peer link approved by the other side, which
// minted the token.
func (m *Manager) AddConnectedHub(hub *types.ConnectedHub) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *hub
	stored.LastSeen = m.now().UTC()
	m.connected[stored.HubID] = &stored
	return m.save()
}

// DisconnectHub removes a peer link and drops its cached sessions.
func (m *Manager) DisconnectHub(hubID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.connected[hubID]; !ok {
		return fmt.Errorf("hub not connected: %s", hubID)
	}
	delete(m.connected, hubID)
	delete(m.remote, hubID)
	return m.save()
}

// ConnectedHubs returns every peer link, sorted by name.
func (m *Manager) ConnectedHubs() []*types.ConnectedHub {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.ConnectedHub, 0, len(m.connected))
	for _, hub := range m.connected {
		out = append(out, cloneHub(hub))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetConnectedHub returns a copy of one peer link by hub id.
func (m *Manager) GetConnectedHub(hubID string) (*types.ConnectedHub, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hub, ok := m.connected[hubID]
	if !ok {
		return nil, false
	}
	return cloneHub(hub), true
}

// UpdateHubLastSeen refreshes the peer's liveness timestamp.
func (m *Manager) UpdateHubLastSeen(hubID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hub, ok := m.connected[hubID]
	if !ok {
		return fmt.Errorf("hub not connected: %s", hubID)
	}
	hub.LastSeen = m.now().UTC()
	return m.save()
}

// UpdateRemoteSessions replaces the cached session projection for a peer.
func (m *Manager) UpdateRemoteSessions(hubID string, sessions []*types.RemoteSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hub, ok := m.connected[hubID]
	if !ok {
		return fmt.Errorf("hub not connected: %s", hubID)
	}
	m.remote[hubID] = cloneRemotes(sessions)
	hub.SessionCount = len(sessions)
	hub.LastSeen = m.now().UTC()
	return m.save()
}

// RemoteSessions returns the cached projection for one peer.
func (m *Manager) RemoteSessions(hubID string) []*types.RemoteSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneRemotes(m.remote[hubID])
}

// AllRemoteSessions returns every cached remote session across peers.
func (m *Manager) AllRemoteSessions() []*types.RemoteSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.RemoteSession
	for _, sessions := range m.remote {
		out = append(out, cloneRemotes(sessions)...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HubName != out[j].HubName {
			return out[i].HubName < out[j].HubName
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// LocalResolver looks sessions up in the local registry by id or name.
type LocalResolver func(nameOrID string) (string, bool)

// ResolveSession resolves "hub:name" or plain "name" targets. A hub prefix
// naming the local hub resolves locally; otherwise the prefix selects a
// connected peer by case-insensitive name and the remainder a remote session
// by case-insensitive name within it. Unqualified names resolve against
// local sessions only.
func (m *Manager) ResolveSession(target string, local LocalResolver) (string, *types.RemoteSession, bool) {
	hubName, sessionName, qualified := strings.Cut(target, ":")
	if !qualified {
		if id, ok := local(target); ok {
			return id, nil, true
		}
		return "", nil, false
	}

	if strings.EqualFold(hubName, m.identity.Name) {
		if id, ok := local(sessionName); ok {
			return id, nil, true
		}
		return "", nil, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, hub := range m.connected {
		if !strings.EqualFold(hub.Name, hubName) {
			continue
		}
		for _, rs := range m.remote[id] {
			if strings.EqualFold(rs.Name, sessionName) || rs.ID == sessionName {
				found := *rs
				return "", &found, true
			}
		}
	}
	return "", nil, false
}

// CleanupExpiredRequests drops expired pending requests, returning how many
// were removed.
func (m *Manager) CleanupExpiredRequests() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, req := range m.pending {
		if req.Expired(now) {
			delete(m.pending, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, m.save()
}

// cloneHub copies a peer link so callers can read and marshal it after the
// manager lock is released.
func cloneHub(h *types.ConnectedHub) *types.ConnectedHub {
	c := *h
	return &c
}

func cloneRemotes(sessions []*types.RemoteSession) []*types.RemoteSession {
	if sessions == nil {
		return nil
	}
	out := make([]*types.RemoteSession, len(sessions))
	for i, rs := range sessions {
		c := *rs
		out[i] = &c
	}
	return out
}

func (m *Manager) save() error {
	pending := make([]*types.ConnectionRequest, 0, len(m.pending))
	for _, req := range m.pending {
		pending = append(pending, req)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].RequestID < pending[j].RequestID })

	connected := make([]*types.ConnectedHub, 0, len(m.connected))
	for _, hub := range m.connected {
		connected = append(connected, hub)
	}
	sort.Slice(connected, func(i, j int) bool { return connected[i].HubID < connected[j].HubID })

	return fsjson.Write(m.path, peersFile{
		Version:   fsjson.FileVersion,
		UpdatedAt: m.now().UTC(),
		Pending:   pending,
		Connected: connected,
		Remote:    m.remote,
	})
}
