// internal/peer/manager_test.go
package peer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/user/collabhub/internal/types"
)

func testIdentity(name string) *types.HubIdentity {
	return &types.HubIdentity{
		ID:        types.NewHubID(),
		Name:      name,
		Hostname:  "devbox",
		Port:      7474,
		CreatedAt: time.Now().UTC(),
		Version:   Version,
	}
}

func newTestManager(t *testing.T, name string) *Manager {
	t.Helper()
	return NewManager(filepath.Join(t.TempDir(), "peers.json"), testIdentity(name))
}

func inboundRequest(fromName string) *types.ConnectionRequest {
	return &types.ConnectionRequest{
		RequestID:   types.NewRequestID(),
		FromHubID:   types.NewHubID(),
		FromHubName: fromName,
		FromAddress: "otherbox",
		FromPort:    7575,
		ReceivedAt:  time.Now().UTC(),
	}
}

func TestLoadIdentity_CreatesAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")

	id1, err := LoadIdentity(path, "HubA", 7474)
	if err != nil {
		t.Fatal(err)
	}
	if id1.ID == "" || id1.Name != "HubA" {
		t.Fatalf("unexpected identity: %+v", id1)
	}

	id2, err := LoadIdentity(path, "Renamed", 7575)
	if err != nil {
		t.Fatal(err)
	}
	if id2.ID != id1.ID {
		t.Error("identity id should survive renames")
	}
	if id2.Name != "Renamed" || id2.Port != 7575 {
		t.Errorf("name/port should refresh: %+v", id2)
	}
}

func TestAddPendingRequest_RejectsSelf(t *testing.T) {
	m := newTestManager(t, "HubA")

	req := m.CreateConnectionRequest("hello")
	if err := m.AddPendingRequest(req); err == nil {
		t.Fatal("expected self-request to be rejected")
	}
}

func TestAddPendingRequest_ReplacesPriorFromSamePeer(t *testing.T) {
	m := newTestManager(t, "HubA")

	first := inboundRequest("HubB")
	if err := m.AddPendingRequest(first); err != nil {
		t.Fatal(err)
	}
	second := inboundRequest("HubB")
	second.FromHubID = first.FromHubID
	if err := m.AddPendingRequest(second); err != nil {
		t.Fatal(err)
	}

	pending := m.GetPendingRequests()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending request, got %d", len(pending))
	}
	if pending[0].RequestID != second.RequestID {
		t.Error("newer request should replace the prior one")
	}
}

func TestApproveRequest(t *testing.T) {
	m := newTestManager(t, "HubA")

	req := inboundRequest("HubB")
	if err := m.AddPendingRequest(req); err != nil {
		t.Fatal(err)
	}

	hub, err := m.ApproveRequest(req.RequestID)
	if err != nil {
		t.Fatal(err)
	}
	if hub.AuthToken == "" {
		t.Error("expected a minted auth token")
	}
	if hub.HubID != req.FromHubID || hub.Name != "HubB" {
		t.Errorf("connected hub mismatch: %+v", hub)
	}
	if len(m.GetPendingRequests()) != 0 {
		t.Error("approved request should leave the pending set")
	}
	if _, ok := m.GetConnectedHub(req.FromHubID); !ok {
		t.Error("expected hub in connected set")
	}
}

func TestApproveRequest_Expired(t *testing.T) {
	m := newTestManager(t, "HubA")

	req := inboundRequest("HubB")
	if err := m.AddPendingRequest(req); err != nil {
		t.Fatal(err)
	}

	m.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	if _, err := m.ApproveRequest(req.RequestID); err == nil {
		t.Fatal("expected expired request to fail approval")
	}
	if len(m.GetPendingRequests()) != 0 {
		t.Error("expired request should be purged")
	}
}

func TestRejectRequest(t *testing.T) {
	m := newTestManager(t, "HubA")

	req := inboundRequest("HubB")
	if err := m.AddPendingRequest(req); err != nil {
		t.Fatal(err)
	}
	if err := m.RejectRequest(req.RequestID); err != nil {
		t.Fatal(err)
	}
	if len(m.GetPendingRequests()) != 0 {
		t.Error("rejected request should leave the pending set")
	}
	if err := m.RejectRequest(req.RequestID); err == nil {
		t.Error("expected error rejecting twice")
	}
}

func TestDisconnectHub_DropsRemoteSessions(t *testing.T) {
	m := newTestManager(t, "HubA")

	req := inboundRequest("HubB")
	m.AddPendingRequest(req)
	hub, err := m.ApproveRequest(req.RequestID)
	if err != nil {
		t.Fatal(err)
	}
	m.UpdateRemoteSessions(hub.HubID, []*types.RemoteSession{
		{ID: "r1", Name: "Backend", Role: types.RoleBackend, HubID: hub.HubID, HubName: "HubB"},
	})

	if err := m.DisconnectHub(hub.HubID); err != nil {
		t.Fatal(err)
	}
	if len(m.RemoteSessions(hub.HubID)) != 0 {
		t.Error("remote sessions should be dropped on disconnect")
	}
	if err := m.DisconnectHub(hub.HubID); err == nil {
		t.Error("expected error disconnecting twice")
	}
}

func TestResolveSession(t *testing.T) {
	m := newTestManager(t, "HubA")
	local := func(nameOrID string) (string, bool) {
		if nameOrID == "backend" || nameOrID == "aaaa1111" {
			return "aaaa1111", true
		}
		return "", false
	}

	// Unqualified names resolve locally only.
	if id, _, ok := m.ResolveSession("backend", local); !ok || id != "aaaa1111" {
		t.Errorf("local resolution failed: %q %v", id, ok)
	}
	if _, _, ok := m.ResolveSession("nobody", local); ok {
		t.Error("unknown local name should not resolve")
	}

	// A hub prefix naming the local hub resolves locally, case-insensitively.
	if id, _, ok := m.ResolveSession("huba:backend", local); !ok || id != "aaaa1111" {
		t.Errorf("local hub-qualified resolution failed: %q %v", id, ok)
	}

	// Connected peer with a cached session.
	req := inboundRequest("HubB")
	m.AddPendingRequest(req)
	hub, _ := m.ApproveRequest(req.RequestID)
	m.UpdateRemoteSessions(hub.HubID, []*types.RemoteSession{
		{ID: "r1", Name: "Backend", Role: types.RoleBackend, HubID: hub.HubID, HubName: "HubB"},
	})

	_, remote, ok := m.ResolveSession("hubb:BACKEND", local)
	if !ok || remote == nil || remote.ID != "r1" {
		t.Errorf("remote resolution failed: %+v %v", remote, ok)
	}
	if _, _, ok := m.ResolveSession("hubb:frontend", local); ok {
		t.Error("unknown remote session should not resolve")
	}
	if _, _, ok := m.ResolveSession("hubc:backend", local); ok {
		t.Error("unknown hub should not resolve")
	}
}

func TestUpdateHubLastSeen(t *testing.T) {
	m := newTestManager(t, "HubA")

	req := inboundRequest("HubB")
	m.AddPendingRequest(req)
	hub, _ := m.ApproveRequest(req.RequestID)

	before := hub.LastSeen
	m.now = func() time.Time { return time.Now().Add(time.Minute) }
	if err := m.UpdateHubLastSeen(hub.HubID); err != nil {
		t.Fatal(err)
	}
	got, _ := m.GetConnectedHub(hub.HubID)
	if !got.LastSeen.After(before) {
		t.Error("last seen did not advance")
	}
	if err := m.UpdateHubLastSeen("nope"); err == nil {
		t.Error("expected error for unknown hub")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peers.json")
	identity := testIdentity("HubA")

	m1 := NewManager(path, identity)
	live := inboundRequest("HubB")
	m1.AddPendingRequest(live)
	approved := inboundRequest("HubC")
	m1.AddPendingRequest(approved)
	hub, err := m1.ApproveRequest(approved.RequestID)
	if err != nil {
		t.Fatal(err)
	}
	m1.UpdateRemoteSessions(hub.HubID, []*types.RemoteSession{
		{ID: "r1", Name: "Web", Role: types.RoleWeb, HubID: hub.HubID, HubName: "HubC"},
	})

	m2 := NewManager(path, identity)
	if err := m2.Load(); err != nil {
		t.Fatal(err)
	}
	if len(m2.GetPendingRequests()) != 1 {
		t.Errorf("expected 1 pending request after reload, got %d", len(m2.GetPendingRequests()))
	}
	got, ok := m2.GetConnectedHub(hub.HubID)
	if !ok || got.AuthToken != hub.AuthToken {
		t.Error("connected hub lost in round trip")
	}
	if len(m2.RemoteSessions(hub.HubID)) != 1 {
		t.Error("remote sessions lost in round trip")
	}
}

func TestLoad_PrunesExpiredRequests(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.json")
	identity := testIdentity("HubA")

	m1 := NewManager(path, identity)
	req := inboundRequest("HubB")
	m1.AddPendingRequest(req)

	m2 := NewManager(path, identity)
	m2.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	if err := m2.Load(); err != nil {
		t.Fatal(err)
	}
	if len(m2.GetPendingRequests()) != 0 {
		t.Error("expired request should be pruned at load")
	}
}

func TestDiscovered(t *testing.T) {
	m := newTestManager(t, "HubA")

	m.AddDiscoveredHub(*m.identity) // self, ignored
	other := *testIdentity("HubB")
	m.AddDiscoveredHub(other)
	refreshed := other
	refreshed.Port = 9999
	m.AddDiscoveredHub(refreshed)

	disc := m.Discovered()
	if len(disc) != 1 {
		t.Fatalf("expected 1 discovered hub, got %d", len(disc))
	}
	if disc[0].Port != 9999 {
		t.Error("rediscovery should refresh address/port")
	}
}

func TestReturnedHubsAreCopies(t *testing.T) {
	m := newTestManager(t, "HubA")

	req := inboundRequest("HubB")
	if err := m.AddPendingRequest(req); err != nil {
		t.Fatal(err)
	}
	hub, err := m.ApproveRequest(req.RequestID)
	if err != nil {
		t.Fatal(err)
	}
	hub.Name = "scribbled"

	got, ok := m.GetConnectedHub(hub.HubID)
	if !ok {
		t.Fatal("hub missing")
	}
	if got.Name != "HubB" {
		t.Errorf("stored hub changed through a returned pointer: %+v", got)
	}

	for _, h := range m.ConnectedHubs() {
		h.AuthToken = "forged"
	}
	got, _ = m.GetConnectedHub(hub.HubID)
	if got.AuthToken == "forged" {
		t.Error("stored hub changed through a ConnectedHubs result")
	}

	sessions := []*types.RemoteSession{{ID: "r1", Name: "Backend", HubID: hub.HubID, HubName: "HubB"}}
	if err := m.UpdateRemoteSessions(hub.HubID, sessions); err != nil {
		t.Fatal(err)
	}
	sessions[0].Name = "scribbled"
	if remote := m.RemoteSessions(hub.HubID); remote[0].Name != "Backend" {
		t.Errorf("cached sessions share the caller's pointers: %+v", remote)
	}
	m.RemoteSessions(hub.HubID)[0].Name = "scribbled"
	if remote := m.AllRemoteSessions(); remote[0].Name != "Backend" {
		t.Errorf("cached sessions changed through a returned slice: %+v", remote)
	}
}
