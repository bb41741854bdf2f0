// internal/hub/hub_test.go
package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/user/collabhub/internal/protocol"
	"github.com/user/collabhub/internal/types"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h, err := New(t.TempDir(), "HubA", 7474)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestJoin_RoleExclusive(t *testing.T) {
	h := newTestHub(t)

	if _, err := h.Join(types.RoleBackend, "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Join(types.RoleBackend, "second"); err == nil {
		t.Fatal("expected second backend join to fail")
	}
	if _, err := h.Join(types.RoleWeb, "other role"); err != nil {
		t.Fatal(err)
	}
}

func TestJoin_Announces(t *testing.T) {
	h := newTestHub(t)

	s, err := h.Join(types.RoleBackend, "builder")
	if err != nil {
		t.Fatal(err)
	}
	inbox := h.Inbox(s.ID, false)
	if len(inbox) != 1 || inbox[0].Type != types.MessageSystem {
		t.Fatalf("expected one system announcement, got %v", inbox)
	}
}

func TestLeave_ReleasesEverything(t *testing.T) {
	h := newTestHub(t)

	s, _ := h.Join(types.RoleBackend, "")
	if _, err := h.AcquireLock(s.ID, "main.go", time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := h.SetWorkingOn(s.ID, "main.go"); err != nil {
		t.Fatal(err)
	}

	if err := h.Leave(s.ID); err != nil {
		t.Fatal(err)
	}
	local, _ := h.Who()
	if len(local) != 0 {
		t.Error("session still listed after leave")
	}
	other, _ := h.Join(types.RoleWeb, "")
	if _, err := h.AcquireLock(other.ID, "main.go", time.Minute); err != nil {
		t.Errorf("lock should be free after owner left: %v", err)
	}
	if workers := h.State.WhoIsWorkingOn("main.go"); len(workers) != 0 {
		t.Errorf("work state should be cleared after leave: %v", workers)
	}
	if err := h.Leave(s.ID); err == nil {
		t.Error("expected error leaving twice")
	}
}

func TestSetWorkingOn_WarnsButRecords(t *testing.T) {
	h := newTestHub(t)

	a, _ := h.Join(types.RoleBackend, "")
	b, _ := h.Join(types.RoleWeb, "")

	c, err := h.SetWorkingOn(a.ID, "shared.go")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("first worker should see no conflict: %+v", c)
	}

	c, err = h.SetWorkingOn(b.ID, "shared.go")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("expected an advisory conflict")
	}
	if c.Severity != types.SeverityHigh {
		t.Errorf("expected high severity, got %s", c.Severity)
	}
	// The update is recorded despite the warning.
	workers := h.State.WhoIsWorkingOn("shared.go")
	if len(workers) != 2 {
		t.Errorf("expected both sessions recorded, got %v", workers)
	}
	if len(h.ConflictHistory()) != 1 {
		t.Error("conflict not recorded in history")
	}
}

func TestTell_ResolvesByNameAndRole(t *testing.T) {
	h := newTestHub(t)

	a, _ := h.Join(types.RoleBackend, "alice")
	b, _ := h.Join(types.RoleWeb, "bob")

	if _, err := h.Tell(a.ID, "Bob", "hi by name", false); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Tell(a.ID, "web", "hi by role", false); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Tell(a.ID, b.ID, "hi by id", true); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Tell(a.ID, "nobody", "lost", false); err == nil {
		t.Error("expected error for unresolvable target")
	}

	direct := 0
	alerts := 0
	for _, m := range h.Inbox(b.ID, false) {
		switch m.Type {
		case types.MessageDirect:
			direct++
		case types.MessageAlert:
			alerts++
		}
	}
	if direct != 2 || alerts != 1 {
		t.Errorf("expected 2 direct + 1 alert, got %d/%d", direct, alerts)
	}
}

func TestCreateTask_Broadcasts(t *testing.T) {
	h := newTestHub(t)

	s, _ := h.Join(types.RoleBackend, "")
	task, err := h.CreateTask(&types.Task{Title: "ship it", Creator: s.ID, Priority: types.PriorityHigh})
	if err != nil {
		t.Fatal(err)
	}

	var found bool
	for _, m := range h.Inbox("anyone-else", false) {
		if m.Type == types.MessageTaskUpdate {
			found = true
		}
	}
	if !found {
		t.Error("expected a task_update broadcast after create")
	}

	if _, err := h.UpdateTask(s.ID, task.ID, types.TaskDone, "", ""); err != nil {
		t.Fatal(err)
	}
	got, _ := h.Tasks.Get(task.ID)
	if got.CompletedAt == nil {
		t.Error("expected completed_at after done")
	}
}

func TestListTasks_Filters(t *testing.T) {
	h := newTestHub(t)

	s, _ := h.Join(types.RoleBackend, "")
	t1, _ := h.CreateTask(&types.Task{Title: "a", Creator: s.ID, Assignee: s.ID, Priority: types.PriorityLow})
	h.CreateTask(&types.Task{Title: "b", Creator: s.ID, Priority: types.PriorityCritical})
	h.UpdateTask(s.ID, t1.ID, types.TaskInProgress, "", "")

	all := h.ListTasks("", "")
	if len(all) != 2 || all[0].Title != "b" {
		t.Errorf("unexpected board order: %v", all)
	}
	mine := h.ListTasks(s.ID, "")
	if len(mine) != 1 || mine[0].ID != t1.ID {
		t.Errorf("assignee filter failed: %v", mine)
	}
	inProgress := h.ListTasks("", types.TaskInProgress)
	if len(inProgress) != 1 {
		t.Errorf("status filter failed: %v", inProgress)
	}
}

func TestLockLifecycle(t *testing.T) {
	h := newTestHub(t)

	a, _ := h.Join(types.RoleBackend, "")
	b, _ := h.Join(types.RoleWeb, "")

	if _, err := h.AcquireLock(a.ID, "db.go", time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := h.AcquireLock(b.ID, "db.go", time.Minute); err == nil {
		t.Error("expected lock contention to fail")
	}
	if err := h.ReleaseLock(b.ID, "db.go"); err == nil {
		t.Error("expected non-owner release to fail")
	}
	if err := h.ReleaseLock(a.ID, "db.go"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.AcquireLock(b.ID, "db.go", time.Minute); err != nil {
		t.Errorf("lock should be free after release: %v", err)
	}
}

func TestFederationHandlers(t *testing.T) {
	h := newTestHub(t)

	req := &types.ConnectionRequest{
		RequestID:   types.NewRequestID(),
		FromHubID:   types.NewHubID(),
		FromHubName: "HubB",
		FromAddress: "otherbox",
		FromPort:    7575,
	}
	if err := h.HandleConnectionRequest(req); err != nil {
		t.Fatal(err)
	}
	if len(h.Peers.GetPendingRequests()) != 1 {
		t.Fatal("request not pending")
	}

	approved, err := h.ApproveRequest(req.RequestID)
	if err != nil {
		t.Fatal(err)
	}
	if approved.AuthToken == "" {
		t.Error("expected minted token")
	}
	if err := h.HandleSessionUpdate(approved.HubID, []*types.RemoteSession{
		{ID: "r1", Name: "Backend", Role: types.RoleBackend, HubID: approved.HubID, HubName: "HubB"},
	}); err != nil {
		t.Fatal(err)
	}

	_, remote := h.Who()
	if len(remote) != 1 || remote[0].Name != "Backend" {
		t.Errorf("remote projection missing: %v", remote)
	}

	if err := h.HandlePing(approved.HubID); err != nil {
		t.Fatal(err)
	}
	if err := h.Disconnect(approved.HubID); err != nil {
		t.Fatal(err)
	}
	_, remote = h.Who()
	if len(remote) != 0 {
		t.Error("remote sessions should drop on disconnect")
	}
}

func TestStatus(t *testing.T) {
	h := newTestHub(t)

	h.Join(types.RoleBackend, "")
	s, _ := h.Join(types.RoleWeb, "")
	h.CreateTask(&types.Task{Title: "t", Creator: s.ID})
	h.AcquireLock(s.ID, "x.go", time.Minute)

	status := h.GetStatus()
	if status.ActiveSessions != 2 || status.Tasks != 1 || status.ActiveLocks != 1 {
		t.Errorf("unexpected status: %+v", status)
	}
	if status.HubName != "HubA" {
		t.Errorf("expected HubA, got %s", status.HubName)
	}
}

func TestStateOverWire(t *testing.T) {
	h := newTestHub(t)

	resp := h.Dispatch(protocol.Command{Cmd: protocol.CmdSetState, Key: "build", Value: []byte(`"green"`)})
	if !resp.Success {
		t.Fatalf("set failed: %s", resp.Message)
	}
	resp = h.Dispatch(protocol.Command{Cmd: protocol.CmdGetState, Key: "build"})
	if !resp.Success || string(resp.Data) != `"green"` {
		t.Fatalf("get mismatch: %+v", resp)
	}
	resp = h.Dispatch(protocol.Command{Cmd: protocol.CmdDeleteState, Key: "build"})
	if !resp.Success {
		t.Fatalf("delete failed: %s", resp.Message)
	}
	resp = h.Dispatch(protocol.Command{Cmd: protocol.CmdGetState, Key: "build"})
	if resp.Success {
		t.Error("expected key to be gone")
	}
	resp = h.Dispatch(protocol.Command{Cmd: protocol.CmdSetState, Value: []byte(`1`)})
	if resp.Success {
		t.Error("expected empty key to be refused")
	}
}

func TestRestartRoundTrip(t *testing.T) {
	dir := t.TempDir()

	h1, err := New(dir, "HubA", 7474)
	if err != nil {
		t.Fatal(err)
	}
	s, _ := h1.Join(types.RoleBackend, "survivor")
	h1.CreateTask(&types.Task{Title: "persist", Creator: s.ID, Priority: types.PriorityCritical})
	h1.SetWorkingOn(s.ID, "main.go")

	h2, err := New(dir, "HubA", 7474)
	if err != nil {
		t.Fatal(err)
	}
	if h2.Identity().ID != h1.Identity().ID {
		t.Error("hub identity changed across restart")
	}
	local, _ := h2.Who()
	if len(local) != 1 || local[0].Name != "survivor" {
		t.Errorf("sessions lost across restart: %v", local)
	}
	tasks := h2.ListTasks("", "")
	if len(tasks) != 1 || tasks[0].Title != "persist" {
		t.Errorf("tasks lost across restart: %v", tasks)
	}
	if workers := h2.State.WhoIsWorkingOn("main.go"); len(workers) != 1 {
		t.Errorf("shared state lost across restart: %v", workers)
	}
}

// Exercised with -race: responses are marshaled from copies, so concurrent
// readers never observe a task mid-update.
func TestDispatch_ConcurrentReadersAndWriters(t *testing.T) {
	h := newTestHub(t)

	s, _ := h.Join(types.RoleBackend, "")
	task, err := h.CreateTask(&types.Task{Title: "contended", Creator: s.ID})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	statuses := []types.TaskStatus{types.TaskInProgress, types.TaskBlocked, types.TaskDone, types.TaskPending}
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(status types.TaskStatus) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Dispatch(protocol.Command{Cmd: protocol.CmdUpdateTask, SessionID: s.ID, TaskID: task.ID, Status: string(status)})
			}
		}(statuses[i])
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if resp := h.Dispatch(protocol.Command{Cmd: protocol.CmdListTasks}); !resp.Success {
					t.Errorf("list failed: %s", resp.Message)
					return
				}
				h.Dispatch(protocol.Command{Cmd: protocol.CmdGetState})
				h.Dispatch(protocol.Command{Cmd: protocol.CmdPeers})
			}
		}()
	}
	wg.Wait()

	got, ok := h.Tasks.Get(task.ID)
	if !ok {
		t.Fatal("task missing after concurrent updates")
	}
	found := false
	for _, status := range statuses {
		if got.Status == status {
			found = true
		}
	}
	if !found {
		t.Errorf("unexpected final status: %s", got.Status)
	}
}

// stallDialer blocks every outbound send until released.
type stallDialer struct {
	release chan struct{}
	sent    chan string
}

func newStallDialer() *stallDialer {
	return &stallDialer{release: make(chan struct{}), sent: make(chan string, 16)}
}

func (d *stallDialer) stall(kind string) error {
	<-d.release
	d.sent <- kind
	return nil
}

func (d *stallDialer) SendConnectionRequest(address string, port int, req *types.ConnectionRequest) error {
	return d.stall("request")
}

func (d *stallDialer) SendApproval(address string, port int, approved *types.ConnectedHub) error {
	return d.stall("approval")
}

func (d *stallDialer) PushSessions(address string, port int, fromHubID string, sessions []*types.RemoteSession) error {
	return d.stall("push")
}

func TestApproveRequest_SlowPeerDoesNotStallHub(t *testing.T) {
	h := newTestHub(t)
	dialer := newStallDialer()
	h.SetDialer(dialer)

	req := &types.ConnectionRequest{
		RequestID:   types.NewRequestID(),
		FromHubID:   types.NewHubID(),
		FromHubName: "HubB",
		FromAddress: "otherbox",
		FromPort:    7575,
	}
	if err := h.HandleConnectionRequest(req); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	approved, err := h.ApproveRequest(req.RequestID)
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("approve blocked on the peer send for %s", elapsed)
	}

	// Other commands keep flowing while the sends are still in flight.
	if _, err := h.Join(types.RoleBackend, ""); err != nil {
		t.Fatal(err)
	}
	if got, ok := h.Peers.GetConnectedHub(approved.HubID); !ok || got.Name != "HubB" {
		t.Errorf("peer link missing while send in flight: %v", got)
	}

	close(dialer.release)
	deadline := time.After(2 * time.Second)
	kinds := map[string]int{}
	for len(kinds) < 2 {
		select {
		case kind := <-dialer.sent:
			kinds[kind]++
		case <-deadline:
			t.Fatalf("sends never completed after release: %v", kinds)
		}
	}
	if kinds["approval"] == 0 || kinds["push"] == 0 {
		t.Errorf("expected approval and session push, got %v", kinds)
	}
}

func TestDispatch_RecordsCommandHistory(t *testing.T) {
	h := newTestHub(t)

	s, _ := h.Join(types.RoleBackend, "")

	if resp := h.Dispatch(protocol.Command{Cmd: protocol.CmdSetWorkingOn, SessionID: s.ID, Path: "main.go"}); !resp.Success {
		t.Fatalf("workon failed: %s", resp.Message)
	}
	if resp := h.Dispatch(protocol.Command{Cmd: protocol.CmdTell, SessionID: s.ID, To: "nobody", Content: "lost"}); resp.Success {
		t.Fatal("expected tell to an unknown target to fail")
	}

	got, ok := h.Sessions.Get(s.ID)
	if !ok {
		t.Fatal("session missing")
	}
	if got.Executions != 2 || got.Errors != 1 {
		t.Errorf("expected 2 executions and 1 error, got %d/%d", got.Executions, got.Errors)
	}
	if len(got.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(got.History))
	}
	if got.History[0].Command != protocol.CmdSetWorkingOn || !got.History[0].Success {
		t.Errorf("unexpected first entry: %+v", got.History[0])
	}
	if got.History[1].Command != protocol.CmdTell || got.History[1].Success {
		t.Errorf("unexpected second entry: %+v", got.History[1])
	}
}
