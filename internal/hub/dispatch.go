// internal/hub/dispatch.go
package hub

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/user/collabhub/internal/protocol"
	"github.com/user/collabhub/internal/types"
)

// Dispatch applies one command, records it in the issuing session's history,
// and builds its response. Component errors become {success:false, message};
// nothing is retried here.
func (h *Hub) Dispatch(cmd protocol.Command) protocol.Response {
	resp := h.apply(cmd)
	// Leave unregisters the session, so there is no history left to append to.
	if cmd.SessionID != "" && cmd.Cmd != protocol.CmdLeave {
		if err := h.Sessions.RecordCommand(cmd.SessionID, cmd.Cmd, resp.Success); err != nil {
			slog.Debug("command history not recorded",
				"session_id", cmd.SessionID, "cmd", cmd.Cmd, "error", err)
		}
	}
	return resp
}

func (h *Hub) apply(cmd protocol.Command) protocol.Response {
	switch cmd.Cmd {
	case protocol.CmdJoin:
		session, err := h.Join(types.ParseRole(cmd.Role), cmd.Name)
		if err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK(fmt.Sprintf("joined as %s (%s)", session.Role, session.ID), session)

	case protocol.CmdLeave:
		if err := h.Leave(cmd.SessionID); err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK("left", nil)

	case protocol.CmdHeartbeat:
		if err := h.Heartbeat(cmd.SessionID); err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK("ok", nil)

	case protocol.CmdWho:
		local, remote := h.Who()
		return protocol.OK(fmt.Sprintf("%d local, %d remote", len(local), len(remote)), map[string]any{
			"sessions": local,
			"remote":   remote,
		})

	case protocol.CmdTell:
		msg, err := h.Tell(cmd.SessionID, cmd.To, cmd.Content, cmd.Alert)
		if err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK("sent "+msg.ID, msg)

	case protocol.CmdBroadcast:
		msg, err := h.Broadcast(cmd.SessionID, cmd.Content)
		if err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK("broadcast "+msg.ID, msg)

	case protocol.CmdGetInbox:
		inbox := h.Inbox(cmd.SessionID, cmd.UnreadOnly)
		return protocol.OK(fmt.Sprintf("%d messages", len(inbox)), inbox)

	case protocol.CmdMarkRead:
		if err := h.MarkRead(cmd.SessionID, cmd.MessageID); err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK("marked read", nil)

	case protocol.CmdMarkAllRead:
		if err := h.MarkRead(cmd.SessionID, ""); err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK("marked all read", nil)

	case protocol.CmdCreateTask:
		task, err := h.CreateTask(&types.Task{
			Title:       cmd.Title,
			Description: cmd.Description,
			Assignee:    cmd.Assignee,
			Creator:     cmd.SessionID,
			Priority:    types.TaskPriority(cmd.Priority),
		})
		if err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK(fmt.Sprintf("task #%d created", task.ID), task)

	case protocol.CmdListTasks:
		tasks := h.ListTasks(cmd.Assignee, types.TaskStatus(cmd.Status))
		return protocol.OK(fmt.Sprintf("%d tasks", len(tasks)), tasks)

	case protocol.CmdUpdateTask:
		task, err := h.UpdateTask(cmd.SessionID, cmd.TaskID, types.TaskStatus(cmd.Status), cmd.Assignee, cmd.Description)
		if err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK(fmt.Sprintf("task #%d updated", task.ID), task)

	case protocol.CmdSetWorkingOn:
		c, err := h.SetWorkingOn(cmd.SessionID, cmd.Path)
		if err != nil {
			return protocol.Fail(err)
		}
		if c != nil {
			return protocol.OK(fmt.Sprintf("recorded; warning: %d other session(s) working on %s (%s)",
				len(c.Others), c.Path, c.Severity), c)
		}
		return protocol.OK("recorded", nil)

	case protocol.CmdClearWorkingOn:
		if err := h.ClearWorkingOn(cmd.SessionID); err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK("cleared", nil)

	case protocol.CmdGetState:
		if cmd.Key != "" {
			value, ok := h.State.Get(cmd.Key)
			if !ok {
				return protocol.Fail(fmt.Errorf("key not found: %s", cmd.Key))
			}
			return protocol.OK(cmd.Key, value)
		}
		all := h.State.GetAll()
		return protocol.OK(fmt.Sprintf("%d keys", len(all)), all)

	case protocol.CmdSetState:
		if err := h.SetState(cmd.Key, cmd.Value); err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK("set "+cmd.Key, nil)

	case protocol.CmdDeleteState:
		if err := h.DeleteState(cmd.Key); err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK("deleted "+cmd.Key, nil)

	case protocol.CmdGetConflicts:
		history := h.ConflictHistory()
		return protocol.OK(fmt.Sprintf("%d conflicts", len(history)), history)

	case protocol.CmdLock:
		lock, err := h.AcquireLock(cmd.SessionID, cmd.Path, time.Duration(cmd.TTLSeconds)*time.Second)
		if err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK(fmt.Sprintf("locked %s until %s", lock.Path, lock.ExpiresAt.Format(time.RFC3339)), lock)

	case protocol.CmdUnlock:
		if err := h.ReleaseLock(cmd.SessionID, cmd.Path); err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK("unlocked", nil)

	case protocol.CmdPeers:
		return protocol.OK("peers", map[string]any{
			"identity":   h.Identity(),
			"discovered": h.Peers.Discovered(),
			"pending":    h.Peers.GetPendingRequests(),
			"connected":  h.Peers.ConnectedHubs(),
		})

	case protocol.CmdConnect:
		req, err := h.RequestConnection(cmd.Address, cmd.Port, cmd.Message)
		if err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK("request "+req.RequestID+" sent", req)

	case protocol.CmdApprove:
		approved, err := h.ApproveRequest(cmd.RequestID)
		if err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK("connected to "+approved.Name, approved)

	case protocol.CmdReject:
		if err := h.RejectRequest(cmd.RequestID); err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK("rejected", nil)

	case protocol.CmdDisconnect:
		if err := h.Disconnect(cmd.HubID); err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK("disconnected", nil)

	case protocol.CmdStatus:
		return protocol.OK("status", h.GetStatus())

	case protocol.CmdPing:
		return protocol.OK("pong", nil)

	case protocol.CmdShutdown:
		// The transport stops the server after this response is written.
		return protocol.OK("shutting down", nil)

	default:
		return protocol.Fail(fmt.Errorf("unknown command: %s", cmd.Cmd))
	}
}
