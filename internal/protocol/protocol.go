// internal/protocol/protocol.go
package protocol

import (
	"encoding/json"
	"fmt"
)

// Command names accepted by the hub transport.
const (
	// Sessions.
	CmdJoin      = "Join"
	CmdLeave     = "Leave"
	CmdHeartbeat = "Heartbeat"
	CmdWho       = "Who"

	// Messaging.
	CmdTell        = "Tell"
	CmdBroadcast   = "Broadcast"
	CmdGetInbox    = "GetInbox"
	CmdMarkRead    = "MarkRead"
	CmdMarkAllRead = "MarkAllRead"

	// Tasks.
	CmdCreateTask = "CreateTask"
	CmdListTasks  = "ListTasks"
	CmdUpdateTask = "UpdateTask"

	// Shared state.
	CmdSetWorkingOn   = "SetWorkingOn"
	CmdClearWorkingOn = "ClearWorkingOn"
	CmdGetState       = "GetState"
	CmdSetState       = "SetState"
	CmdDeleteState    = "DeleteState"
	CmdGetConflicts   = "GetConflicts"
	CmdLock           = "Lock"
	CmdUnlock         = "Unlock"

	// Federation.
	CmdPeers      = "Peers"
	CmdConnect    = "Connect"
	CmdApprove    = "Approve"
	CmdReject     = "Reject"
	CmdDisconnect = "Disconnect"

	// System.
	CmdStatus   = "Status"
	CmdPing     = "Ping"
	CmdShutdown = "Shutdown"
)

// Command is one request line on the wire: a command name plus whichever
// fields that command reads. Unused fields stay empty and are omitted.
type Command struct {
	Cmd         string          `json:"cmd"`
	SessionID   string          `json:"session_id,omitempty"`
	Role        string          `json:"role,omitempty"`
	Name        string          `json:"name,omitempty"`
	To          string          `json:"to,omitempty"`
	Content     string          `json:"content,omitempty"`
	Alert       bool            `json:"alert,omitempty"`
	MessageID   string          `json:"message_id,omitempty"`
	UnreadOnly  bool            `json:"unread_only,omitempty"`
	Path        string          `json:"path,omitempty"`
	Key         string          `json:"key,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	TTLSeconds  int             `json:"ttl_seconds,omitempty"`
	TaskID      uint64          `json:"task_id,omitempty"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	Priority    string          `json:"priority,omitempty"`
	Assignee    string          `json:"assignee,omitempty"`
	Status      string          `json:"status,omitempty"`
	HubID       string          `json:"hub_id,omitempty"`
	RequestID   string          `json:"request_id,omitempty"`
	Address     string          `json:"address,omitempty"`
	Port        int             `json:"port,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// Response is one reply line on the wire.
type Response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// OK builds a success response, marshaling data when present.
func OK(message string, data any) Response {
	resp := Response{Success: true, Message: message}
	if data == nil {
		return resp
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Fail(fmt.Errorf("marshal response data: %w", err))
	}
	resp.Data = raw
	return resp
}

// Fail builds a failure response from an error.
func Fail(err error) Response {
	return Response{Success: false, Message: err.Error()}
}
