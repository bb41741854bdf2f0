// internal/msgqueue/queue.go
package msgqueue

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/user/collabhub/internal/fsjson"
	"github.com/user/collabhub/internal/types"
)

// broadcastCap bounds the shared broadcast log to the most recent entries.
const broadcastCap = 100

// Queue routes direct, broadcast, system, and alert messages. In-memory
// state is the source of truth for the running process; every direct message
// is appended to the recipient's inbox file, every broadcast to a shared
// capped log. Load hydrates only the broadcast log; inboxes are read lazily.
type Queue struct {
	dir        string
	mu         sync.Mutex
	inboxes    map[string][]*types.Message
	broadcasts []*types.Message
	now        func() time.Time
}

type inboxFile struct {
	Version   string           `json:"version"`
	UpdatedAt time.Time        `json:"updated_at"`
	Messages  []*types.Message `json:"messages"`
}

// New creates a queue storing message files under dir.
func New(dir string) *Queue {
	return &Queue{
		dir:     dir,
		inboxes: make(map[string][]*types.Message),
		now:     time.Now,
	}
}

// Load hydrates the broadcast log from disk.
func (q *Queue) Load() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var file inboxFile
	ok, err := fsjson.Read(q.broadcastPath(), &file)
	if err != nil {
		return err
	}
	if ok {
		q.broadcasts = file.Messages
	}
	return nil
}

// Send delivers a direct message to one session.
func (q *Queue) Send(from, to, content string) (*types.Message, error) {
	return q.deliver(from, to, content, types.MessageDirect)
}

// Alert delivers a high-priority direct message.
func (q *Queue) Alert(from, to, content string) (*types.Message, error) {
	return q.deliver(from, to, content, types.MessageAlert)
}

// Broadcast delivers a message addressed to every session.
func (q *Queue) Broadcast(from, content string) (*types.Message, error) {
	return q.deliver(from, types.BroadcastRecipient, content, types.MessageBroadcast)
}

// System delivers a hub-originated broadcast.
func (q *Queue) System(content string) (*types.Message, error) {
	return q.deliver("hub", types.BroadcastRecipient, content, types.MessageSystem)
}

// TaskUpdate delivers a task-notification broadcast.
func (q *Queue) TaskUpdate(from, content string) (*types.Message, error) {
	return q.deliver(from, types.BroadcastRecipient, content, types.MessageTaskUpdate)
}

func (q *Queue) deliver(from, to, content string, mt types.MessageType) (*types.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg := &types.Message{
		ID:      types.NewMessageID(from, to, q.now()),
		From:    from,
		To:      to,
		Content: content,
		Type:    mt,
		SentAt:  q.now().UTC(),
	}

	if to == types.BroadcastRecipient {
		q.broadcasts = append(q.broadcasts, msg)
		if len(q.broadcasts) > broadcastCap {
			q.broadcasts = q.broadcasts[len(q.broadcasts)-broadcastCap:]
		}
		return cloneMessage(msg), q.saveBroadcasts()
	}

	inbox := q.loadInbox(to)
	inbox = append(inbox, msg)
	q.inboxes[to] = inbox
	return cloneMessage(msg), q.saveInbox(to, inbox)
}

// GetInbox returns every message addressed to the session, directly or via
// broadcast, oldest first.
func (q *Queue) GetInbox(sessionID string) []*types.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	inbox := q.loadInbox(sessionID)
	out := make([]*types.Message, 0, len(inbox)+len(q.broadcasts))
	for _, m := range inbox {
		out = append(out, cloneMessage(m))
	}
	for _, m := range q.broadcasts {
		out = append(out, cloneMessage(m))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out
}

// GetUnread returns the session's unread messages.
func (q *Queue) GetUnread(sessionID string) []*types.Message {
	var unread []*types.Message
	for _, m := range q.GetInbox(sessionID) {
		if !m.Read {
			unread = append(unread, m)
		}
	}
	return unread
}

// MarkRead marks one message read. Broadcast read-state is shared: any
// session marking a broadcast read marks it for all.
func (q *Queue) MarkRead(sessionID, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range q.broadcasts {
		if m.ID == messageID {
			m.Read = true
			return q.saveBroadcasts()
		}
	}
	inbox := q.loadInbox(sessionID)
	for _, m := range inbox {
		if m.ID == messageID {
			m.Read = true
			return q.saveInbox(sessionID, inbox)
		}
	}
	return fmt.Errorf("message not found: %s", messageID)
}

// MarkAllRead marks every message in the session's view read.
func (q *Queue) MarkAllRead(sessionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	changed := false
	for _, m := range q.broadcasts {
		if !m.Read {
			m.Read = true
			changed = true
		}
	}
	if changed {
		if err := q.saveBroadcasts(); err != nil {
			return err
		}
	}

	inbox := q.loadInbox(sessionID)
	changed = false
	for _, m := range inbox {
		if !m.Read {
			m.Read = true
			changed = true
		}
	}
	if changed {
		return q.saveInbox(sessionID, inbox)
	}
	return nil
}

// GetConversation returns the direct messages exchanged between two
// sessions, oldest first.
func (q *Queue) GetConversation(a, b string) []*types.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	var conv []*types.Message
	for _, m := range q.loadInbox(a) {
		if m.From == b {
			conv = append(conv, cloneMessage(m))
		}
	}
	for _, m := range q.loadInbox(b) {
		if m.From == a {
			conv = append(conv, cloneMessage(m))
		}
	}
	sort.SliceStable(conv, func(i, j int) bool { return conv[i].SentAt.Before(conv[j].SentAt) })
	return conv
}

// Cleanup drops messages older than maxAge from the broadcast log and every
// hydrated inbox. Returns how many were removed.
func (q *Queue) Cleanup(maxAge time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-maxAge)
	removed := 0

	kept := q.broadcasts[:0]
	for _, m := range q.broadcasts {
		if m.SentAt.After(cutoff) {
			kept = append(kept, m)
		} else {
			removed++
		}
	}
	if len(kept) != len(q.broadcasts) {
		q.broadcasts = kept
		if err := q.saveBroadcasts(); err != nil {
			return removed, err
		}
	}

	for id, inbox := range q.inboxes {
		keptInbox := inbox[:0]
		for _, m := range inbox {
			if m.SentAt.After(cutoff) {
				keptInbox = append(keptInbox, m)
			} else {
				removed++
			}
		}
		if len(keptInbox) != len(inbox) {
			q.inboxes[id] = keptInbox
			if err := q.saveInbox(id, keptInbox); err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}

// cloneMessage copies a message so callers can read and marshal it after the
// queue lock is released.
func cloneMessage(m *types.Message) *types.Message {
	c := *m
	return &c
}

// loadInbox returns the session's inbox, reading it from disk on first use.
// An unreadable inbox file is reported and replaced by an empty inbox so one
// corrupt recipient cannot wedge delivery. Callers must hold q.mu.
func (q *Queue) loadInbox(sessionID string) []*types.Message {
	if inbox, ok := q.inboxes[sessionID]; ok {
		return inbox
	}
	var file inboxFile
	ok, err := fsjson.Read(q.inboxPath(sessionID), &file)
	if err != nil {
		slog.Error("inbox file unreadable, starting empty",
			"session_id", sessionID, "path", q.inboxPath(sessionID), "error", err)
	}
	if ok {
		q.inboxes[sessionID] = file.Messages
	} else {
		q.inboxes[sessionID] = []*types.Message{}
	}
	return q.inboxes[sessionID]
}

func (q *Queue) saveInbox(sessionID string, inbox []*types.Message) error {
	return fsjson.Write(q.inboxPath(sessionID), inboxFile{
		Version:   fsjson.FileVersion,
		UpdatedAt: q.now().UTC(),
		Messages:  inbox,
	})
}

func (q *Queue) saveBroadcasts() error {
	return fsjson.Write(q.broadcastPath(), inboxFile{
		Version:   fsjson.FileVersion,
		UpdatedAt: q.now().UTC(),
		Messages:  q.broadcasts,
	})
}

func (q *Queue) inboxPath(sessionID string) string {
	return filepath.Join(q.dir, sessionID+".json")
}

func (q *Queue) broadcastPath() string {
	return filepath.Join(q.dir, "broadcast.json")
}
