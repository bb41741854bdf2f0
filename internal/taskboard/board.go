// internal/taskboard/board.go
package taskboard

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/user/collabhub/internal/fsjson"
	"github.com/user/collabhub/internal/types"
)

// Board is the shared, prioritized task list. Ids come from a single
// monotonic counter and are never reused; the counter persists with the
// task map. Status transitions are advisory: any transition is allowed.
type Board struct {
	path    string
	mu      sync.RWMutex
	tasks   map[uint64]*types.Task
	counter uint64
	now     func() time.Time
}

type boardFile struct {
	Version   string        `json:"version"`
	UpdatedAt time.Time     `json:"updated_at"`
	Counter   uint64        `json:"counter"`
	Tasks     []*types.Task `json:"tasks"`
}

// New creates a board backed by the given file path.
func New(path string) *Board {
	return &Board{
		path:  path,
		tasks: make(map[uint64]*types.Task),
		now:   time.Now,
	}
}

// Load hydrates the board and its counter from disk.
func (b *Board) Load() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var file boardFile
	ok, err := fsjson.Read(b.path, &file)
	if err != nil || !ok {
		return err
	}
	b.counter = file.Counter
	b.tasks = make(map[uint64]*types.Task, len(file.Tasks))
	for _, task := range file.Tasks {
		b.tasks[task.ID] = task
		// Guard against a counter that lags the stored tasks.
		if task.ID > b.counter {
			b.counter = task.ID
		}
	}
	return nil
}

// Create inserts a pending task with the next id.
func (b *Board) Create(title, creator string, priority types.TaskPriority) (*types.Task, error) {
	return b.CreateFrom(&types.Task{Title: title, Creator: creator, Priority: priority})
}

// CreateFrom inserts a copy of a caller-populated task, overriding id,
// status, and timestamps.
func (b *Board) CreateFrom(task *types.Task) (*types.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if task.Title == "" {
		return nil, fmt.Errorf("task title required")
	}

	stored := cloneTask(task)
	if stored.Priority == "" {
		stored.Priority = types.PriorityMedium
	}

	b.counter++
	now := b.now().UTC()
	stored.ID = b.counter
	stored.Status = types.TaskPending
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.CompletedAt = nil
	b.tasks[stored.ID] = stored
	return cloneTask(stored), b.save()
}

// UpdateStatus moves a task to the given status. CompletedAt is set only
// when the task becomes done.
func (b *Board) UpdateStatus(id uint64, status types.TaskStatus) (*types.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	task, ok := b.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task not found: %d", id)
	}
	task.Status = status
	task.UpdatedAt = b.now().UTC()
	if status == types.TaskDone {
		done := task.UpdatedAt
		task.CompletedAt = &done
	}
	return cloneTask(task), b.save()
}

// Reassign changes a task's assignee.
func (b *Board) Reassign(id uint64, assignee string) (*types.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	task, ok := b.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task not found: %d", id)
	}
	task.Assignee = assignee
	task.UpdatedAt = b.now().UTC()
	return cloneTask(task), b.save()
}

// SetDescription replaces a task's description.
func (b *Board) SetDescription(id uint64, description string) (*types.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	task, ok := b.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task not found: %d", id)
	}
	task.Description = description
	task.UpdatedAt = b.now().UTC()
	return cloneTask(task), b.save()
}

// Delete removes a task. Its id is never reused.
func (b *Board) Delete(id uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.tasks[id]; !ok {
		return fmt.Errorf("task not found: %d", id)
	}
	delete(b.tasks, id)
	return b.save()
}

// Get returns a copy of one task by id.
func (b *Board) Get(id uint64) (*types.Task, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	task, ok := b.tasks[id]
	if !ok {
		return nil, false
	}
	return cloneTask(task), true
}

// GetAll returns every task ordered by priority (critical first) and, within
// a priority tier, by creation order. Clients rely on this order for display.
func (b *Board) GetAll() []*types.Task {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := sortTasks(b.tasks)
	for i, task := range out {
		out[i] = cloneTask(task)
	}
	return out
}

// GetForSession returns the tasks assigned to the given session, in board
// order.
func (b *Board) GetForSession(sessionID string) []*types.Task {
	var out []*types.Task
	for _, task := range b.GetAll() {
		if task.Assignee == sessionID {
			out = append(out, task)
		}
	}
	return out
}

// GetByStatus returns the tasks with the given status, in board order.
func (b *Board) GetByStatus(status types.TaskStatus) []*types.Task {
	var out []*types.Task
	for _, task := range b.GetAll() {
		if task.Status == status {
			out = append(out, task)
		}
	}
	return out
}

// cloneTask copies a task so callers can read and marshal it after the board
// lock is released.
func cloneTask(t *types.Task) *types.Task {
	c := *t
	if t.CompletedAt != nil {
		done := *t.CompletedAt
		c.CompletedAt = &done
	}
	if len(t.Tags) > 0 {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if len(t.Blockers) > 0 {
		c.Blockers = append([]string(nil), t.Blockers...)
	}
	return &c
}

func sortTasks(tasks map[uint64]*types.Task) []*types.Task {
	out := make([]*types.Task, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (b *Board) save() error {
	return fsjson.Write(b.path, boardFile{
		Version:   fsjson.FileVersion,
		UpdatedAt: b.now().UTC(),
		Counter:   b.counter,
		Tasks:     sortTasks(b.tasks),
	})
}
