package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task states.
const (
	StatePending      = "pending"
	StateAcknowledged = "acknowledged"
	StateWorking      = "working"
	StateDone         = "done"
	StateFailed       = "failed"
	StateCancelled    = "cancelled"
)

// taskRetention is how long finished tasks stay visible to status queries.
const taskRetention = 10 * time.Minute

// Task is one tracked agent run, visible to status queries and cancellation.
type Task struct {
	ID          string
	WorkspaceID string
	ChannelID   string
	ThreadTS    string
	Description string
	State       string
	StartedAt   time.Time
	FinishedAt  time.Time
	cancel      func()
}

// Elapsed is seconds since the task started.
func (t *Task) Elapsed() int {
	end := t.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return int(end.Sub(t.StartedAt).Seconds())
}

func (t *Task) active() bool {
	switch t.State {
	case StatePending, StateAcknowledged, StateWorking:
		return true
	}
	return false
}

// TaskBoard tracks live and recently finished runs per workspace.
type TaskBoard struct {
	mu    sync.Mutex
	tasks map[string]*Task
	now   func() time.Time
}

func NewTaskBoard() *TaskBoard {
	return &TaskBoard{tasks: make(map[string]*Task), now: time.Now}
}

// Start registers a new pending task. cancel is invoked on Cancel.
func (b *TaskBoard) Start(workspaceID, channelID, threadTS, description string, cancel func()) *Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweep()
	t := &Task{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		ChannelID:   channelID,
		ThreadTS:    threadTS,
		Description: description,
		State:       StatePending,
		StartedAt:   b.now(),
		cancel:      cancel,
	}
	b.tasks[t.ID] = t
	return t
}

// SetState transitions a task; terminal states stamp FinishedAt.
func (b *TaskBoard) SetState(taskID, state string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[taskID]
	if !ok {
		return
	}
	t.State = state
	if !t.active() {
		t.FinishedAt = b.now()
	}
}

// Active returns the workspace's in-flight tasks, oldest first.
func (b *TaskBoard) Active(workspaceID string) []*Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweep()
	var out []*Task
	for _, t := range b.tasks {
		if t.WorkspaceID == workspaceID && t.active() {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Cancel stops the most recent active task, preferring a thread match.
// Returns the cancelled task, or nil when nothing was running.
func (b *TaskBoard) Cancel(workspaceID, threadTS string) *Task {
	b.mu.Lock()
	defer b.mu.Unlock()

	newest := func(match func(*Task) bool) *Task {
		var pick *Task
		for _, t := range b.tasks {
			if t.WorkspaceID != workspaceID || !t.active() || !match(t) {
				continue
			}
			if pick == nil || t.StartedAt.After(pick.StartedAt) {
				pick = t
			}
		}
		return pick
	}
	var pick *Task
	if threadTS != "" {
		pick = newest(func(t *Task) bool { return t.ThreadTS == threadTS })
	}
	if pick == nil {
		pick = newest(func(*Task) bool { return true })
	}
	if pick == nil {
		return nil
	}
	pick.State = StateCancelled
	pick.FinishedAt = b.now()
	if pick.cancel != nil {
		pick.cancel()
	}
	cp := *pick
	return &cp
}

// StatusLines formats active tasks for a status reply, one bullet per task.
func (b *TaskBoard) StatusLines(workspaceID string) string {
	active := b.Active(workspaceID)
	if len(active) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, t := range active {
		fmt.Fprintf(&sb, "• %s — %s (%ds)\n", t.Description, t.State, t.Elapsed())
	}
	return strings.TrimRight(sb.String(), "\n")
}

// sweep drops finished tasks past retention. Callers hold the lock.
func (b *TaskBoard) sweep() {
	cutoff := b.now().Add(-taskRetention)
	for id, t := range b.tasks {
		if !t.active() && !t.FinishedAt.IsZero() && t.FinishedAt.Before(cutoff) {
			delete(b.tasks, id)
		}
	}
}
