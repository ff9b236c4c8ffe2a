package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the task id is unknown.
	ErrNotFound = errors.New("tasks: not found")
)

// Status tracks a background task's lifecycle.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Task is one in-flight background unit: a subagent run or a detached
// process. Completion publishes once via the done channel.
type Task struct {
	ID        string
	SessionID string
	StartedAt time.Time

	mu     sync.Mutex
	status Status
	output string
	err    error
	done   chan struct{}
	cancel context.CancelFunc
}

// Registry is the concurrency-safe table of in-flight tasks, scoped to one
// agent to avoid global state.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewRegistry constructs an empty task registry.
func NewRegistry() *Registry {
	return &Registry{tasks: map[string]*Task{}}
}

// Start registers a new running task bound to the cancel function of its
// work context.
func (r *Registry) Start(sessionID string, cancel context.CancelFunc) *Task {
	t := &Task{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		StartedAt: time.Now(),
		status:    StatusRunning,
		done:      make(chan struct{}),
		cancel:    cancel,
	}
	r.mu.Lock()
	r.tasks[t.ID] = t
	r.mu.Unlock()
	return t
}

// Get fetches a task by id.
func (r *Registry) Get(id string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, nil
}

// Remove drops a finalized task from the table.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.tasks, id)
	r.mu.Unlock()
}

// CancelAll signals every running task. Used when the parent terminates.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	snapshot := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		snapshot = append(snapshot, t)
	}
	r.mu.Unlock()
	for _, t := range snapshot {
		t.Cancel()
	}
}

// Complete publishes the task result. Subsequent calls are no-ops so
// completion and cancellation cannot race into a double close.
func (t *Task) Complete(output string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusRunning {
		return
	}
	t.output = output
	t.err = err
	if err != nil {
		t.status = StatusFailed
		if errors.Is(err, context.Canceled) {
			t.status = StatusCancelled
		}
	} else {
		t.status = StatusCompleted
	}
	close(t.done)
}

// Cancel signals the task's work context and marks it cancelled.
func (t *Task) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
	t.Complete("", context.Canceled)
}

// Status reports the current lifecycle state.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Result returns the published output once the task finished.
func (t *Task) Result() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.output, t.err
}

// Wait blocks until completion or ctx is done. block=false polls.
func (t *Task) Wait(ctx context.Context, block bool) (string, Status, error) {
	if !block {
		select {
		case <-t.done:
		default:
			return "", t.Status(), nil
		}
		out, err := t.Result()
		return out, t.Status(), err
	}
	select {
	case <-t.done:
		out, err := t.Result()
		return out, t.Status(), err
	case <-ctx.Done():
		return "", t.Status(), ctx.Err()
	}
}
