package daemon

import (
	"context"
	"time"
)

// TaskKind labels the two background task categories. At most one task
// of each kind is alive at a time; a second start is rejected, not
// queued.
type TaskKind string

const (
	TaskIndexing TaskKind = "indexing"
	TaskWatch    TaskKind = "watch"
)

// TaskHandle tracks one running background task.
type TaskHandle struct {
	Kind           TaskKind
	RepositoryPath string
	StartedAt      time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func newTaskHandle(kind TaskKind, repositoryPath string, cancel context.CancelFunc) *TaskHandle {
	return &TaskHandle{
		Kind:           kind,
		RepositoryPath: repositoryPath,
		StartedAt:      time.Now(),
		cancel:         cancel,
		done:           make(chan struct{}),
	}
}

// IsAlive reports whether the task goroutine has not yet finished.
func (t *TaskHandle) IsAlive() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Stop cancels the task and waits for it to finish, up to the timeout.
// Returns false if the task did not stop in time.
func (t *TaskHandle) Stop(timeout time.Duration) bool {
	if t == nil {
		return true
	}
	t.cancel()
	select {
	case <-t.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// finish marks the task complete. Called exactly once by the task
// goroutine's cleanup path.
func (t *TaskHandle) finish() {
	close(t.done)
}
