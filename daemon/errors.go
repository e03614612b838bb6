package daemon

import "errors"

var (
	// ErrAlreadyRunning is returned when a second indexing or watch task
	// is requested while one is alive, or a second daemon binds the socket.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning is returned when stopping a task that is not alive.
	ErrNotRunning = errors.New("not running")

	// ErrLoadFailure wraps a vector index that failed to load. Fatal to
	// the triggering request, never to the daemon.
	ErrLoadFailure = errors.New("index load failure")

	// ErrShuttingDown rejects requests that arrive during shutdown.
	ErrShuttingDown = errors.New("daemon shutting down")
)

// Status values returned by lifecycle operations.
const (
	StatusOK             = "ok"
	StatusStarted        = "started"
	StatusAlreadyRunning = "already_running"
	StatusNotRunning     = "not_running"
	StatusStopped        = "stopped"
)
