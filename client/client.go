// Package client talks to the seekd daemon over its unix socket and
// recovers from daemon crashes by restarting it.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/avillela/seekd/daemon"
	"github.com/avillela/seekd/search"
)

// ErrDaemonUnavailable signals that the daemon could not be reached or
// restarted. Callers fall back to answering the request standalone.
var ErrDaemonUnavailable = errors.New("daemon unavailable")

// backoffSchedule spaces the dial retries while waiting for a daemon
// to come up. The first retry is quick for the common case of a
// fast-booting daemon; later retries back off while a cold index load
// finishes. One full pass runs before any restart and one after each.
var backoffSchedule = []time.Duration{
	100 * time.Millisecond,
	500 * time.Millisecond,
	1000 * time.Millisecond,
	2000 * time.Millisecond,
}

// maxRestarts bounds how many times a single call will respawn the
// daemon before giving up and falling back.
const maxRestarts = 2

const dialTimeout = time.Second

// defaultCallTimeout bounds one request/response exchange. A timeout is
// treated like any other transport failure: the daemon is presumed
// wedged and the caller falls back.
const defaultCallTimeout = 60 * time.Second

// Connector manages the connection to one repository's daemon.
type Connector struct {
	projectRoot string
	socketPath  string
	callTimeout time.Duration
	autoStart   bool
	logger      *slog.Logger

	// spawn starts a daemon process; backoff spaces the dial retries.
	// Both are replaced in tests.
	spawn   func(projectRoot, socketPath string) error
	backoff []time.Duration
}

// Option configures a Connector.
type Option func(*Connector)

// WithAutoStart controls whether a failed dial may spawn a daemon.
func WithAutoStart(enabled bool) Option {
	return func(c *Connector) { c.autoStart = enabled }
}

// WithCallTimeout overrides the per-call deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Connector) { c.callTimeout = d }
}

// WithLogger sets the connector's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connector) { c.logger = logger }
}

// New creates a connector for the given repository and socket path.
func New(projectRoot, socketPath string, opts ...Option) *Connector {
	c := &Connector{
		projectRoot: projectRoot,
		socketPath:  socketPath,
		callTimeout: defaultCallTimeout,
		autoStart:   true,
		logger:      slog.Default(),
		spawn:       daemon.SpawnBackground,
		backoff:     backoffSchedule,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call performs one RPC exchange, restarting the daemon when it cannot
// be reached. A transport failure mid-exchange (daemon crashed while
// serving) goes back through the restart loop and the request is
// replayed once; only after that does ErrDaemonUnavailable surface so
// callers can fall back to standalone operation.
func (c *Connector) Call(ctx context.Context, method string, params, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	err = c.exchange(conn, method, raw, result)
	conn.Close()
	if err == nil || !errors.Is(err, ErrDaemonUnavailable) {
		return err
	}

	c.logger.Warn("daemon connection lost mid-call, recovering", "method", method, "error", err)
	conn, err = c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return c.exchange(conn, method, raw, result)
}

// exchange performs one request/response round trip on an established
// connection. Transport failures wrap ErrDaemonUnavailable; an error
// answered by the daemon is an application error and does not.
func (c *Connector) exchange(conn net.Conn, method string, params json.RawMessage, result any) error {
	if err := conn.SetDeadline(time.Now().Add(c.callTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}

	if err := json.NewEncoder(conn).Encode(daemon.Request{Method: method, Params: params}); err != nil {
		return fmt.Errorf("%w: send failed: %v", ErrDaemonUnavailable, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("%w: read failed: %v", ErrDaemonUnavailable, err)
	}

	var resp daemon.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return fmt.Errorf("%w: malformed response: %v", ErrDaemonUnavailable, err)
	}
	if !resp.OK {
		return errors.New(resp.Error)
	}
	if result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}

// connect dials the daemon. When nothing answers it first retries with
// backoff (the daemon may be mid-startup), then restarts the daemon, at
// most maxRestarts times, with another backoff-dial pass after each
// restart.
func (c *Connector) connect(ctx context.Context) (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, dialTimeout)
	if err == nil {
		return conn, nil
	}
	if !c.autoStart {
		return nil, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}

	if conn := c.dialBackoff(ctx); conn != nil {
		return conn, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for restarts := 0; restarts < maxRestarts; restarts++ {
		c.removeStaleSocket()

		c.logger.Debug("starting daemon", "socket", c.socketPath, "attempt", restarts+1)
		if err := c.spawn(c.projectRoot, c.socketPath); err != nil {
			c.logger.Warn("daemon start failed", "error", err)
			continue
		}

		if conn := c.dialBackoff(ctx); conn != nil {
			return conn, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: no answer after %d restarts", ErrDaemonUnavailable, maxRestarts)
}

// dialBackoff walks the backoff schedule, dialing after each delay.
// Returns nil when the schedule is exhausted or the context ends.
func (c *Connector) dialBackoff(ctx context.Context) net.Conn {
	for _, delay := range c.backoff {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if conn, err := net.DialTimeout("unix", c.socketPath, dialTimeout); err == nil {
			return conn
		}
	}
	return nil
}

// removeStaleSocket unlinks a socket file that nothing answers on, so
// the restarted daemon can bind it.
func (c *Connector) removeStaleSocket() {
	if _, err := os.Stat(c.socketPath); err != nil {
		return
	}
	if conn, err := net.DialTimeout("unix", c.socketPath, dialTimeout); err == nil {
		conn.Close()
		return
	}
	if err := os.Remove(c.socketPath); err == nil {
		c.logger.Debug("removed stale socket", "path", c.socketPath)
	}
}

// Available reports whether a daemon currently answers on the socket,
// without starting one.
func (c *Connector) Available() bool {
	conn, err := net.DialTimeout("unix", c.socketPath, dialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// ---- typed operations ----

// Query runs a search on the daemon.
func (c *Connector) Query(ctx context.Context, text string, opts search.Options) (*daemon.QueryResult, error) {
	var result daemon.QueryResult
	err := c.Call(ctx, "query", daemon.QueryParams{
		Path:  c.projectRoot,
		Text:  text,
		Limit: opts.Limit,
		Mode:  string(opts.Mode),
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Reindex starts a background indexing run on the daemon.
func (c *Connector) Reindex(ctx context.Context) (string, error) {
	var result daemon.TaskResult
	if err := c.Call(ctx, "reindex", daemon.PathParams{Path: c.projectRoot}, &result); err != nil {
		return "", err
	}
	return result.Status, nil
}

// Clean clears the repository's stored index data.
func (c *Connector) Clean(ctx context.Context) (string, error) {
	var result daemon.TaskResult
	if err := c.Call(ctx, "clean", daemon.PathParams{Path: c.projectRoot}, &result); err != nil {
		return "", err
	}
	return result.Status, nil
}

// Status reports the daemon's cache view and storage statistics.
func (c *Connector) Status(ctx context.Context) (*daemon.StatusResult, error) {
	var result daemon.StatusResult
	if err := c.Call(ctx, "status", daemon.PathParams{Path: c.projectRoot}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// WatchStart begins continuous reindexing on the daemon.
func (c *Connector) WatchStart(ctx context.Context) (string, error) {
	var result daemon.TaskResult
	if err := c.Call(ctx, "watch_start", daemon.PathParams{Path: c.projectRoot}, &result); err != nil {
		return "", err
	}
	return result.Status, nil
}

// WatchStop halts continuous reindexing.
func (c *Connector) WatchStop(ctx context.Context) (*daemon.WatchStopResult, error) {
	var result daemon.WatchStopResult
	if err := c.Call(ctx, "watch_stop", daemon.PathParams{Path: c.projectRoot}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// WatchStatus reports whether a watch task is running.
func (c *Connector) WatchStatus(ctx context.Context) (*daemon.WatchStatusResult, error) {
	var result daemon.WatchStatusResult
	if err := c.Call(ctx, "watch_status", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ClearCache drops the daemon's in-memory cache entry.
func (c *Connector) ClearCache(ctx context.Context) error {
	var result daemon.TaskResult
	return c.Call(ctx, "clear_cache", nil, &result)
}

// Ping checks daemon liveness.
func (c *Connector) Ping(ctx context.Context) error {
	var result daemon.TaskResult
	return c.Call(ctx, "ping", nil, &result)
}

// Shutdown asks the daemon to exit.
func (c *Connector) Shutdown(ctx context.Context) error {
	var result daemon.TaskResult
	return c.Call(ctx, "shutdown", nil, &result)
}
