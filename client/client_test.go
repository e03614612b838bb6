//go:build !windows

package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/avillela/seekd/daemon"
	"github.com/avillela/seekd/search"
	"github.com/avillela/seekd/store"
)

// shortBackoff keeps the dial-retry passes fast in tests.
var shortBackoff = []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}

func pingOK(params json.RawMessage) (any, error) {
	return daemon.TaskResult{Status: daemon.StatusOK}, nil
}

func testSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "seekd")
	if err != nil {
		t.Fatalf("MkdirTemp() error: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "d.sock")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startFakeDaemon serves the daemon protocol with canned handlers.
func startFakeDaemon(t *testing.T, socketPath string, handlers map[string]daemon.HandlerFunc) *daemon.Server {
	t.Helper()
	l, err := daemon.Listen(socketPath)
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	srv := daemon.NewServer(l, testLogger())
	for method, fn := range handlers {
		srv.Handle(method, fn)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv
}

func queryHandler(results []store.SearchResult) daemon.HandlerFunc {
	return func(params json.RawMessage) (any, error) {
		var p daemon.QueryParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return daemon.QueryResult{Results: results, FulltextAvailable: true}, nil
	}
}

func TestQueryRoundTrip(t *testing.T) {
	path := testSocketPath(t)
	want := []store.SearchResult{
		{Chunk: store.Chunk{ID: "c1", FilePath: "a.go", StartLine: 3}, Score: 0.8},
	}
	startFakeDaemon(t, path, map[string]daemon.HandlerFunc{"query": queryHandler(want)})

	c := New("/repo", path, WithLogger(testLogger()))
	res, err := c.Query(context.Background(), "auth", search.Options{Mode: search.ModeSemantic, Limit: 5})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].Chunk.ID != "c1" {
		t.Errorf("unexpected results: %+v", res.Results)
	}
	if !res.FulltextAvailable {
		t.Error("FulltextAvailable should round-trip as true")
	}
}

func TestCallApplicationErrorIsNotFallback(t *testing.T) {
	path := testSocketPath(t)
	startFakeDaemon(t, path, map[string]daemon.HandlerFunc{
		"reindex": func(params json.RawMessage) (any, error) {
			return nil, errors.New("index load failure")
		},
	})

	c := New("/repo", path, WithLogger(testLogger()))
	_, err := c.Reindex(context.Background())
	if err == nil {
		t.Fatal("Reindex() should surface the handler error")
	}
	if errors.Is(err, ErrDaemonUnavailable) {
		t.Errorf("application error classified as unavailable: %v", err)
	}
}

func TestConnectWithoutAutoStartFallsBack(t *testing.T) {
	path := testSocketPath(t)

	c := New("/repo", path, WithAutoStart(false), WithLogger(testLogger()))
	if err := c.Ping(context.Background()); !errors.Is(err, ErrDaemonUnavailable) {
		t.Fatalf("Ping() error = %v, want ErrDaemonUnavailable", err)
	}
}

func TestConnectSpawnsDaemonAndRetries(t *testing.T) {
	path := testSocketPath(t)

	var spawns int
	c := New("/repo", path, WithLogger(testLogger()))
	c.backoff = shortBackoff
	c.spawn = func(projectRoot, socketPath string) error {
		spawns++
		startFakeDaemon(t, socketPath, map[string]daemon.HandlerFunc{"ping": pingOK})
		return nil
	}

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
	if spawns != 1 {
		t.Errorf("spawn called %d times, want 1", spawns)
	}
}

func TestConnectRetriesWithBackoffBeforeRestarting(t *testing.T) {
	path := testSocketPath(t)

	var spawns int
	c := New("/repo", path, WithLogger(testLogger()))
	c.backoff = []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond}
	c.spawn = func(projectRoot, socketPath string) error {
		spawns++
		return nil
	}

	// The daemon is mid-startup: it binds the socket during the first
	// backoff window, so the client must reach it without a restart.
	srvCh := make(chan *daemon.Server, 1)
	t.Cleanup(func() {
		select {
		case s := <-srvCh:
			s.Close()
		default:
		}
	})
	go func() {
		time.Sleep(20 * time.Millisecond)
		l, err := daemon.Listen(path)
		if err != nil {
			return
		}
		s := daemon.NewServer(l, testLogger())
		s.Handle("ping", pingOK)
		go s.Serve()
		srvCh <- s
	}()

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
	if spawns != 0 {
		t.Errorf("spawn called %d times, want 0 (backoff pass should run first)", spawns)
	}
}

func TestCallRestartsDaemonAndReplaysAfterMidCallCrash(t *testing.T) {
	path := testSocketPath(t)

	// A daemon that accepts the connection and dies without answering.
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	go func() {
		conn, err := l.Accept()
		if err == nil {
			conn.Close()
		}
		l.Close()
	}()

	var spawns int
	c := New("/repo", path, WithLogger(testLogger()))
	c.backoff = shortBackoff
	c.spawn = func(projectRoot, socketPath string) error {
		spawns++
		startFakeDaemon(t, socketPath, map[string]daemon.HandlerFunc{"ping": pingOK})
		return nil
	}

	// The first exchange hits the dying daemon; the call must restart
	// it and replay the request instead of failing over immediately.
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() after mid-call crash error: %v", err)
	}
	if spawns != 1 {
		t.Errorf("spawn called %d times, want 1", spawns)
	}
}

func TestConnectRemovesStaleSocketBeforeRestart(t *testing.T) {
	path := testSocketPath(t)

	// Leftover socket file with no daemon behind it.
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatalf("failed to plant stale socket: %v", err)
	}

	c := New("/repo", path, WithLogger(testLogger()))
	c.backoff = shortBackoff
	c.spawn = func(projectRoot, socketPath string) error {
		if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
			t.Error("stale socket file should be removed before spawn")
		}
		startFakeDaemon(t, socketPath, map[string]daemon.HandlerFunc{"ping": pingOK})
		return nil
	}

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

func TestConnectGivesUpAfterBoundedRestarts(t *testing.T) {
	path := testSocketPath(t)

	var spawns int
	c := New("/repo", path, WithLogger(testLogger()))
	c.backoff = shortBackoff
	c.spawn = func(projectRoot, socketPath string) error {
		spawns++
		// Daemon "starts" but never binds the socket.
		return nil
	}

	start := time.Now()
	err := c.Ping(context.Background())
	if !errors.Is(err, ErrDaemonUnavailable) {
		t.Fatalf("Ping() error = %v, want ErrDaemonUnavailable", err)
	}
	if spawns != 2 {
		t.Errorf("spawn called %d times, want 2", spawns)
	}
	// One pre-restart backoff pass plus two restart cycles, not an
	// unbounded loop.
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("gave up after %s, expected bounded backoff", elapsed)
	}
}

func TestAvailable(t *testing.T) {
	path := testSocketPath(t)

	c := New("/repo", path, WithLogger(testLogger()))
	if c.Available() {
		t.Error("Available() = true with no daemon")
	}

	startFakeDaemon(t, path, nil)
	if !c.Available() {
		t.Error("Available() = false with a daemon listening")
	}
}
