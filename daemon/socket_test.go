//go:build !windows

package daemon

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testSocketPath(t *testing.T) string {
	t.Helper()
	// Unix socket paths have a tight length limit, so avoid t.TempDir's
	// nested layout.
	dir, err := os.MkdirTemp("", "seekd")
	if err != nil {
		t.Fatalf("MkdirTemp() error: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "d.sock")
}

func TestListenBindsFreshSocket(t *testing.T) {
	path := testSocketPath(t)

	l, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	defer l.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("socket file missing: %v", err)
	}
}

func TestListenRemovesStaleSocket(t *testing.T) {
	path := testSocketPath(t)

	// A leftover file at the socket path with nothing listening behind
	// it, as left by a crashed daemon. Bind refuses it, dial gets no
	// answer, so Listen must remove and rebind.
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatalf("failed to plant stale socket file: %v", err)
	}

	l, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen() with stale socket error: %v", err)
	}
	defer l.Close()

	conn, err := dialSocket(path, time.Second)
	if err != nil {
		t.Fatalf("dial after stale rebind error: %v", err)
	}
	conn.Close()
}

func TestListenRejectsLiveDaemon(t *testing.T) {
	path := testSocketPath(t)

	l, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	defer l.Close()

	if _, err := Listen(path); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Listen() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestCloseUnblocksIdleConnections(t *testing.T) {
	path := testSocketPath(t)

	l, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}

	srv := NewServer(l, testLogger())
	go srv.Serve()

	// A client that connects and then goes silent, leaving the server
	// goroutine parked in a read.
	conn, err := dialSocket(path, time.Second)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		srv.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on an idle connection")
	}
}

func TestServerDispatchesRequests(t *testing.T) {
	path := testSocketPath(t)

	l, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}

	srv := NewServer(l, testLogger())
	srv.Handle("echo", func(params json.RawMessage) (any, error) {
		var p struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return map[string]string{"text": p.Text}, nil
	})
	srv.Handle("boom", func(params json.RawMessage) (any, error) {
		return nil, errors.New("it broke")
	})

	go srv.Serve()
	defer srv.Close()

	conn, err := dialSocket(path, time.Second)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	reader := bufio.NewReader(conn)

	send := func(method string, params any) Response {
		t.Helper()
		raw, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		if err := enc.Encode(Request{Method: method, Params: raw}); err != nil {
			t.Fatalf("send request: %v", err)
		}
		line, err := reader.ReadBytes('\n')
		if err != nil {
			t.Fatalf("read response: %v", err)
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		return resp
	}

	resp := send("echo", map[string]string{"text": "hello"})
	if !resp.OK {
		t.Fatalf("echo failed: %s", resp.Error)
	}
	var result map[string]string
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result["text"] != "hello" {
		t.Errorf("echo result = %q, want %q", result["text"], "hello")
	}

	resp = send("boom", struct{}{})
	if resp.OK || resp.Error != "it broke" {
		t.Errorf("boom response = %+v, want handler error", resp)
	}

	resp = send("nope", struct{}{})
	if resp.OK || resp.Error == "" {
		t.Errorf("unknown method response = %+v, want error", resp)
	}
}
