//go:build windows
// +build windows

package daemon

import (
	"os"
	"testing"
	"time"
)

func writeStopFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing stop file: %v", err)
	}
}

func TestStopProcessDropsSentinel(t *testing.T) {
	// StopProcess refuses dead PIDs, so target ourselves.
	pid := os.Getpid()

	path, err := stopFilePath(pid)
	if err != nil {
		t.Fatalf("stopFilePath() error: %v", err)
	}
	_ = os.Remove(path)
	defer os.Remove(path)

	if err := StopProcess(pid); err != nil {
		t.Fatalf("StopProcess() error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("sentinel missing at %s: %v", path, err)
	}
}

func TestStopChannelFiresOnSentinel(t *testing.T) {
	path, err := stopFilePath(os.Getpid())
	if err != nil {
		t.Fatalf("stopFilePath() error: %v", err)
	}
	_ = os.Remove(path)

	ch := StopChannel()

	select {
	case <-ch:
		t.Fatal("channel fired with no sentinel present")
	case <-time.After(100 * time.Millisecond):
	}

	writeStopFile(t, path, "stop\n")

	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("channel never fired after sentinel appeared")
	}

	// Detection consumes the sentinel.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("sentinel still present after detection")
	}
}

func TestStopChannelIgnoresLeftoverSentinel(t *testing.T) {
	path, err := stopFilePath(os.Getpid())
	if err != nil {
		t.Fatalf("stopFilePath() error: %v", err)
	}

	// A previous process with a reused PID may have left a sentinel
	// behind; startup must discard it instead of shutting down.
	writeStopFile(t, path, "stale\n")

	ch := StopChannel()
	time.Sleep(100 * time.Millisecond)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("leftover sentinel not discarded at startup")
	}

	select {
	case <-ch:
		t.Fatal("channel fired on a leftover sentinel")
	case <-time.After(stopPollInterval + 200*time.Millisecond):
	}
}
