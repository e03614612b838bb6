//go:build !windows
// +build !windows

package daemon

import (
	"os"
	"testing"
	"time"
)

func TestLivenessCheckUnblocksWhenPipeCloses(t *testing.T) {
	l, err := newLivenessCheck()
	if err != nil {
		t.Fatalf("newLivenessCheck() error: %v", err)
	}
	defer l.cleanup()

	ch := l.start(0)

	// Closing the read end from under the monitor goroutine stands in
	// for the child exiting: either way the blocked Read returns.
	if err := l.pr.Close(); err != nil {
		t.Fatalf("closing read end: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("liveness channel never closed")
	}
}

func TestIsProcessRunningSelf(t *testing.T) {
	if !IsProcessRunning(os.Getpid()) {
		t.Error("IsProcessRunning() = false for the current process")
	}
	if IsProcessRunning(0) {
		t.Error("IsProcessRunning(0) = true, want false")
	}
	if IsProcessRunning(-5) {
		t.Error("IsProcessRunning(-5) = true, want false")
	}
}
