//go:build windows
// +build windows

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/avillela/seekd/internal/fileutil"
)

var (
	kernel32                = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess         = kernel32.NewProc("OpenProcess")
	procCloseHandle         = kernel32.NewProc("CloseHandle")
	processQueryLimitedInfo = uint32(0x1000)
)

// IsProcessRunning reports whether a process with the given PID exists.
// Opening the process with PROCESS_QUERY_LIMITED_INFORMATION succeeds
// exactly when it does.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	handle, _, _ := procOpenProcess.Call(
		uintptr(processQueryLimitedInfo),
		uintptr(0),
		uintptr(pid),
	)
	if handle == 0 {
		return false
	}

	procCloseHandle.Call(handle)
	return true
}

// lockFile acquires a non-blocking exclusive lock on the given file.
// The lock is held for the lifetime of the process and released by the OS on exit.
// Returns an error if the lock cannot be acquired (e.g., another process holds it).
func lockFile(f *os.File) error {
	return fileutil.FlockExclusive(f, true)
}

// sysProcAttr returns nil: spawning a detached child needs no special
// attributes on Windows.
func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

// livenessCheck polls for child exit. ExtraFiles (the pipe trick the
// unix build uses) is not supported here, but Windows has no zombie
// state so IsProcessRunning is a reliable substitute.
type livenessCheck struct{}

func newLivenessCheck() (*livenessCheck, error) {
	return &livenessCheck{}, nil
}

func (l *livenessCheck) configureCmd(cmd *exec.Cmd) {}

// start returns a channel that closes once the child with the given
// PID is gone.
func (l *livenessCheck) start(pid int) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		for {
			time.Sleep(250 * time.Millisecond)
			if !IsProcessRunning(pid) {
				close(ch)
				return
			}
		}
	}()
	return ch
}

func (l *livenessCheck) cleanup() {}

const (
	stopFilePrefix   = "seekd-stop-"
	stopPollInterval = 500 * time.Millisecond
)

// stopFilePath returns the path to the sentinel stop file for the given PID.
func stopFilePath(pid int) (string, error) {
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s%d", stopFilePrefix, pid)), nil
}

// StopProcess asks the daemon with the given PID to shut down by
// dropping a sentinel file it polls for. os.Interrupt cannot be
// delivered across consoles on Windows, so signals are not an option.
func StopProcess(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}
	if !IsProcessRunning(pid) {
		return fmt.Errorf("process %d is not running", pid)
	}

	path, err := stopFilePath(pid)
	if err != nil {
		return fmt.Errorf("failed to determine stop file path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create stop file directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0600); err != nil {
		return fmt.Errorf("failed to write stop file: %w", err)
	}

	return nil
}

// StopChannel returns a channel that closes when a stop file appears
// for this process. A stale file left by a previous run that happened
// to reuse the PID is removed up front so it cannot trigger an
// immediate shutdown.
func StopChannel() <-chan struct{} {
	ch := make(chan struct{})

	path, err := stopFilePath(os.Getpid())
	if err != nil {
		return ch
	}

	_ = os.Remove(path)

	go func() {
		for {
			time.Sleep(stopPollInterval)
			if _, err := os.Stat(path); err == nil {
				_ = os.Remove(path)
				close(ch)
				return
			}
		}
	}()

	return ch
}
