//go:build windows
// +build windows

package fileutil

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"
)

var (
	modkernel32      = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = modkernel32.NewProc("LockFileEx")
	procUnlockFileEx = modkernel32.NewProc("UnlockFileEx")
)

const (
	lockfileExclusiveLock   = 0x00000002
	lockfileFailImmediately = 0x00000001
)

// lockFileEx locks one byte at offset zero; the range never matters,
// callers only need mutual exclusion on the whole file.
func lockFileEx(f *os.File, flags uintptr) error {
	var overlapped syscall.Overlapped
	ret, _, err := procLockFileEx.Call(
		f.Fd(),
		flags,
		0,
		1,
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if ret == 0 {
		return err
	}
	return nil
}

// FlockExclusive takes an exclusive LockFileEx lock on f. With
// nonBlocking it fails immediately instead of waiting.
func FlockExclusive(f *os.File, nonBlocking bool) error {
	flags := uintptr(lockfileExclusiveLock)
	if nonBlocking {
		flags |= lockfileFailImmediately
	}
	if err := lockFileEx(f, flags); err != nil {
		return fmt.Errorf("failed to acquire exclusive lock: %w", err)
	}
	return nil
}

// FlockShared takes a shared LockFileEx lock on f (no exclusive flag).
func FlockShared(f *os.File, nonBlocking bool) error {
	flags := uintptr(0)
	if nonBlocking {
		flags |= lockfileFailImmediately
	}
	if err := lockFileEx(f, flags); err != nil {
		return fmt.Errorf("failed to acquire shared lock: %w", err)
	}
	return nil
}

// Funlock drops whichever lock f holds.
func Funlock(f *os.File) error {
	var overlapped syscall.Overlapped
	ret, _, err := procUnlockFileEx.Call(
		f.Fd(),
		0,
		1,
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if ret == 0 {
		return fmt.Errorf("failed to unlock file: %w", err)
	}
	return nil
}
