//go:build !windows
// +build !windows

package fileutil

import (
	"fmt"
	"os"
	"syscall"
)

func flock(f *os.File, how int, nonBlocking bool) error {
	if nonBlocking {
		how |= syscall.LOCK_NB
	}
	return syscall.Flock(int(f.Fd()), how)
}

// FlockExclusive takes an exclusive flock(2) on f. With nonBlocking it
// fails immediately instead of waiting for the current holder.
func FlockExclusive(f *os.File, nonBlocking bool) error {
	if err := flock(f, syscall.LOCK_EX, nonBlocking); err != nil {
		return fmt.Errorf("failed to acquire exclusive lock: %w", err)
	}
	return nil
}

// FlockShared takes a shared flock(2) on f. Any number of shared
// holders coexist; an exclusive holder blocks them.
func FlockShared(f *os.File, nonBlocking bool) error {
	if err := flock(f, syscall.LOCK_SH, nonBlocking); err != nil {
		return fmt.Errorf("failed to acquire shared lock: %w", err)
	}
	return nil
}

// Funlock drops whichever lock f holds.
func Funlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
