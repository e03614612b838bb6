// Package fileutil holds the file plumbing shared by the store and
// daemon packages: directory setup, atomic replacement, and advisory
// file locks.
package fileutil

import (
	"os"
	"path/filepath"
)

// EnsureParentDir creates the directory that will contain path.
func EnsureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}

// ReplaceFileAtomically moves tempPath over targetPath. A plain rename
// is atomic on the same filesystem; when it fails (notably on Windows
// while the target exists) the target is removed first and the rename
// retried.
func ReplaceFileAtomically(tempPath, targetPath string) error {
	if err := os.Rename(tempPath, targetPath); err == nil {
		return nil
	}
	if err := os.Remove(targetPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Rename(tempPath, targetPath)
}
