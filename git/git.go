// Package git detects linked-worktree layouts so seekd can offer to
// share one configuration across all worktrees of a repository.
package git

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const gitTimeout = 5 * time.Second

// WorktreeInfo describes where a path sits inside a git repository.
type WorktreeInfo struct {
	Root         string // top-level directory of this worktree
	CommonDir    string // shared .git directory, absolute
	IsWorktree   bool   // true for a linked worktree, false for the main one
	MainWorktree string // directory of the main worktree
	WorktreeID   string // stable id derived from CommonDir, shared by all linked worktrees
}

// runGit runs a git plumbing command rooted at path and returns its
// trimmed stdout.
func runGit(path string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", path}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s failed: %w (stderr: %s)", strings.Join(args, " "), err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("failed to run git (is it installed?): %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Detect inspects the repository containing path. It errors when path is
// not inside a git repository or git is unavailable.
func Detect(path string) (*WorktreeInfo, error) {
	root, err := runGit(path, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, err
	}

	commonDir, err := runGit(path, "rev-parse", "--git-common-dir")
	if err != nil {
		return nil, err
	}
	// git reports the common dir relative to the worktree root in older
	// versions; normalize to an absolute, clean path either way.
	if !filepath.IsAbs(commonDir) {
		commonDir = filepath.Join(root, commonDir)
	}
	commonDir, err = filepath.Abs(commonDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve git common dir: %w", err)
	}
	commonDir = filepath.Clean(commonDir)

	// In the main worktree the common dir is <root>/.git. A linked
	// worktree shares the main repository's .git, so the paths diverge.
	isWorktree := commonDir != filepath.Join(root, ".git")

	mainWorktree := filepath.Dir(commonDir)
	if filepath.Base(commonDir) != ".git" {
		// Bare-ish layouts put the common dir under .git/worktrees/<name>.
		mainWorktree = filepath.Dir(mainWorktree)
	}

	sum := sha256.Sum256([]byte(commonDir))

	return &WorktreeInfo{
		Root:         root,
		CommonDir:    commonDir,
		IsWorktree:   isWorktree,
		MainWorktree: mainWorktree,
		WorktreeID:   hex.EncodeToString(sum[:])[:12],
	}, nil
}
