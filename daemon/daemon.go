// Package daemon implements the seekd background service: a warm cache
// of one repository's search indexes behind a unix-socket RPC surface.
package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/avillela/seekd/config"
)

const pidFileName = "daemon.pid"

// spawnWaitTimeout bounds how long SpawnBackground waits for the child
// to come up before reporting failure.
const spawnWaitTimeout = 5 * time.Second

func pidFilePath(projectRoot string) string {
	return filepath.Join(config.GetConfigDir(projectRoot), pidFileName)
}

// WritePIDFile records and locks this process's pid. The lock (not the
// file contents) is what prevents two daemons for one repository; the
// OS drops it automatically when the process dies.
func WritePIDFile(projectRoot string) (*os.File, error) {
	path := pidFilePath(projectRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: pid file locked by another daemon", ErrAlreadyRunning)
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// ReadPID returns the recorded daemon pid, or 0 if absent.
func ReadPID(projectRoot string) int {
	data, err := os.ReadFile(pidFilePath(projectRoot))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// IsRunning reports whether a daemon process for the repository is
// alive according to its pid file.
func IsRunning(projectRoot string) bool {
	return IsProcessRunning(ReadPID(projectRoot))
}

// Stop interrupts the running daemon, if any.
func Stop(projectRoot string) error {
	pid := ReadPID(projectRoot)
	if pid == 0 || !IsProcessRunning(pid) {
		return ErrNotRunning
	}
	return StopProcess(pid)
}

// SpawnBackground starts a detached daemon process for the repository
// and waits until its socket answers. The liveness pipe detects a child
// that exits before ever binding.
func SpawnBackground(projectRoot, socketPath string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}

	liveness, err := newLivenessCheck()
	if err != nil {
		return err
	}

	cmd := exec.Command(exe, "daemon", "run")
	cmd.Dir = projectRoot
	cmd.SysProcAttr = sysProcAttr()
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	liveness.configureCmd(cmd)

	if err := cmd.Start(); err != nil {
		liveness.cleanup()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Reap the child when it eventually exits.
	go func() { _ = cmd.Wait() }()

	exited := liveness.start(cmd.Process.Pid)
	deadline := time.After(spawnWaitTimeout)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-exited:
			return fmt.Errorf("daemon exited during startup")
		case <-deadline:
			return fmt.Errorf("daemon did not become ready within %s", spawnWaitTimeout)
		case <-tick.C:
			if socketAnswers(socketPath) {
				return nil
			}
		}
	}
}

func socketAnswers(socketPath string) bool {
	conn, err := dialSocket(socketPath, time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Run starts the daemon for a repository and blocks until shutdown. It
// owns the pid file, the socket, the RPC server, and the eviction
// supervisor.
func Run(projectRoot string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := config.Load(projectRoot)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pidFile, err := WritePIDFile(projectRoot)
	if err != nil {
		return err
	}
	defer func() {
		_ = pidFile.Close()
		_ = os.Remove(pidFilePath(projectRoot))
	}()

	socketPath := cfg.GetSocketPath(projectRoot)
	listener, err := Listen(socketPath)
	if err != nil {
		return err
	}
	defer os.Remove(socketPath)

	svc := NewService(cfg.Daemon, logger)
	svc.Start()

	srv := NewServer(listener, logger)
	RegisterHandlers(srv, svc)

	logger.Info("daemon listening", "socket", socketPath, "project", projectRoot, "pid", os.Getpid())

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
		svc.Shutdown()
	case <-StopChannel():
		logger.Info("received stop request")
		svc.Shutdown()
	case <-svc.Done():
		// Shutdown requested over RPC or by the idle policy.
	case err := <-serveErr:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
		svc.Shutdown()
	}

	<-svc.Done()
	if err := srv.Close(); err != nil {
		logger.Warn("server close failed", "error", err)
	}

	logger.Info("daemon stopped")
	return nil
}
