package daemon

import (
	"fmt"
	"net"
	"os"
	"time"
)

// dialSocket connects to a daemon socket with a timeout.
func dialSocket(socketPath string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", socketPath, timeout)
}

// Listen binds the daemon's unix socket. The bind doubles as the
// single-instance check: if the path is taken and something answers a
// dial, another daemon is already serving this repository; if nothing
// answers, the file is a leftover from a crash and is safe to remove
// and rebind.
func Listen(socketPath string) (net.Listener, error) {
	l, err := net.Listen("unix", socketPath)
	if err == nil {
		return l, nil
	}

	conn, dialErr := net.DialTimeout("unix", socketPath, time.Second)
	if dialErr == nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: daemon already listening on %s", ErrAlreadyRunning, socketPath)
	}

	// Stale socket file.
	if rmErr := os.Remove(socketPath); rmErr != nil {
		return nil, fmt.Errorf("failed to remove stale socket %s: %w", socketPath, rmErr)
	}
	l, err = net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to bind socket %s: %w", socketPath, err)
	}
	return l, nil
}
