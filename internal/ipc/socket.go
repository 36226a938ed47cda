package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrAlreadyRunning means another daemon owns the control socket.
var ErrAlreadyRunning = errors.New("chatterbox daemon already running")

const socketName = "chatterbox.sock"

// RuntimeSocketPath resolves the daemon socket from CHATTERBOX_SOCKET, then
// XDG_RUNTIME_DIR, then a per-user directory under the temp dir. Daemons
// started by an init system often run without XDG_RUNTIME_DIR.
func RuntimeSocketPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("CHATTERBOX_SOCKET")); explicit != "" {
		if !filepath.IsAbs(explicit) {
			return "", fmt.Errorf("CHATTERBOX_SOCKET must be absolute: %q", explicit)
		}
		return explicit, nil
	}
	if runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); runtimeDir != "" {
		return filepath.Join(runtimeDir, socketName), nil
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("chatterbox-%d", os.Getuid()), socketName), nil
}

// AcquireOptions tune how Acquire treats an occupied socket path.
type AcquireOptions struct {
	// ProbeTimeout bounds the status request sent to a possible owner.
	ProbeTimeout time.Duration
	// Retries is how many times a stale socket may be cleared before giving up.
	Retries uint64
	Logger  *slog.Logger
}

// Acquire listens on path for the control socket. A live daemon answering
// status yields ErrAlreadyRunning; a dead socket file is removed and the
// listen retried. An owner that accepts but does not answer is left alone.
func Acquire(ctx context.Context, path string, opts AcquireOptions) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var listener net.Listener
	backoff := retry.WithMaxRetries(opts.Retries, retry.NewConstant(25*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		l, err := net.Listen("unix", path)
		if err == nil {
			if err := os.Chmod(path, 0o600); err != nil {
				_ = l.Close()
				return fmt.Errorf("restrict socket %s: %w", path, err)
			}
			listener = l
			return nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("listen unix %s: %w", path, err)
		}

		alive, probeErr := Probe(ctx, path, opts.ProbeTimeout)
		if alive {
			return ErrAlreadyRunning
		}
		if probeErr != nil {
			return fmt.Errorf("probe existing socket %s: %w", path, probeErr)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale socket %s: %w", path, err)
		}
		logger.Warn("removed stale control socket", "path", path)
		return retry.RetryableError(fmt.Errorf("socket %s still in use", path))
	})
	if err != nil {
		return nil, err
	}
	return listener, nil
}
