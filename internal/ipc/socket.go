package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

var ErrAlreadyRunning = errors.New("hotcap daemon already running")

const (
	controlSocketName = "hotcap.sock"
	healthSocketName  = "hotcap-health.sock"
)

// RuntimeSocketPath is the daemon control socket.
func RuntimeSocketPath() (string, error) {
	return runtimePath(controlSocketName)
}

// HealthSocketPath is the gRPC health socket served next to the control socket.
func HealthSocketPath() (string, error) {
	return runtimePath(healthSocketName)
}

// RuntimeDir is $XDG_RUNTIME_DIR, or a per-user directory under the system
// temp dir when the session does not provide one.
func RuntimeDir() string {
	if dir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("hotcap-%d", os.Getuid()))
}

func runtimePath(name string) (string, error) {
	dir := RuntimeDir()
	if !filepath.IsAbs(dir) {
		return "", fmt.Errorf("runtime dir %q is not absolute", dir)
	}
	return filepath.Join(dir, name), nil
}

// Listen claims path as the control socket. A daemon that answers on path
// yields ErrAlreadyRunning. A socket left behind by a dead daemon is removed
// and the listen retried once.
func Listen(ctx context.Context, path string, probeTimeout time.Duration) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create runtime dir: %w", err)
	}

	listener, err := listenPrivate(path)
	if err == nil || !errors.Is(err, syscall.EADDRINUSE) {
		return listener, err
	}

	alive, err := Probe(ctx, path, probeTimeout)
	if err != nil {
		return nil, fmt.Errorf("probe existing socket %s: %w", path, err)
	}
	if alive {
		return nil, ErrAlreadyRunning
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	return listenPrivate(path)
}

func listenPrivate(path string) (net.Listener, error) {
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("restrict socket %s: %w", path, err)
	}
	return listener, nil
}
