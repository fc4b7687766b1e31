// Package logging opens the JSONL log shared by the daemon and its clients.
package logging

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	fileName = "log.jsonl"
	// rotateBytes is the size past which an existing log is moved aside on open.
	rotateBytes int64 = 8 << 20
)

// Runtime is an open log: the logger, where it writes, and the file to close.
type Runtime struct {
	Logger *slog.Logger
	Path   string
	file   *os.File
}

func (r Runtime) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}

// New opens log.jsonl in the state dir at level.
func New(level slog.Leveler) (Runtime, error) {
	dir, err := StateDir()
	if err != nil {
		return Runtime{}, err
	}
	return Open(filepath.Join(dir, fileName), level)
}

// Open appends JSON records to path. A file that has grown past rotateBytes
// is renamed to path.1 first, replacing any older rotation.
func Open(path string, level slog.Leveler) (Runtime, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return Runtime{}, fmt.Errorf("create log dir: %w", err)
	}
	if err := rotate(path, rotateBytes); err != nil {
		return Runtime{}, fmt.Errorf("rotate log: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return Runtime{}, fmt.Errorf("open log: %w", err)
	}
	handler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level})
	return Runtime{
		Logger: slog.New(handler).With("pid", os.Getpid()),
		Path:   path,
		file:   f,
	}, nil
}

// Discard is used when no log file can be opened.
func Discard() Runtime {
	return Runtime{Logger: slog.New(slog.DiscardHandler)}
}

// StateDir is $XDG_STATE_HOME/hotcap, or ~/.local/state/hotcap.
func StateDir() (string, error) {
	if base := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); base != "" {
		return filepath.Join(base, "hotcap"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate state dir: %w", err)
	}
	return filepath.Join(home, ".local", "state", "hotcap"), nil
}

func rotate(path string, limit int64) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < limit {
		return nil
	}
	return os.Rename(path, path+".1")
}
