package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateDir(t *testing.T) {
	state := t.TempDir()
	t.Setenv("XDG_STATE_HOME", state)
	dir, err := StateDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(state, "hotcap"), dir)

	home := t.TempDir()
	t.Setenv("XDG_STATE_HOME", "")
	t.Setenv("HOME", home)
	dir, err = StateDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".local", "state", "hotcap"), dir)
}

func TestNewWritesFilteredJSONLines(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	info, err := New(slog.LevelInfo)
	require.NoError(t, err)
	info.Logger.Debug("hidden-debug")
	info.Logger.Info("capture started", "ring_seconds", 90)
	require.NoError(t, info.Close())

	debug, err := New(slog.LevelDebug)
	require.NoError(t, err)
	require.Equal(t, info.Path, debug.Path)
	debug.Logger.Debug("visible-debug")
	require.NoError(t, debug.Close())

	data, err := os.ReadFile(info.Path)
	require.NoError(t, err)
	text := string(data)
	require.Contains(t, text, `"msg":"capture started"`)
	require.Contains(t, text, `"ring_seconds":90`)
	require.Contains(t, text, `"pid":`)
	require.Contains(t, text, `"msg":"visible-debug"`)
	require.NotContains(t, text, "hidden-debug")

	stat, err := os.Stat(info.Path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), stat.Mode().Perm())
}

func TestRotateMovesOversizedLogAside(t *testing.T) {
	path := filepath.Join(t.TempDir(), fileName)
	require.NoError(t, rotate(path, 10))

	require.NoError(t, os.WriteFile(path, []byte("short"), 0o600))
	require.NoError(t, rotate(path, 10))
	require.FileExists(t, path)

	require.NoError(t, os.WriteFile(path, []byte("much longer than ten bytes"), 0o600))
	require.NoError(t, rotate(path, 10))
	require.NoFileExists(t, path)
	rotated, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	require.Equal(t, "much longer than ten bytes", string(rotated))
}

func TestDiscardIsUsable(t *testing.T) {
	runtime := Discard()
	runtime.Logger.Info("dropped")
	require.NoError(t, runtime.Close())
	require.Empty(t, runtime.Path)
}
