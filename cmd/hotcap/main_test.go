package main

import (
	"errors"
	"os"
	"os/exec"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMainPrintsHelp(t *testing.T) {
	output, err := runHotcap(t, "--help")
	require.NoError(t, err, string(output))
	require.Contains(t, string(output), "Usage:")
	require.Contains(t, string(output), "trigger")
}

func TestMainPrintsVersion(t *testing.T) {
	output, err := runHotcap(t, "version")
	require.NoError(t, err, string(output))
	require.Contains(t, string(output), "hotcap ")
}

func TestMainUnknownCommandExitsWithUsageError(t *testing.T) {
	output, err := runHotcap(t, "not-a-command")

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "expected exit error, got %v", err)
	require.Equal(t, 2, exitErr.ExitCode())
	require.Contains(t, string(output), "unknown command")
}

func TestMainStatusWithoutDaemon(t *testing.T) {
	output, err := runHotcap(t, "status")
	require.NoError(t, err, string(output))
	require.Contains(t, string(output), "idle")
}

// TestHelperProcess runs main with the arguments after "--" when re-executed
// by runHotcap.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("HOTCAP_HELPER_PROCESS") != "1" {
		return
	}

	args := []string{"hotcap"}
	if i := slices.Index(os.Args, "--"); i >= 0 {
		args = append(args, os.Args[i+1:]...)
	}
	os.Args = args
	main()
}

func runHotcap(t *testing.T, args ...string) ([]byte, error) {
	t.Helper()

	cmd := exec.Command(os.Args[0], append([]string{"-test.run=^TestHelperProcess$", "--"}, args...)...)
	cmd.Env = append(os.Environ(),
		"HOTCAP_HELPER_PROCESS=1",
		"HOME="+t.TempDir(),
		"XDG_CONFIG_HOME="+t.TempDir(),
		"XDG_STATE_HOME="+t.TempDir(),
		"XDG_RUNTIME_DIR="+t.TempDir(),
	)
	return cmd.CombinedOutput()
}
