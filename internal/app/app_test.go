package app

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rbright/hotcap/internal/audio"
	"github.com/rbright/hotcap/internal/doctor"
	"github.com/rbright/hotcap/internal/ipc"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "hotcap")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestExecuteInvalidConfigFails(t *testing.T) {
	paths := setupRunnerEnv(t, "capture:\n  bit_depth: 12\n")

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "invalid config")
}

func TestRunnerPrintsConfigWarnings(t *testing.T) {
	paths := setupRunnerEnv(t, "capture:\n  ring_secs: 10\n")

	var stdout, stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Contains(t, stderr.String(), `warning: unknown key "capture.ring_secs" ignored`)
}

func TestRunnerStatusIdleWhenSocketUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerClientCommandsRequireDaemon(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	for _, command := range []string{"trigger", "export", "stop"} {
		var stderr bytes.Buffer
		runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

		exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, command})
		require.Equal(t, 1, exitCode, command)
		require.Contains(t, stderr.String(), "no running hotcap daemon", command)
	}
}

func TestRunnerForwardsCommandsToDaemon(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	requests := make(chan ipc.Request, 8)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "hotcap.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		requests <- req
		switch req.Command {
		case ipc.CommandStatus:
			return ipc.Response{OK: true, State: "recording", Forwarded: 12, Pending: 1}
		case ipc.CommandExport:
			return ipc.Response{OK: true, Path: req.Path, Message: "exported " + req.Path}
		case ipc.CommandTrigger, ipc.CommandStop:
			return ipc.Response{OK: true, Message: req.Command + " handled"}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	run := func(args ...string) string {
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		runner := Runner{Stdout: stdout, Stderr: stderr}
		exitCode := runner.Execute(context.Background(), append([]string{"--config", paths.configPath}, args...))
		require.Equal(t, 0, exitCode, args)
		require.Empty(t, stderr.String(), args)
		return stdout.String()
	}

	require.Equal(t, "recording pending=1 forwarded=12 dropped=0\n", run("status"))
	require.Equal(t, "trigger handled\n", run("trigger"))
	out := filepath.Join(t.TempDir(), "clip.wav")
	require.Equal(t, "exported "+out+"\n", run("export", "--seconds", "15", "--output", out))
	require.Equal(t, "stop handled\n", run("stop"))

	got := []ipc.Request{<-requests, <-requests, <-requests, <-requests}
	require.Equal(t, ipc.Request{Command: ipc.CommandStatus}, got[0])
	require.Equal(t, ipc.Request{Command: ipc.CommandTrigger}, got[1])
	require.Equal(t, ipc.Request{Command: ipc.CommandExport, Seconds: 15, Path: out}, got[2])
	require.Equal(t, ipc.Request{Command: ipc.CommandStop}, got[3])
}

func TestRunnerReportsDaemonErrors(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "hotcap.sock"), func(context.Context, ipc.Request) ipc.Response {
		return ipc.Response{OK: false, Error: "capture session not active"}
	})
	defer shutdown()

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}
	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "export"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "capture session not active")
}

func TestTryForwardSuccessAndFailureResponses(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "hotcap.sock")
	shutdown := startIPCServerForRunnerTest(t, socketPath, func(_ context.Context, req ipc.Request) ipc.Response {
		if req.Command == ipc.CommandStatus {
			return ipc.Response{OK: true, State: "recording"}
		}
		return ipc.Response{OK: false, Error: "unsupported"}
	})
	defer shutdown()

	resp, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: ipc.CommandStatus}, forwardTimeout)
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, "recording", resp.State)

	_, handled, err = tryForward(context.Background(), socketPath, ipc.Request{Command: "cancel"}, forwardTimeout)
	require.True(t, handled)
	require.ErrorContains(t, err, "unsupported")
}

func TestTryForwardLeavesStaleSocketPathInPlace(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "hotcap.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	_, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: ipc.CommandStatus}, forwardTimeout)
	require.False(t, handled)
	require.NoError(t, err)
	require.FileExists(t, socketPath)
}

func TestTryForwardTreatsReadFailuresAsHandledErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "hotcap.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			_ = conn.Close()
		}
	}()

	_, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: ipc.CommandStatus}, forwardTimeout)
	require.True(t, handled)
	require.ErrorContains(t, err, `forward command "status":`)

	<-done
	require.NoError(t, listener.Close())
}

func TestTryForwardWithoutDaemon(t *testing.T) {
	_, handled, err := tryForward(context.Background(), filepath.Join(t.TempDir(), "hotcap.sock"), ipc.Request{Command: ipc.CommandStatus}, forwardTimeout)
	require.False(t, handled)
	require.NoError(t, err)
}

func TestRunnerDoctorCommandPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	probes := doctor.Probes{
		Audio: func(context.Context, string, string) (audio.Selection, error) {
			return audio.Selection{}, errors.New("no usable audio input device")
		},
		Hotkey: func() (string, error) { return "1 keyboard(s) found", nil },
	}

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}, deps: deps{probes: &probes}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "[OK] config: loaded")
	require.Contains(t, stdout.String(), "[FAIL] audio.device: no usable audio input device")
	require.Contains(t, stdout.String(), "[OK] hotkey: 1 keyboard(s) found")
}

func TestRunnerDevicesCommand(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}, deps: deps{
		listDevices: func(context.Context) ([]audio.Device, error) {
			return []audio.Device{
				{ID: "mic-1", Description: "USB Mic", State: "running", Available: true, Default: true},
				{ID: "mic-2", Description: "Webcam", State: "suspended", Muted: true},
			}, nil
		},
	}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 0, exitCode)
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Equal(t, []string{
		`* id=mic-1 | description="USB Mic" | state=running | available=yes | muted=no`,
		`  id=mic-2 | description="Webcam" | state=suspended | available=no | muted=yes`,
	}, lines)
}

func TestRunnerDevicesCommandFailure(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr, deps: deps{
		listDevices: func(context.Context) ([]audio.Device, error) {
			return nil, errors.New("connect pulse server: refused")
		},
	}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error: connect pulse server")
}

type runnerPaths struct {
	configPath string
	runtimeDir string
	outputDir  string
}

func setupRunnerEnv(t *testing.T, extra string) runnerPaths {
	t.Helper()

	runtimeDir := t.TempDir()
	outputDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)
	t.Setenv("HOME", t.TempDir())

	contents := "output:\n  dir: " + strconv.Quote(outputDir) + "\n" + extra
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(contents), 0o600))

	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir, outputDir: outputDir}
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler), nil)
	}()

	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("ipc server did not stop")
		}
	}
}
