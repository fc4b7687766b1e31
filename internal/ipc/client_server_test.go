package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func serveInBackground(t *testing.T, socketPath string, handler Handler) (context.CancelFunc, <-chan error) {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, handler, nil)
	}()
	return cancel, serveDone
}

func TestSendRoundTrip(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "hotcap.sock")
	cancel, serveDone := serveInBackground(t, socketPath, HandlerFunc(func(_ context.Context, req Request) Response {
		if req.Command != CommandExport || req.Seconds != 30 {
			return Response{OK: false, Error: "unexpected request"}
		}
		return Response{OK: true, State: "recording", Path: "/tmp/capture.wav", Message: "exported"}
	}))
	defer cancel()

	resp, err := Send(context.Background(), socketPath, Request{Command: CommandExport, Seconds: 30}, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Equal(t, "recording", resp.State)
	require.Equal(t, "/tmp/capture.wav", resp.Path)
	require.Equal(t, "exported", resp.Message)

	cancel()
	require.NoError(t, <-serveDone)
}

func TestSendRejectsEmptyCommand(t *testing.T) {
	_, err := Send(context.Background(), filepath.Join(t.TempDir(), "missing.sock"), Request{}, 50*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no command")
}

func TestSendDecodeResponseError(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "hotcap.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		_, _ = reader.ReadBytes('\n')
		_, _ = conn.Write([]byte("not-json\n"))
	}()

	_, err = Send(context.Background(), socketPath, Request{Command: CommandStatus}, 200*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestSendReadResponseError(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "hotcap.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		_ = conn.Close()
	}()

	_, err = Send(context.Background(), socketPath, Request{Command: CommandStatus}, 200*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "read response")
}

func TestServeDecodeRequestErrorResponse(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "hotcap.sock")
	cancel, serveDone := serveInBackground(t, socketPath, HandlerFunc(func(_ context.Context, _ Request) Response {
		return Response{OK: true}
	}))
	defer cancel()

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not-json\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "decode request")

	cancel()
	require.NoError(t, <-serveDone)
}

func TestProbe(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "hotcap.sock")
	cancel, serveDone := serveInBackground(t, socketPath, HandlerFunc(func(_ context.Context, req Request) Response {
		if req.Command == CommandStatus {
			return Response{OK: true, State: "idle"}
		}
		return Response{OK: false, Error: "bad"}
	}))
	defer cancel()

	alive, probeErr := Probe(context.Background(), socketPath, 200*time.Millisecond)
	require.NoError(t, probeErr)
	require.True(t, alive)

	cancel()
	require.NoError(t, <-serveDone)

	alive, probeErr = Probe(context.Background(), socketPath, 100*time.Millisecond)
	require.NoError(t, probeErr)
	require.False(t, alive)
}

func TestErrorResponse(t *testing.T) {
	resp := ErrorResponse(context.DeadlineExceeded)
	require.False(t, resp.OK)
	require.Equal(t, context.DeadlineExceeded.Error(), resp.Error)
}

func TestSendReportsMissingDaemon(t *testing.T) {
	dir := t.TempDir()

	_, err := Send(context.Background(), filepath.Join(dir, "missing.sock"), Request{Command: CommandStatus}, 100*time.Millisecond)
	require.ErrorIs(t, err, ErrNoDaemon)

	stale := filepath.Join(dir, "stale.sock")
	require.NoError(t, os.WriteFile(stale, nil, 0o600))
	_, err = Send(context.Background(), stale, Request{Command: CommandStatus}, 100*time.Millisecond)
	require.ErrorIs(t, err, ErrNoDaemon)
}

func TestSendTimesOutOnSilentOwner(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "hotcap.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	release := make(chan struct{})
	defer close(release)
	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		defer conn.Close()
		<-release
	}()

	started := time.Now()
	_, err = Send(context.Background(), socketPath, Request{Command: CommandStatus}, 50*time.Millisecond)
	require.ErrorContains(t, err, "read response")
	require.NotErrorIs(t, err, ErrNoDaemon)
	require.Less(t, time.Since(started), time.Second)
}
