package bridge

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []Line
}

func (r *lineRecorder) add(line Line) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *lineRecorder) snapshot() []Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Line(nil), r.lines...)
}

func (r *lineRecorder) has(want Line) bool {
	for _, line := range r.snapshot() {
		if line == want {
			return true
		}
	}
	return false
}

func shell(script string) Spec {
	return Spec{Executable: "/bin/sh", Args: []string{"-c", script}}
}

const echoLoop = `while IFS= read -r line; do
  [ "$line" = exit ] && { echo bye; exit 0; }
  echo "got:$line"
done`

func TestBridgeRelaysInputAndOutput(t *testing.T) {
	rec := &lineRecorder{}
	b, err := Start(context.Background(), shell(echoLoop), rec.add, nil)
	require.NoError(t, err)

	require.NoError(t, b.SendLine("hello"))
	require.Eventually(t, func() bool {
		return rec.has(Line{Stream: StreamPrimary, Text: "got:hello"})
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.SendLine("exit"))
	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("child did not exit")
	}

	code, err := b.Shutdown(context.Background())
	require.NoError(t, err)
	require.Zero(t, code)
	require.True(t, rec.has(Line{Stream: StreamPrimary, Text: "bye"}))
}

func TestBridgeLabelsStderrAndReportsExitCode(t *testing.T) {
	rec := &lineRecorder{}
	b, err := Start(context.Background(), shell("echo oops >&2; exit 3"), rec.add, nil)
	require.NoError(t, err)

	<-b.Done()
	code, err := b.Shutdown(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, code)
	require.Equal(t, []Line{{Stream: StreamSecondary, Text: "oops"}}, rec.snapshot())
}

func TestBridgeTrimsTrailingWhitespaceAndKeepsPrompts(t *testing.T) {
	rec := &lineRecorder{}
	b, err := Start(context.Background(), shell(`printf 'hello   \r\n'; sleep 0.1; printf 'Q: '`), rec.add, nil)
	require.NoError(t, err)

	<-b.Done()
	_, err = b.Shutdown(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Line{
		{Stream: StreamPrimary, Text: "hello"},
		{Stream: StreamPrimary, Text: "Q:"},
	}, rec.snapshot())
}

func TestBridgeReplacesInvalidUTF8(t *testing.T) {
	rec := &lineRecorder{}
	b, err := Start(context.Background(), shell(`printf '\377abc\n'`), rec.add, nil)
	require.NoError(t, err)

	<-b.Done()
	_, err = b.Shutdown(context.Background())
	require.NoError(t, err)

	lines := rec.snapshot()
	require.Len(t, lines, 1)
	require.True(t, strings.HasSuffix(lines[0].Text, "abc"))
	require.Contains(t, lines[0].Text, "�")
}

func TestBridgeSplitsLineLongerThanReadChunk(t *testing.T) {
	rec := &lineRecorder{}
	b, err := Start(context.Background(), shell(`printf '%05000d\n' 0`), rec.add, nil)
	require.NoError(t, err)

	<-b.Done()
	_, err = b.Shutdown(context.Background())
	require.NoError(t, err)

	lines := rec.snapshot()
	require.GreaterOrEqual(t, len(lines), 2)
	var joined strings.Builder
	for _, line := range lines {
		require.Equal(t, StreamPrimary, line.Stream)
		joined.WriteString(line.Text)
	}
	require.Equal(t, strings.Repeat("0", 5000), joined.String())
}

func TestBridgeLaunchFailure(t *testing.T) {
	_, err := Start(context.Background(), Spec{Executable: "/definitely/missing/binary"}, nil, nil)
	require.ErrorIs(t, err, ErrLaunchFailed)

	_, err = Start(context.Background(), Spec{Executable: "  "}, nil, nil)
	require.ErrorIs(t, err, ErrLaunchFailed)
}

func TestBridgeShutdownTimeoutKillsChild(t *testing.T) {
	b, err := Start(context.Background(), shell("exec sleep 30"), nil, nil, WithShutdownTimeout(100*time.Millisecond))
	require.NoError(t, err)

	started := time.Now()
	code, err := b.Shutdown(context.Background())
	require.ErrorIs(t, err, ErrShutdownTimeout)
	require.Equal(t, -1, code)
	require.Less(t, time.Since(started), 5*time.Second)

	select {
	case <-b.Done():
	default:
		t.Fatal("child should be reaped after shutdown")
	}
}

func TestBridgeSendLineAfterExitIsFatal(t *testing.T) {
	b, err := Start(context.Background(), shell("exit 0"), nil, nil)
	require.NoError(t, err)
	<-b.Done()

	require.ErrorIs(t, b.SendLine("hello"), ErrInputWriteFailed)
	require.ErrorIs(t, b.SendLine("again"), ErrInputWriteFailed)

	code, err := b.Shutdown(context.Background())
	require.NoError(t, err)
	require.Zero(t, code)
}

func TestBridgeShutdownIsIdempotent(t *testing.T) {
	b, err := Start(context.Background(), shell("cat >/dev/null; exit 4"), nil, nil)
	require.NoError(t, err)

	code, err := b.Shutdown(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, code)

	code, err = b.Shutdown(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, code)

	require.ErrorIs(t, b.SendLine("late"), ErrInputWriteFailed)
}

func TestBridgeRunsInWorkingDirectoryWithEnv(t *testing.T) {
	dir := t.TempDir()
	rec := &lineRecorder{}
	spec := shell(`pwd; echo "$HOTCAP_TEST_VALUE"`)
	spec.Dir = dir
	spec.Env = []string{"HOTCAP_TEST_VALUE=present"}

	b, err := Start(context.Background(), spec, rec.add, nil)
	require.NoError(t, err)
	<-b.Done()
	_, err = b.Shutdown(context.Background())
	require.NoError(t, err)

	require.True(t, rec.has(Line{Stream: StreamPrimary, Text: "present"}))
	texts := make([]string, 0)
	for _, line := range rec.snapshot() {
		texts = append(texts, line.Text)
	}
	require.Contains(t, strings.Join(texts, "\n"), dir)
}

func TestIncompleteSuffix(t *testing.T) {
	euro := []byte("€") // 3 bytes
	require.Zero(t, incompleteSuffix([]byte("abc")))
	require.Zero(t, incompleteSuffix(append([]byte("a"), euro...)))
	require.Equal(t, 2, incompleteSuffix(append([]byte("a"), euro[:2]...)))
	require.Equal(t, 1, incompleteSuffix(append([]byte("a"), euro[:1]...)))
}

func TestExitCode(t *testing.T) {
	require.Zero(t, exitCode(nil))
	require.Equal(t, -1, exitCode(context.Canceled))
}
