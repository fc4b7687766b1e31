// Package bridge runs an interactive child process and relays its line-oriented
// stdin/stdout/stderr.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/sourcegraph/conc"
)

const (
	DefaultShutdownTimeout = 5 * time.Second

	drainGrace     = 200 * time.Millisecond
	readRetryDelay = 50 * time.Millisecond
	readChunkSize  = 4096
)

var (
	ErrLaunchFailed     = errors.New("subprocess launch failed")
	ErrInputWriteFailed = errors.New("subprocess input write failed")
	ErrOutputDecode     = errors.New("subprocess output is not valid utf-8")
	ErrShutdownTimeout  = errors.New("subprocess did not exit before shutdown timeout")
)

// Stream labels where a Line came from.
type Stream string

const (
	StreamPrimary   Stream = "primary"
	StreamSecondary Stream = "secondary"
)

// Line is one decoded piece of child output. Lines are emitted per read, so a
// text line longer than one read chunk, or one that straddles a read
// boundary, arrives as several consecutive Lines.
type Line struct {
	Stream Stream
	Text   string
}

// Spec describes the process to launch. Env entries are appended to the
// parent environment.
type Spec struct {
	Executable string
	Args       []string
	Dir        string
	Env        []string
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithShutdownTimeout bounds how long Shutdown waits for a voluntary exit.
func WithShutdownTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.shutdownTimeout = d
		}
	}
}

// Bridge owns one running child and its pipes.
type Bridge struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File

	onLine          func(Line)
	logger          *slog.Logger
	shutdownTimeout time.Duration

	drains   conc.WaitGroup
	done     chan struct{}
	exitCode int

	mu          sync.Mutex
	fatal       error
	stdinClosed bool

	shutdownOnce sync.Once
	shutdownCode int
	shutdownErr  error
}

// Start launches spec and begins draining its output into onLine. onLine is
// called from the drain goroutines and must not block for long.
func Start(ctx context.Context, spec Spec, onLine func(Line), logger *slog.Logger, opts ...Option) (*Bridge, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if onLine == nil {
		onLine = func(Line) {}
	}
	if strings.TrimSpace(spec.Executable) == "" {
		return nil, fmt.Errorf("%w: executable is empty", ErrLaunchFailed)
	}

	cmd := exec.CommandContext(ctx, spec.Executable, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %w", ErrLaunchFailed, err)
	}
	// Pipes are created here rather than via StdoutPipe so cmd.Wait does not
	// close the read ends before the drain loops finish.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %w", ErrLaunchFailed, err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		closeAll(stdoutR, stdoutW)
		return nil, fmt.Errorf("%w: stderr pipe: %w", ErrLaunchFailed, err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		logger.Error("subprocess launch failed", "executable", spec.Executable, "error", err.Error())
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}
	closeAll(stdoutW, stderrW)

	b := &Bridge{
		cmd:             cmd,
		stdin:           stdin,
		stdout:          stdoutR,
		stderr:          stderrR,
		onLine:          onLine,
		logger:          logger,
		shutdownTimeout: DefaultShutdownTimeout,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.drains.Go(func() { b.drain(StreamPrimary, stdoutR) })
	b.drains.Go(func() { b.drain(StreamSecondary, stderrR) })
	go b.wait()

	logger.Info("subprocess started", "executable", spec.Executable, "pid", cmd.Process.Pid)
	return b, nil
}

// Done is closed once the child has exited.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// SendLine writes text followed by a newline to the child's stdin. After the
// first write failure the bridge is fatal and every later call fails.
func (b *Bridge) SendLine(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fatal != nil {
		return fmt.Errorf("%w: %w", ErrInputWriteFailed, b.fatal)
	}
	if b.stdinClosed {
		return fmt.Errorf("%w: stdin closed", ErrInputWriteFailed)
	}
	if _, err := io.WriteString(b.stdin, text+"\n"); err != nil {
		b.fatal = err
		b.logger.Error("subprocess input write failed", "error", err.Error())
		return fmt.Errorf("%w: %w", ErrInputWriteFailed, err)
	}
	return nil
}

// Shutdown closes stdin, waits for the child to exit, flushes remaining
// output, and returns the exit code. A child that outlives the shutdown
// timeout is killed and ErrShutdownTimeout is returned. Repeated calls return
// the first result.
func (b *Bridge) Shutdown(ctx context.Context) (int, error) {
	b.shutdownOnce.Do(func() {
		b.shutdownCode, b.shutdownErr = b.shutdown(ctx)
	})
	return b.shutdownCode, b.shutdownErr
}

func (b *Bridge) shutdown(ctx context.Context) (int, error) {
	b.mu.Lock()
	if !b.stdinClosed {
		b.stdinClosed = true
		_ = b.stdin.Close()
	}
	b.mu.Unlock()

	var err error
	timer := time.NewTimer(b.shutdownTimeout)
	defer timer.Stop()
	select {
	case <-b.done:
	case <-timer.C:
		b.kill()
		err = ErrShutdownTimeout
	case <-ctx.Done():
		b.kill()
		err = ctx.Err()
	}

	drained := make(chan struct{})
	go func() {
		b.drains.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainGrace):
		b.logger.Warn("subprocess output still open after exit; closing readers")
	}
	closeAll(b.stdout, b.stderr)
	<-drained

	b.logger.Info("subprocess stopped", "exit_code", b.exitCode, "timed_out", errors.Is(err, ErrShutdownTimeout))
	return b.exitCode, err
}

func (b *Bridge) kill() {
	if b.cmd.Process != nil {
		if err := b.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			b.logger.Warn("subprocess kill failed", "error", err.Error())
		}
	}
	<-b.done
}

func (b *Bridge) wait() {
	err := b.cmd.Wait()
	b.exitCode = exitCode(err)
	close(b.done)
}

// drain reads whatever the child wrote, decodes it, and emits one Line per
// text line in the chunk. Partial lines such as prompts are emitted as read.
func (b *Bridge) drain(stream Stream, r io.Reader) {
	buf := make([]byte, readChunkSize)
	var carry []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			carry = nil
			if cut := incompleteSuffix(data); cut > 0 {
				carry = append([]byte(nil), data[len(data)-cut:]...)
				data = data[:len(data)-cut]
			}
			b.emit(stream, data)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			if len(carry) > 0 {
				b.emit(stream, carry)
			}
			return
		}
		b.logger.Warn("subprocess read failed", "stream", string(stream), "error", err.Error())
		time.Sleep(readRetryDelay)
	}
}

func (b *Bridge) emit(stream Stream, data []byte) {
	if len(data) == 0 {
		return
	}
	text := string(data)
	if !utf8.ValidString(text) {
		b.logger.Warn("subprocess output decode failed", "stream", string(stream), "error", ErrOutputDecode.Error())
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
	}
	text = strings.TrimRightFunc(text, unicode.IsSpace)
	if text == "" {
		return
	}
	for _, line := range strings.Split(text, "\n") {
		b.onLine(Line{Stream: stream, Text: strings.TrimRightFunc(line, unicode.IsSpace)})
	}
}

// incompleteSuffix returns how many trailing bytes form the start of a
// multi-byte rune that has not fully arrived yet.
func incompleteSuffix(data []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(data); i++ {
		c := data[len(data)-i]
		if utf8.RuneStart(c) {
			if c >= utf8.RuneSelf && !utf8.FullRune(data[len(data)-i:]) {
				return i
			}
			return 0
		}
	}
	return 0
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
