package pipeline

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	exitSentinel = "exit"
	inputYield   = 100 * time.Millisecond
)

var errSessionEnded = errors.New("chat session ended")

// Console is the process-wide terminal line source. It reads its input once
// on a single goroutine so successive chat sessions share one reader.
type Console struct {
	r     io.Reader
	once  sync.Once
	lines chan string
	ended chan struct{}
	err   error
}

// NewConsole wraps r. Reading starts on the first ReadLine.
func NewConsole(r io.Reader) *Console {
	return &Console{
		r:     r,
		lines: make(chan string),
		ended: make(chan struct{}),
	}
}

func (c *Console) scan() {
	defer close(c.ended)
	scanner := bufio.NewScanner(c.r)
	for scanner.Scan() {
		c.lines <- scanner.Text()
	}
	c.err = scanner.Err()
}

// ReadLine returns the next input line. It gives up when ctx is done or stop
// closes, and returns io.EOF once the input is exhausted.
func (c *Console) ReadLine(ctx context.Context, stop <-chan struct{}) (string, error) {
	c.once.Do(func() { go c.scan() })

	select {
	case line := <-c.lines:
		return line, nil
	case <-c.ended:
		if c.err != nil {
			return "", c.err
		}
		return "", io.EOF
	case <-stop:
		return "", errSessionEnded
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ChatSession is the input side of a running chat subprocess.
type ChatSession interface {
	SendLine(text string) error
	Done() <-chan struct{}
}

// Interact forwards console lines to session until the user types exit or
// quit, the child exits, the console ends, or ctx is cancelled. The exit
// sentinel is written at most once.
func Interact(ctx context.Context, session ChatSession, console *Console, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	for {
		line, err := console.ReadLine(ctx, session.Done())
		switch {
		case errors.Is(err, errSessionEnded):
			logger.Info("chat session exited")
			return nil
		case errors.Is(err, io.EOF):
			logger.Info("console closed; ending chat session")
			return session.SendLine(exitSentinel)
		case err != nil:
			return err
		}

		if isExitCommand(line) {
			logger.Info("chat exit requested")
			return session.SendLine(exitSentinel)
		}
		if err := session.SendLine(line); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-session.Done():
			return nil
		case <-time.After(inputYield):
		}
	}
}

func isExitCommand(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "exit", "quit":
		return true
	default:
		return false
	}
}
