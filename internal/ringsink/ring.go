// Package ringsink keeps the trailing window of recorded audio in memory and
// writes it to durable audio files on demand.
package ringsink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rbright/hotcap/internal/capture"
)

// Format selects the export container.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatFLAC Format = "flac"
)

const maxRingBytes = 1 << 31

var (
	// ErrEmptyWindow indicates there is no buffered audio to export yet.
	ErrEmptyWindow = errors.New("no buffered audio in requested window")
	// ErrClosed indicates the ring was released.
	ErrClosed = errors.New("ring sink closed")
	// ErrUnsupportedFormat indicates a container/bit-depth combination that cannot be written.
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// ParseFormat normalizes a config value into a Format.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatWAV:
		return FormatWAV, nil
	case FormatFLAC:
		return FormatFLAC, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, value)
	}
}

// Opener allocates rings for capture sessions.
type Opener struct {
	Format Format
	Logger *slog.Logger
}

// Open implements capture.SinkOpener.
func (o Opener) Open(cfg capture.Config) (capture.Sink, error) {
	return New(cfg, o.Format, o.Logger)
}

// Ring is a fixed-capacity byte ring that overwrites its oldest audio.
type Ring struct {
	cfg    capture.Config
	format Format
	logger *slog.Logger

	mu     sync.Mutex
	data   []byte
	write  int
	size   int
	closed bool
}

// New allocates a ring holding cfg.RingSeconds of audio.
func New(cfg capture.Config, format Format, logger *slog.Logger) (*Ring, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if format == "" {
		format = FormatWAV
	}
	if format != FormatWAV && format != FormatFLAC {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if format == FormatFLAC && cfg.BitDepth == 32 {
		return nil, fmt.Errorf("%w: flac cannot store 32-bit float samples", ErrUnsupportedFormat)
	}

	capacity := cfg.RingBytes()
	if capacity <= 0 {
		return nil, fmt.Errorf("ring capacity must be > 0")
	}
	if capacity > maxRingBytes {
		return nil, fmt.Errorf("ring capacity %d bytes exceeds limit %d", capacity, int64(maxRingBytes))
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Ring{
		cfg:    cfg,
		format: format,
		logger: logger,
		data:   make([]byte, capacity),
	}, nil
}

// Append copies chunk into the ring, dropping the oldest bytes on overflow.
func (r *Ring) Append(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || len(chunk) == 0 {
		return
	}

	capacity := len(r.data)
	if len(chunk) > capacity {
		chunk = chunk[len(chunk)-capacity:]
	}
	n := copy(r.data[r.write:], chunk)
	if n < len(chunk) {
		copy(r.data, chunk[n:])
	}
	r.write = (r.write + len(chunk)) % capacity
	r.size = min(r.size+len(chunk), capacity)
}

// Buffered reports how many bytes are currently held.
func (r *Ring) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Flush writes the trailing windowSeconds of audio to path.
// The ring is only locked while the window is copied out.
func (r *Ring) Flush(ctx context.Context, windowSeconds uint16, path string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	want := min(int64(windowSeconds)*r.cfg.BytesPerSecond(), int64(r.size))
	want -= want % int64(r.cfg.FrameSize())
	if want <= 0 {
		r.mu.Unlock()
		return ErrEmptyWindow
	}
	pcm := r.tailLocked(int(want))
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeArtifact(path, r.format, r.cfg, pcm); err != nil {
		return err
	}

	r.logger.Debug("ring flushed",
		"path", path,
		"format", string(r.format),
		"bytes", len(pcm),
		"window_seconds", windowSeconds,
	)
	return nil
}

// Close releases the ring. Later appends are ignored and flushes fail.
func (r *Ring) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.data = nil
	r.size = 0
	r.write = 0
	return nil
}

// tailLocked copies the newest want bytes in chronological order.
func (r *Ring) tailLocked(want int) []byte {
	capacity := len(r.data)
	out := make([]byte, want)
	start := (r.write - want + capacity) % capacity

	first := r.data[start:]
	if len(first) > want {
		first = first[:want]
	}
	n := copy(out, first)
	copy(out[n:], r.data[:want-n])
	return out
}
