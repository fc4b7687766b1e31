// Package capture owns the audio ingestion lifecycle: one session feeds a ring
// sink while recording and exports trailing windows on request.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/hotcap/internal/fsm"
)

const (
	DefaultQueueSize = 256
	DefaultStopGrace = 100 * time.Millisecond
)

// Stats is a point-in-time view of session counters.
type Stats struct {
	State          fsm.State
	Config         *Config
	Forwarded      int64
	ForwardedBytes int64
	Dropped        int64
}

// Option customizes a Session.
type Option func(*Session)

// WithQueueSize sets the bounded ingest queue capacity.
func WithQueueSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithStopGrace sets how long Stop waits for queued chunks to reach the sink.
func WithStopGrace(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.stopGrace = d
		}
	}
}

// Session is the single owner of a ring sink while recording.
//
// Start, Stop, and Export are linearized by cmdMu. Ingest only takes mu for
// reading and never waits on sink I/O, so exports do not stall the source.
type Session struct {
	opener    SinkOpener
	adapter   *Adapter
	logger    *slog.Logger
	queueSize int
	stopGrace time.Duration

	cmdMu sync.Mutex

	mu        sync.RWMutex
	state     fsm.State
	cfg       *Config
	sink      Sink
	sub       Subscription
	queue     chan []byte
	accepting bool
	fwd       *forwarder

	forwarded      atomic.Int64
	forwardedBytes atomic.Int64
	dropped        atomic.Int64
}

// forwarder is the goroutine moving queued chunks into the sink for one epoch.
type forwarder struct {
	done    chan struct{}
	abandon chan struct{}
}

// NewSession constructs an idle session. source may be nil when chunks are
// pushed through Ingest directly.
func NewSession(opener SinkOpener, source Source, logger *slog.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Session{
		opener:    opener,
		adapter:   NewAdapter(source),
		logger:    logger,
		queueSize: DefaultQueueSize,
		stopGrace: DefaultStopGrace,
		state:     fsm.StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() fsm.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Stats returns counters and the active config, if any.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var cfg *Config
	if s.cfg != nil {
		copied := *s.cfg
		cfg = &copied
	}
	return Stats{
		State:          s.state,
		Config:         cfg,
		Forwarded:      s.forwarded.Load(),
		ForwardedBytes: s.forwardedBytes.Load(),
		Dropped:        s.dropped.Load(),
	}
}

// Start opens the sink for cfg, subscribes the source, and enters recording.
func (s *Session) Start(ctx context.Context, cfg Config) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	current := s.State()
	next, err := fsm.Transition(current, fsm.EventStart)
	if err != nil {
		s.logger.Warn("capture start rejected", "outcome", "already_active", "state", current)
		return ErrAlreadyActive
	}
	if err := cfg.Validate(); err != nil {
		s.logger.Error("capture start failed", "outcome", "invalid_config", "error", err.Error())
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	sink, err := s.opener.Open(cfg)
	if err != nil {
		s.logger.Error("capture start failed", "outcome", "sink_unavailable", "error", err.Error())
		return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}

	fwd := &forwarder{done: make(chan struct{}), abandon: make(chan struct{})}
	queue := make(chan []byte, s.queueSize)
	go s.forward(sink, queue, fwd)

	s.mu.Lock()
	s.state = next
	s.cfg = &cfg
	s.sink = sink
	s.queue = queue
	s.fwd = fwd
	s.accepting = true
	s.mu.Unlock()

	if s.adapter != nil {
		sub, err := s.adapter.Subscribe(ctx, cfg, s.Ingest)
		if err != nil {
			s.release()
			s.logger.Error("capture start failed", "outcome", "source_unavailable", "error", err.Error())
			return err
		}
		s.mu.Lock()
		s.sub = sub
		s.mu.Unlock()
	}

	s.logger.Info("capture started",
		"outcome", "ok",
		"destination", cfg.Destination,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"bit_depth", cfg.BitDepth,
		"ring_seconds", cfg.RingSeconds,
	)
	return nil
}

// Ingest forwards one chunk to the sink queue. It never blocks on the sink and
// never fails: chunks arriving while idle or with a full queue are counted as
// dropped.
func (s *Session) Ingest(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.accepting {
		s.dropped.Add(1)
		return
	}

	copied := make([]byte, len(chunk))
	copy(copied, chunk)
	select {
	case s.queue <- copied:
	default:
		s.dropped.Add(1)
	}
}

// Export flushes the trailing windowSeconds of audio to path and returns it.
func (s *Session) Export(ctx context.Context, windowSeconds uint16, path string) (string, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.mu.RLock()
	state := s.state
	sink := s.sink
	cfg := s.cfg
	s.mu.RUnlock()

	if !fsm.Allowed(state, fsm.EventExport) || sink == nil || cfg == nil {
		s.logger.Warn("capture export rejected", "outcome", "not_active", "state", state)
		return "", ErrNotActive
	}

	window := cfg.ClampWindow(windowSeconds)
	started := time.Now()
	if err := sink.Flush(ctx, window, path); err != nil {
		s.logger.Error("capture export failed",
			"outcome", "export_failed",
			"window_seconds", window,
			"path", path,
			"error", err.Error(),
		)
		return "", fmt.Errorf("%w: %w", ErrExportFailed, err)
	}

	s.logger.Info("capture exported",
		"outcome", "ok",
		"window_seconds", window,
		"path", path,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return path, nil
}

// Stop drains queued chunks for at most the grace period, releases the sink,
// and returns to idle. Calling Stop while idle is a no-op.
func (s *Session) Stop(_ context.Context) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if s.State() == fsm.StateIdle {
		return nil
	}

	dropped := s.release()
	s.logger.Info("capture stopped",
		"outcome", "ok",
		"forwarded", s.forwarded.Load(),
		"dropped", s.dropped.Load(),
		"abandoned", dropped,
	)
	return nil
}

// release tears down the active epoch: unsubscribe, stop accepting, drain
// with grace, close the sink once, and go idle. Callers hold cmdMu.
func (s *Session) release() int64 {
	s.mu.RLock()
	sub := s.sub
	s.mu.RUnlock()

	// Unsubscribe outside mu: a source callback may be waiting in Ingest.
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("audio unsubscribe failed", "error", err.Error())
		}
	}

	s.mu.Lock()
	s.accepting = false
	queue := s.queue
	fwd := s.fwd
	sink := s.sink
	s.queue = nil
	s.sub = nil
	s.mu.Unlock()

	var abandoned int64
	if queue != nil {
		close(queue)
	}
	if fwd != nil {
		timer := time.NewTimer(s.stopGrace)
		select {
		case <-fwd.done:
			timer.Stop()
		case <-timer.C:
			close(fwd.abandon)
			<-fwd.done
			for range queue {
				abandoned++
			}
			s.dropped.Add(abandoned)
		}
	}

	if sink != nil {
		if err := sink.Close(); err != nil {
			s.logger.Warn("ring sink close failed", "error", err.Error())
		}
	}

	s.mu.Lock()
	s.state = fsm.StateIdle
	s.cfg = nil
	s.sink = nil
	s.fwd = nil
	s.mu.Unlock()

	return abandoned
}

// forward moves chunks into sink in queue order until the queue closes or the
// epoch is abandoned.
func (s *Session) forward(sink Sink, queue <-chan []byte, fwd *forwarder) {
	defer close(fwd.done)
	for {
		select {
		case <-fwd.abandon:
			return
		case chunk, ok := <-queue:
			if !ok {
				return
			}
			select {
			case <-fwd.abandon:
				// Dequeued after the grace expired: count it as abandoned.
				s.dropped.Add(1)
				return
			default:
			}
			sink.Append(chunk)
			s.forwarded.Add(1)
			s.forwardedBytes.Add(int64(len(chunk)))
		}
	}
}
