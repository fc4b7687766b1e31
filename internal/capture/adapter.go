package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Source is an external audio stream that delivers raw PCM chunks on a
// context of its choosing.
type Source interface {
	Subscribe(ctx context.Context, cfg Config, onChunk func([]byte)) (Subscription, error)
}

// Subscription is a live Source registration.
type Subscription interface {
	Unsubscribe() error
}

// Adapter turns Source deliveries into ordered Ingest calls.
type Adapter struct {
	source Source

	// deliverMu serializes callbacks so concurrent deliveries reach ingest
	// one at a time in the order they acquired the lock.
	deliverMu sync.Mutex
	delivered atomic.Int64
}

// NewAdapter wraps source. A nil source yields a nil adapter.
func NewAdapter(source Source) *Adapter {
	if source == nil {
		return nil
	}
	return &Adapter{source: source}
}

// Delivered reports how many chunks the source has handed over.
func (a *Adapter) Delivered() int64 {
	return a.delivered.Load()
}

// Subscribe registers ingest with the source. Every chunk delivered while the
// subscription is live results in exactly one ingest call.
func (a *Adapter) Subscribe(ctx context.Context, cfg Config, ingest func([]byte)) (Subscription, error) {
	sub, err := a.source.Subscribe(ctx, cfg, func(chunk []byte) {
		a.deliverMu.Lock()
		defer a.deliverMu.Unlock()
		a.delivered.Add(1)
		ingest(chunk)
	})
	if err != nil {
		if errors.Is(err, ErrSourceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if sub == nil {
		return nil, fmt.Errorf("%w: source returned no subscription", ErrSourceUnavailable)
	}
	return sub, nil
}
