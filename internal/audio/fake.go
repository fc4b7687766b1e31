package audio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rbright/hotcap/internal/capture"
)

// ErrFakeSourceBusy is returned when a FakeSource already has a live subscription.
var ErrFakeSourceBusy = errors.New("fake source already subscribed")

// FakeSource replays fixed chunks in order. With a zero Interval every chunk
// is delivered before Subscribe returns; otherwise chunks are paced on a
// goroutine until exhausted or unsubscribed.
type FakeSource struct {
	Chunks   [][]byte
	Interval time.Duration

	mu     sync.Mutex
	active *fakeSubscription
}

// Subscribe starts a replay of Chunks.
func (f *FakeSource) Subscribe(ctx context.Context, _ capture.Config, onChunk func([]byte)) (capture.Subscription, error) {
	f.mu.Lock()
	if f.active != nil {
		f.mu.Unlock()
		return nil, ErrFakeSourceBusy
	}
	sub := &fakeSubscription{owner: f, stopCh: make(chan struct{}), done: make(chan struct{})}
	f.active = sub
	f.mu.Unlock()

	if f.Interval <= 0 {
		for _, chunk := range f.Chunks {
			onChunk(chunk)
		}
		close(sub.done)
		return sub, nil
	}

	go func() {
		defer close(sub.done)
		ticker := time.NewTicker(f.Interval)
		defer ticker.Stop()
		for _, chunk := range f.Chunks {
			select {
			case <-ctx.Done():
				return
			case <-sub.stopCh:
				return
			case <-ticker.C:
			}
			onChunk(chunk)
		}
	}()
	return sub, nil
}

// Done is closed once the active replay has delivered every chunk or stopped.
func (f *FakeSource) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return f.active.done
}

type fakeSubscription struct {
	owner  *FakeSource
	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *fakeSubscription) Unsubscribe() error {
	s.once.Do(func() {
		close(s.stopCh)
		<-s.done
		s.owner.mu.Lock()
		if s.owner.active == s {
			s.owner.active = nil
		}
		s.owner.mu.Unlock()
	})
	return nil
}
