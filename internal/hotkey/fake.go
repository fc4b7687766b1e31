package hotkey

import "sync/atomic"

// Fake is a Hotkey driven by tests.
type Fake struct {
	RegisterErr error

	keydown    chan struct{}
	registered atomic.Bool
}

func NewFake() *Fake {
	return &Fake{keydown: make(chan struct{}, 8)}
}

func (f *Fake) Register() error {
	if f.RegisterErr != nil {
		return f.RegisterErr
	}
	f.registered.Store(true)
	return nil
}

func (f *Fake) Unregister()              { f.registered.Store(false) }
func (f *Fake) Keydown() <-chan struct{} { return f.keydown }
func (f *Fake) Registered() bool         { return f.registered.Load() }
func (f *Fake) Press()                   { f.keydown <- struct{}{} }
