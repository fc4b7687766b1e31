// Package hotkey delivers global Ctrl+Shift+H presses as trigger events.
package hotkey

// Combo is the human-readable trigger chord.
const Combo = "Ctrl+Shift+H"

// Hotkey is a registered global key chord.
type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
}

// signal performs a non-blocking send; a pending unread press absorbs repeats.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
