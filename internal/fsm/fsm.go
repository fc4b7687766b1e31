// Package fsm is the capture session's lifecycle table.
package fsm

import (
	"errors"
	"fmt"
)

type (
	State string
	Event string
)

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"

	EventStart  Event = "start"
	EventStop   Event = "stop"
	EventExport Event = "export"
)

var ErrInvalidTransition = errors.New("invalid transition")

// table lists every legal move. Export loops on recording.
var table = map[State]map[Event]State{
	StateIdle: {
		EventStart: StateRecording,
	},
	StateRecording: {
		EventStop:   StateIdle,
		EventExport: StateRecording,
	},
}

// Transition applies event to current. On error the returned state is current.
func Transition(current State, event Event) (State, error) {
	moves, known := table[current]
	if !known {
		return current, fmt.Errorf("unknown state %q", current)
	}
	next, ok := moves[event]
	if !ok {
		return current, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, current)
	}
	return next, nil
}

// Allowed reports whether event is legal in state.
func Allowed(state State, event Event) bool {
	_, err := Transition(state, event)
	return err == nil
}
