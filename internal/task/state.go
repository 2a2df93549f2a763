package task

import "fmt"

// State is the lifecycle state of a task as seen by the supervisor.
//
//	Unknown -> Running <-> Sleeping
//	Running/Sleeping <-> OnStrike
//	any non-terminal -> Finished | Canceled
type State int

const (
	StateUnknown State = iota
	StateRunning
	StateSleeping
	StateOnStrike
	StateFinished
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "???"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateOnStrike:
		return "Strike!"
	case StateFinished:
		return "Finished"
	case StateCanceled:
		return "Canceled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition is admitted.
func (s State) Terminal() bool {
	switch s {
	case StateFinished, StateCanceled:
		return true
	case StateUnknown, StateRunning, StateSleeping, StateOnStrike:
		return false
	default:
		return false
	}
}

func (s State) MarshalText() ([]byte, error) {
	switch s {
	case StateUnknown:
		return []byte("unknown"), nil
	case StateRunning:
		return []byte("running"), nil
	case StateSleeping:
		return []byte("sleeping"), nil
	case StateOnStrike:
		return []byte("on_strike"), nil
	case StateFinished:
		return []byte("finished"), nil
	case StateCanceled:
		return []byte("canceled"), nil
	default:
		return nil, fmt.Errorf("unsupported task state %d", int(s))
	}
}

// States lists every state in lifecycle order.
func States() []State {
	return []State{StateUnknown, StateRunning, StateSleeping, StateOnStrike, StateFinished, StateCanceled}
}
