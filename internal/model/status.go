package model

import "fmt"

// State is the lifecycle state of a single conversion job.
type State string

const (
	StateWaiting   State = "waiting"
	StateReading   State = "reading"
	StateRunning   State = "running"
	StateWriting   State = "writing"
	StatePaused    State = "paused"
	StateFinished  State = "finished"
	StateError     State = "error"
	StateCancelled State = "cancelled"
)

var allowedTransitions = map[State]map[State]bool{
	StateWaiting: {
		StateReading:   true,
		StateRunning:   true,
		StateError:     true,
		StateCancelled: true,
	},
	StateReading: {
		StateRunning:   true,
		StateWriting:   true,
		StatePaused:    true,
		StateError:     true,
		StateCancelled: true,
	},
	StateRunning: {
		StateWriting:   true,
		StatePaused:    true,
		StateError:     true,
		StateCancelled: true,
	},
	StateWriting: {
		StatePaused:    true,
		StateFinished:  true,
		StateError:     true,
		StateCancelled: true,
	},
	StatePaused: {
		StateReading:   true,
		StateRunning:   true,
		StateWriting:   true,
		StateError:     true,
		StateCancelled: true,
	},
	StateFinished:  {},
	StateError:     {},
	StateCancelled: {},
}

func IsKnownState(s State) bool {
	_, ok := allowedTransitions[s]
	return ok
}

// IsTerminal reports whether no further transition is possible from s.
func (s State) IsTerminal() bool {
	return s == StateFinished || s == StateError || s == StateCancelled
}

func CanTransition(from, to State) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Transition moves snap to the given state, rejecting moves the lifecycle does not allow.
func Transition(snap *Snapshot, to State) error {
	from := snap.State
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid job state transition: %q -> %q (job_id=%s file=%s)", from, to, snap.JobID, snap.Filename)
	}
	snap.State = to
	return nil
}
