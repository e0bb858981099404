package session

import (
	"errors"
	"fmt"
)

// State is the lifecycle phase of a session.
type State string

const (
	StatePending  State = "pending"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// ErrNotFound is returned when a session ID has no record.
var ErrNotFound = errors.New("session not found")

// InvalidTransitionError reports a lifecycle move the state machine forbids.
type InvalidTransitionError struct {
	ID   string
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("session %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

// legalTransitions enumerates every permitted edge. Terminal states
// (stopped, failed) have no outgoing edges.
var legalTransitions = map[State][]State{
	StatePending:  {StateStarting, StateFailed},
	StateStarting: {StateRunning, StateFailed},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
}

func canTransition(from, to State) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func IsTerminal(s State) bool {
	return s == StateStopped || s == StateFailed
}
