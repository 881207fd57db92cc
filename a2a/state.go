package a2a

import (
	"fmt"
	"sort"
)

// terminalStates are states from which no further transitions are allowed.
var terminalStates = map[TaskState]bool{
	TaskStateCompleted: true,
	TaskStateFailed:    true,
	TaskStateCanceled:  true,
}

// validTransitions defines the allowed state machine edges. No other
// edges exist.
var validTransitions = map[TaskState]map[TaskState]bool{
	TaskStateSubmitted: {
		TaskStateWorking:  true,
		TaskStateCanceled: true,
	},
	TaskStateWorking: {
		TaskStateCompleted:     true,
		TaskStateFailed:        true,
		TaskStateCanceled:      true,
		TaskStateInputRequired: true,
	},
	TaskStateInputRequired: {
		TaskStateWorking:  true,
		TaskStateCanceled: true,
	},
}

// IsTerminal reports whether state admits no further transitions.
func IsTerminal(state TaskState) bool {
	return terminalStates[state]
}

// IsValidTransition reports whether the edge from → to exists.
func IsValidTransition(from, to TaskState) bool {
	return validTransitions[from][to]
}

// InvalidTransitionError reports a rejected state transition together with
// the set of states reachable from From.
type InvalidTransitionError struct {
	From    TaskState
	To      TaskState
	Allowed []TaskState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("a2a: invalid transition %q → %q (allowed: %v)", e.From, e.To, e.Allowed)
}

// AssertTransition validates the edge from → to, returning an
// *InvalidTransitionError when the state machine forbids it.
func AssertTransition(from, to TaskState) error {
	if IsValidTransition(from, to) {
		return nil
	}
	return &InvalidTransitionError{From: from, To: to, Allowed: allowedFrom(from)}
}

// allowedFrom returns the states reachable from a given state, sorted for
// stable error messages.
func allowedFrom(from TaskState) []TaskState {
	var allowed []TaskState
	for to := range validTransitions[from] {
		allowed = append(allowed, to)
	}
	sort.Slice(allowed, func(i, j int) bool { return allowed[i] < allowed[j] })
	return allowed
}
