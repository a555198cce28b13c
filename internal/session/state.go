package session

import "fmt"

// State is the lifecycle position of a validation session
type State string

const (
	StateCreated     State = "created"
	StateDispatching State = "dispatching"
	StateAggregating State = "aggregating"
	StateCompleted   State = "completed"
	StateAborted     State = "aborted"
)

var allowedTransitions = map[State]map[State]struct{}{
	StateCreated: {
		StateDispatching: {},
		StateAborted:     {},
	},
	StateDispatching: {
		StateAggregating: {},
		StateAborted:     {},
	},
	StateAggregating: {
		StateCompleted: {},
		StateAborted:   {},
	},
	StateCompleted: {},
	StateAborted:   {},
}

// Terminal reports whether no transition leaves s
func (s State) Terminal() bool {
	next, ok := allowedTransitions[s]
	return ok && len(next) == 0
}

// ValidateTransition fails for unknown states and for moves the lifecycle
// does not allow.
func ValidateTransition(from, to State) error {
	if _, ok := allowedTransitions[from]; !ok {
		return fmt.Errorf("invalid session state: %q", from)
	}
	if _, ok := allowedTransitions[to]; !ok {
		return fmt.Errorf("invalid session state: %q", to)
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("invalid session transition: %s -> %s", from, to)
	}
	return nil
}
