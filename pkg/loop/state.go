// SPDX-License-Identifier: Apache-2.0
package loop

// State is a Loop Controller state.
type State string

const (
	StateRunning          State = "RUNNING"
	StateAwaitingDecision State = "AWAITING_DECISION"
	StateExecutingAction  State = "EXECUTING_ACTION"
	StateCompleted        State = "COMPLETED"
	StateAborted          State = "ABORTED"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateAborted
}

// Status is the terminal status of a run.
type Status string

const (
	StatusCompleted     Status = "completed"
	StatusMaxIterations Status = "max_iterations_exceeded"
	StatusAborted       Status = "aborted"
)

// Abort reasons.
const (
	ReasonMaxIterations = "max_iterations"
	ReasonRepetition    = "repetition"
	ReasonCancelled     = "cancelled"
)

// validTransitions lists the allowed moves of the state machine.
var validTransitions = map[State][]State{
	StateRunning:          {StateAwaitingDecision, StateAborted},
	StateAwaitingDecision: {StateExecutingAction, StateCompleted, StateRunning, StateAborted},
	StateExecutingAction:  {StateRunning, StateAborted},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
