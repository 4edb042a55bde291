package orchestrator

// State is the lifecycle position of a job.
type State string

const (
	StatePending         State = "pending"
	StateBackendSelected State = "backend_selected"
	StateRunning         State = "running"
	StateFailedFallback  State = "failed_fallback"
	StateSucceeded       State = "succeeded"
	StateFailed          State = "failed"
	StateCancelled       State = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StatePending:         {StateBackendSelected, StateFailed, StateCancelled},
	StateBackendSelected: {StateRunning, StateCancelled},
	StateRunning:         {StateSucceeded, StateFailedFallback, StateFailed, StateCancelled},
	StateFailedFallback:  {StateRunning},
}

// CanTransition reports whether moving from s to next is allowed.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
