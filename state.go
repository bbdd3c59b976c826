package keeper

import "github.com/lancer-kit/keeper/sm"

const (
	StateStopped    sm.State = "Stopped"
	StateStarting   sm.State = "Starting"
	StateRunning    sm.State = "Running"
	StateStopping   sm.State = "Stopping"
	StateCrashed    sm.State = "Crashed"
	StateRestarting sm.State = "Restarting"
	StateFailed     sm.State = "Failed"
)

// newSupervisorSM returns filled state machine of the worker lifecycle
//
//	Stopped    -> Starting
//	Starting   -> Running | Stopped
//	Running    -> Stopping | Crashed
//	Stopping   -> Stopped | Failed
//	Crashed    -> Restarting | Failed | Stopping
//	Restarting -> Running | Crashed | Stopping
//	Failed is terminal.
func newSupervisorSM() *sm.StateMachine {
	m := sm.NewStateMachine()
	_ = m.AddTransitions(StateStopped, StateStarting)
	_ = m.AddTransitions(StateStarting, StateRunning, StateStopped)
	_ = m.AddTransitions(StateRunning, StateStopping, StateCrashed)
	_ = m.AddTransitions(StateStopping, StateStopped, StateFailed)
	_ = m.AddTransitions(StateCrashed, StateRestarting, StateFailed, StateStopping)
	_ = m.AddTransitions(StateRestarting, StateRunning, StateCrashed, StateStopping)
	m.SetState(StateStopped)
	return m
}

// isActive reports whether a worker handle may exist in the `state`.
func isActive(state sm.State) bool {
	switch state {
	case StateStopped, StateFailed:
		return false
	}
	return true
}
