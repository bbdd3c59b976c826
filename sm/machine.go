package sm

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

type State string

// ErrStateNotFound is returned when a transition targets an unregistered state.
var ErrStateNotFound = errors.New("state not found")

// TransitionError describes a move that is not declared in the transition table.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %v --> %v", e.From, e.To)
}

// Hook is called after every successful transition.
type Hook func(from, to State)

type stateObj struct {
	to   map[State]struct{}
	from map[State]struct{}
}

// StateMachine is a table of allowed transitions plus the current state.
// It is not safe for concurrent use; callers guard it with their own lock.
type StateMachine struct {
	current State
	prev    State
	states  map[State]*stateObj
	hooks   []Hook
}

func NewStateMachine() *StateMachine {
	return &StateMachine{states: map[State]*stateObj{}}
}

func (sm *StateMachine) State() State {
	return sm.current
}

// Prev returns the state the machine was in before the last transition.
func (sm *StateMachine) Prev() State {
	return sm.prev
}

// SetState forces the current state, bypassing the transition table and hooks.
func (sm *StateMachine) SetState(state State) {
	sm.getState(state)
	sm.prev = sm.current
	sm.current = state
}

// OnTransition registers a hook fired after each successful GoTo.
func (sm *StateMachine) OnTransition(hook Hook) {
	sm.hooks = append(sm.hooks, hook)
}

func (sm *StateMachine) getState(name State) *stateObj {
	state, ok := sm.states[name]
	if !ok {
		state = &stateObj{
			to:   map[State]struct{}{},
			from: map[State]struct{}{},
		}
		sm.states[name] = state
	}
	return state
}

func (sm *StateMachine) AddTransitions(from State, to ...State) error {
	for _, name := range to {
		if err := sm.AddTransition(from, name); err != nil {
			return err
		}
	}
	return nil
}

func (sm *StateMachine) AddTransition(from, to State) error {
	if from == to {
		return &TransitionError{From: from, To: to}
	}

	sm.getState(from).to[to] = struct{}{}
	sm.getState(to).from[from] = struct{}{}
	return nil
}

// CanGoTo reports whether the transition from the current state to `to` is declared.
func (sm *StateMachine) CanGoTo(to State) bool {
	state, ok := sm.states[sm.current]
	if !ok {
		return false
	}
	_, ok = state.to[to]
	return ok
}

// GoTo moves the machine into the `to` state. Staying in the current state is a no-op.
func (sm *StateMachine) GoTo(to State) error {
	if _, ok := sm.states[to]; !ok {
		return errors.Wrap(ErrStateNotFound, string(to))
	}
	if sm.current == to {
		return nil
	}
	if !sm.CanGoTo(to) {
		return &TransitionError{From: sm.current, To: to}
	}

	from := sm.current
	sm.prev = from
	sm.current = to
	for _, hook := range sm.hooks {
		hook(from, to)
	}
	return nil
}

// Targets lists the states reachable from `from` in one step, sorted by name.
func (sm *StateMachine) Targets(from State) []State {
	state, ok := sm.states[from]
	if !ok {
		return nil
	}

	res := make([]State, 0, len(state.to))
	for to := range state.to {
		res = append(res, to)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// IsTerminal reports whether no transition leaves the `state`.
func (sm *StateMachine) IsTerminal(state State) bool {
	return len(sm.Targets(state)) == 0
}
