package job

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of a job. The numeric values are persisted.
type State int

const (
	StateQueued State = iota
	StateDequeued
	StateRunning
	StateDone
	StateCanceled
)

var AllStates = []State{
	StateQueued,
	StateDequeued,
	StateRunning,
	StateDone,
	StateCanceled,
}

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateDequeued:
		return "dequeued"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	return s >= StateQueued && s <= StateCanceled
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateCanceled
}

// ParseState accepts the String() form, case-insensitive.
func ParseState(raw string) (State, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	for _, s := range AllStates {
		if s.String() == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown job state %q", raw)
}

type Transition struct {
	From State
	To   State
}

// Transitions lists every edge of the state machine.
// Dequeued -> Queued is only taken by an unresolved lease on release.
var Transitions = []Transition{
	{From: StateQueued, To: StateDequeued},
	{From: StateDequeued, To: StateRunning},
	{From: StateDequeued, To: StateCanceled},
	{From: StateDequeued, To: StateQueued},
	{From: StateRunning, To: StateDone},
}

func CanTransition(from, to State) bool {
	for _, t := range Transitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}
