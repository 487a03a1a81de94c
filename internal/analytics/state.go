package analytics

import (
	"log/slog"
	"slices"
)

// State is a step of a query's lifecycle.
type State string

const (
	StateReceived     State = "received"
	StateValidated    State = "validated"
	StateCacheChecked State = "cache_checked"
	StateCacheHit     State = "cache_hit"
	StateExecuting    State = "executing"
	StateFormatted    State = "formatted"
	StateDone         State = "done"
	StateErrored      State = "errored"
)

// transitions lists the states reachable from each state. Done and Errored are terminal.
var transitions = map[State][]State{
	StateReceived:     {StateValidated, StateErrored},
	StateValidated:    {StateCacheChecked, StateErrored},
	StateCacheChecked: {StateCacheHit, StateExecuting},
	StateCacheHit:     {StateFormatted, StateErrored},
	StateExecuting:    {StateFormatted, StateErrored},
	StateFormatted:    {StateDone},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// IsTerminal reports whether no step leaves s.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateErrored
}

// trace records the path one query takes through the handler.
type trace struct {
	id     string
	states []State
	logger *slog.Logger
}

func newTrace(id string, logger *slog.Logger) *trace {
	return &trace{id: id, states: []State{StateReceived}, logger: logger}
}

func (t *trace) current() State {
	return t.states[len(t.states)-1]
}

// to moves to next. An illegal step is a programming error; it is logged and recorded anyway
// so the trace shows what happened.
func (t *trace) to(next State) {
	cur := t.current()
	if !CanTransition(cur, next) {
		t.logger.Error("Illegal query state transition",
			slog.String("query", t.id),
			slog.String("from", string(cur)),
			slog.String("to", string(next)))
	}
	t.states = append(t.states, next)
	t.logger.Debug("Query state changed",
		slog.String("query", t.id),
		slog.String("from", string(cur)),
		slog.String("to", string(next)))
}

func (t *trace) fail(err error) error {
	t.to(StateErrored)
	return err
}

func (t *trace) path() []State {
	return slices.Clone(t.states)
}
