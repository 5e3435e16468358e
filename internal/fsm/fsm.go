// Package fsm provides a small generic wrapper around looplab/fsm,
// expressed in terms of typed states/events instead of bare strings,
// with per-transition guards and actions. internal/connection builds
// the varlink connection state machine (Idle/CallInProgress/Streaming)
// on top of this package.
package fsm

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	lfsm "github.com/looplab/fsm"

	"github.com/varlink/govarlink/internal/logging"
)

// State names a machine state.
type State string

// Event names a trigger that may move the machine from one state to
// another.
type Event string

// Action runs when a transition completes, after the state has changed.
type Action func(ctx context.Context, from State, event Event) error

// Guard runs before a transition is allowed and may veto it by
// returning false.
type Guard func(ctx context.Context, from State, event Event) bool

// Transition declares that, from any of From, Event moves the machine
// to To, subject to an optional Guard and followed by an optional
// Action.
type Transition struct {
	From   []State
	Event  Event
	To     State
	Guard  Guard
	Action Action
}

// Machine is a built, runnable state machine.
type Machine interface {
	// Current returns the machine's current state.
	Current() State
	// Can reports whether event is legal from the current state.
	Can(event Event) bool
	// Fire attempts to trigger event, running its guard and then its
	// action. An error leaves the machine in its prior state.
	Fire(ctx context.Context, event Event) error
}

// Builder accumulates Transitions before Build produces a Machine.
type Builder struct {
	initial     State
	logger      logging.Logger
	transitions []Transition
}

// New returns a Builder with the machine's initial state and a logger
// used for transition diagnostics (nil defaults to a no-op logger).
func New(initial State, logger logging.Logger) *Builder {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	return &Builder{initial: initial, logger: logger.WithField("component", "fsm")}
}

// AddTransition appends a transition rule. Returns the Builder so calls
// can be chained.
func (b *Builder) AddTransition(t Transition) *Builder {
	b.transitions = append(b.transitions, t)
	return b
}

// Build finalizes the machine. Every transition sharing an event name
// is merged into one looplab/fsm EventDesc; per-transition guards and
// actions are resolved at fire time by matching the observed source
// state, since looplab's own callbacks are keyed only by event/state
// name, not by our richer Transition value.
func (b *Builder) Build() (Machine, error) {
	byEvent := make(map[Event][]Transition)
	for _, t := range b.transitions {
		if len(t.From) == 0 {
			return nil, errors.Newf("fsm: transition for event %q has no source states", t.Event)
		}
		byEvent[t.Event] = append(byEvent[t.Event], t)
	}

	events := make([]lfsm.EventDesc, 0, len(byEvent))
	for event, group := range byEvent {
		dst := group[0].To
		var src []string
		for _, t := range group {
			if t.To != dst {
				return nil, errors.Newf("fsm: event %q has conflicting destinations %q and %q", event, dst, t.To)
			}
			for _, s := range t.From {
				src = append(src, string(s))
			}
		}
		events = append(events, lfsm.EventDesc{Name: string(event), Src: src, Dst: string(dst)})
	}

	m := &machine{logger: b.logger, byEvent: byEvent}
	callbacks := lfsm.Callbacks{
		"before_event": func(ctx context.Context, e *lfsm.Event) {
			m.runGuard(ctx, e)
		},
		"after_event": func(ctx context.Context, e *lfsm.Event) {
			m.runAction(ctx, e)
		},
	}
	m.inner = lfsm.NewFSM(string(b.initial), events, callbacks)
	return m, nil
}

type machine struct {
	mu      sync.Mutex
	inner   *lfsm.FSM
	byEvent map[Event][]Transition
	logger  logging.Logger
}

// findTransition returns the stored Transition matching e's event name
// and observed source state.
func (m *machine) findTransition(e *lfsm.Event) (Transition, bool) {
	for _, t := range m.byEvent[Event(e.Event)] {
		for _, s := range t.From {
			if string(s) == e.Src {
				return t, true
			}
		}
	}
	return Transition{}, false
}

func (m *machine) runGuard(ctx context.Context, e *lfsm.Event) {
	t, ok := m.findTransition(e)
	if !ok || t.Guard == nil {
		return
	}
	if !t.Guard(ctx, State(e.Src), Event(e.Event)) {
		e.Cancel(errors.Newf("fsm: guard rejected event %q from state %q", e.Event, e.Src))
	}
}

func (m *machine) runAction(ctx context.Context, e *lfsm.Event) {
	t, ok := m.findTransition(e)
	if !ok || t.Action == nil {
		return
	}
	if err := t.Action(ctx, State(e.Src), Event(e.Event)); err != nil {
		m.logger.Error("fsm transition action failed", "event", e.Event, "from", e.Src, "to", e.Dst, "error", err)
	}
}

func (m *machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State(m.inner.Current())
}

func (m *machine) Can(event Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inner.Can(string(event))
}

func (m *machine) Fire(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.inner.Event(ctx, string(event)); err != nil {
		// looplab reports a declared transition whose source and
		// destination are the same state as NoTransitionError; that is a
		// successful transition here.
		var noTransition lfsm.NoTransitionError
		if errors.As(err, &noTransition) && noTransition.Err == nil {
			return nil
		}
		return errors.Wrapf(err, "fsm: event %q rejected from state %q", event, m.inner.Current())
	}
	return nil
}
