package fsm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	stateIdle    State = "idle"
	stateRunning State = "running"
	stateDone    State = "done"

	eventStart Event = "start"
	eventStop  Event = "stop"
)

func buildSimple(t *testing.T) Machine {
	t.Helper()
	m, err := New(stateIdle, nil).
		AddTransition(Transition{From: []State{stateIdle}, Event: eventStart, To: stateRunning}).
		AddTransition(Transition{From: []State{stateRunning}, Event: eventStop, To: stateDone}).
		Build()
	require.NoError(t, err)
	return m
}

func TestMachine_StartsAtInitialState(t *testing.T) {
	m := buildSimple(t)
	assert.Equal(t, stateIdle, m.Current())
}

func TestMachine_FireAdvancesState(t *testing.T) {
	m := buildSimple(t)
	require.NoError(t, m.Fire(context.Background(), eventStart))
	assert.Equal(t, stateRunning, m.Current())
}

func TestMachine_FireRejectsIllegalEvent(t *testing.T) {
	m := buildSimple(t)
	err := m.Fire(context.Background(), eventStop)
	assert.Error(t, err)
	assert.Equal(t, stateIdle, m.Current())
}

func TestMachine_GuardCanVetoTransition(t *testing.T) {
	m, err := New(stateIdle, nil).
		AddTransition(Transition{
			From:  []State{stateIdle},
			Event: eventStart,
			To:    stateRunning,
			Guard: func(context.Context, State, Event) bool { return false },
		}).
		Build()
	require.NoError(t, err)

	err = m.Fire(context.Background(), eventStart)
	assert.Error(t, err)
	assert.Equal(t, stateIdle, m.Current())
}

func TestMachine_ActionRunsAfterTransition(t *testing.T) {
	var observedFrom State
	m, err := New(stateIdle, nil).
		AddTransition(Transition{
			From:  []State{stateIdle},
			Event: eventStart,
			To:    stateRunning,
			Action: func(_ context.Context, from State, _ Event) error {
				observedFrom = from
				return nil
			},
		}).
		Build()
	require.NoError(t, err)

	require.NoError(t, m.Fire(context.Background(), eventStart))
	assert.Equal(t, stateIdle, observedFrom)
}

func TestBuilder_RejectsConflictingDestinations(t *testing.T) {
	_, err := New(stateIdle, nil).
		AddTransition(Transition{From: []State{stateIdle}, Event: eventStart, To: stateRunning}).
		AddTransition(Transition{From: []State{stateRunning}, Event: eventStart, To: stateDone}).
		Build()
	assert.Error(t, err)
}
