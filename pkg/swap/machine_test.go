package swap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStates = []State{
	StateIdle, StateRegisteringOrder, StateCheckingAllowance, StateApproving,
	StateAwaitingApproval, StateTransferring, StateAwaitingTransfer,
	StateSuccess, StateError, StateAmbiguous,
}

var allEvents = []Event{
	EventStart, EventOrderRegistered, EventAllowanceSufficient, EventAllowanceInsufficient,
	EventApprovalSubmitted, EventApprovalConfirmed, EventTransferSubmitted,
	EventTransferConfirmed, EventConfirmationTimedOut, EventFailed,
}

func TestTransition_HappyPathWithApproval(t *testing.T) {
	m := NewMachine()
	for _, e := range []Event{
		EventStart, EventOrderRegistered, EventAllowanceInsufficient,
		EventApprovalSubmitted, EventApprovalConfirmed,
		EventTransferSubmitted, EventTransferConfirmed,
	} {
		_, err := m.Fire(e)
		require.NoError(t, err, "event %s", e)
	}

	assert.Equal(t, StateSuccess, m.State())
	assert.Equal(t, []State{
		StateIdle, StateRegisteringOrder, StateCheckingAllowance, StateApproving,
		StateAwaitingApproval, StateTransferring, StateAwaitingTransfer, StateSuccess,
	}, m.Trace())
}

func TestTransition_SkipsApprovalWhenAllowanceSufficient(t *testing.T) {
	next, err := Transition(StateCheckingAllowance, EventAllowanceSufficient)
	require.NoError(t, err)
	assert.Equal(t, StateTransferring, next)
}

func TestTransition_TimeoutIsAmbiguous(t *testing.T) {
	for _, s := range []State{StateAwaitingApproval, StateAwaitingTransfer} {
		next, err := Transition(s, EventConfirmationTimedOut)
		require.NoError(t, err)
		assert.Equal(t, StateAmbiguous, next)
	}
}

func TestTransition_FailureFromEveryActiveState(t *testing.T) {
	for _, s := range allStates {
		if s.Terminal() {
			continue
		}
		next, err := Transition(s, EventFailed)
		require.NoError(t, err, "state %s", s)
		assert.Equal(t, StateError, next)
	}
}

func TestTransition_TerminalStatesAcceptNothing(t *testing.T) {
	for _, s := range allStates {
		if !s.Terminal() {
			continue
		}
		for _, e := range allEvents {
			next, err := Transition(s, e)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, s, next)
		}
	}
}

func TestTransition_NoPathBackwards(t *testing.T) {
	order := map[State]int{}
	for i, s := range allStates {
		order[s] = i
	}
	for _, s := range allStates {
		for _, e := range allEvents {
			next, err := Transition(s, e)
			if err != nil {
				continue
			}
			assert.Greater(t, order[next], order[s], "%s --%s--> %s", s, e, next)
		}
	}
}

func TestMachine_InvalidEventKeepsState(t *testing.T) {
	m := NewMachine()
	_, err := m.Fire(EventTransferConfirmed)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, []State{StateIdle}, m.Trace())
}
