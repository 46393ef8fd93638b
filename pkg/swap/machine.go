package swap

import (
	"errors"
	"fmt"
)

// State is a step of the swap state machine
type State string

const (
	StateIdle              State = "idle"
	StateRegisteringOrder  State = "registering_order"
	StateCheckingAllowance State = "checking_allowance"
	StateApproving         State = "approving"
	StateAwaitingApproval  State = "awaiting_approval"
	StateTransferring      State = "transferring"
	StateAwaitingTransfer  State = "awaiting_transfer"
	StateSuccess           State = "success"
	StateError             State = "error"
	StateAmbiguous         State = "ambiguous"
)

// Terminal reports whether the attempt is over
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateError || s == StateAmbiguous
}

// Event is the result of the component invoked for the current state
type Event string

const (
	EventStart                 Event = "start"
	EventOrderRegistered       Event = "order_registered"
	EventAllowanceSufficient   Event = "allowance_sufficient"
	EventAllowanceInsufficient Event = "allowance_insufficient"
	EventApprovalSubmitted     Event = "approval_submitted"
	EventApprovalConfirmed     Event = "approval_confirmed"
	EventTransferSubmitted     Event = "transfer_submitted"
	EventTransferConfirmed     Event = "transfer_confirmed"
	EventConfirmationTimedOut  Event = "confirmation_timed_out"
	EventFailed                Event = "failed"
)

// ErrInvalidTransition is returned for any (state, event) pair outside the table
var ErrInvalidTransition = errors.New("invalid state transition")

type edge struct {
	from  State
	event Event
}

var transitions = map[edge]State{
	{StateIdle, EventStart}:                               StateRegisteringOrder,
	{StateRegisteringOrder, EventOrderRegistered}:         StateCheckingAllowance,
	{StateCheckingAllowance, EventAllowanceSufficient}:    StateTransferring,
	{StateCheckingAllowance, EventAllowanceInsufficient}:  StateApproving,
	{StateApproving, EventApprovalSubmitted}:              StateAwaitingApproval,
	{StateAwaitingApproval, EventApprovalConfirmed}:       StateTransferring,
	{StateAwaitingApproval, EventConfirmationTimedOut}:    StateAmbiguous,
	{StateTransferring, EventTransferSubmitted}:           StateAwaitingTransfer,
	{StateAwaitingTransfer, EventTransferConfirmed}:       StateSuccess,
	{StateAwaitingTransfer, EventConfirmationTimedOut}:    StateAmbiguous,
	{StateIdle, EventFailed}:                              StateError,
	{StateRegisteringOrder, EventFailed}:                  StateError,
	{StateCheckingAllowance, EventFailed}:                 StateError,
	{StateApproving, EventFailed}:                         StateError,
	{StateAwaitingApproval, EventFailed}:                  StateError,
	{StateTransferring, EventFailed}:                      StateError,
	{StateAwaitingTransfer, EventFailed}:                  StateError,
}

// Transition returns the state that follows s on event e.
// It has no side effects.
func Transition(s State, e Event) (State, error) {
	next, ok := transitions[edge{s, e}]
	if !ok {
		return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, s)
	}
	return next, nil
}

// Machine holds the state of a single attempt.
// It is owned by one goroutine and is not safe for concurrent use.
type Machine struct {
	state State
	trace []State
}

// NewMachine returns a machine in the idle state
func NewMachine() *Machine {
	return &Machine{state: StateIdle, trace: []State{StateIdle}}
}

// State returns the current state
func (m *Machine) State() State {
	return m.state
}

// Trace returns every state visited so far, in order
func (m *Machine) Trace() []State {
	out := make([]State, len(m.trace))
	copy(out, m.trace)
	return out
}

// Fire applies an event and returns the new state
func (m *Machine) Fire(e Event) (State, error) {
	next, err := Transition(m.state, e)
	if err != nil {
		return m.state, err
	}
	m.state = next
	m.trace = append(m.trace, next)
	return next, nil
}
