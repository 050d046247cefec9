package domain

import (
	"fmt"

	"github.com/approveflow/backend/pkg/constants"
)

// InstanceState represents the lifecycle state of an approval instance
type InstanceState string

const (
	// StateDraft is an instance saved before submission; no flow selected yet
	StateDraft InstanceState = constants.InstanceStatusDraft
	// StatePending is an instance with open tasks somewhere in its flow
	StatePending InstanceState = constants.InstanceStatusPending
	// StateApproved means the flow reached its end with every node satisfied
	StateApproved InstanceState = constants.InstanceStatusApproved
	// StateRejected means a rejection with reject-to START ended the instance
	StateRejected InstanceState = constants.InstanceStatusRejected
	// StateWithdrawn means the initiator pulled the request back
	StateWithdrawn InstanceState = constants.InstanceStatusWithdrawn
	// StateTerminated means an administrator ended the instance
	StateTerminated InstanceState = constants.InstanceStatusTerminated
)

// InstanceTransition represents an operation that can change instance state
type InstanceTransition string

const (
	TransitionSubmit    InstanceTransition = "Submit"
	TransitionApprove   InstanceTransition = "Approve"
	TransitionReject    InstanceTransition = "Reject"
	TransitionWithdraw  InstanceTransition = "Withdraw"
	TransitionTerminate InstanceTransition = "Terminate"
)

// InstanceStateMachine enforces valid lifecycle transitions for approval
// instances. Invalid transitions return an error (fail-fast); the four
// terminal states are absorbing.
type InstanceStateMachine struct {
	// transitions maps (current state, transition) -> next state
	transitions map[stateTransitionKey]InstanceState
}

type stateTransitionKey struct {
	state      InstanceState
	transition InstanceTransition
}

// NewInstanceStateMachine creates the state machine with the instance
// lifecycle rules.
// State diagram:
//
//	[Draft] ──Submit──► [Pending] ──Approve──► [Approved]
//	                       │  │ \
//	                  Reject  │  Withdraw──► [Withdrawn]
//	                       │  Terminate──► [Terminated]
//	                       ▼
//	                  [Rejected]
//
//	Terminate is also valid from Draft (administrative override on any
//	non-terminal state).
func NewInstanceStateMachine() *InstanceStateMachine {
	sm := &InstanceStateMachine{
		transitions: make(map[stateTransitionKey]InstanceState),
	}

	sm.addTransition(StateDraft, TransitionSubmit, StatePending)
	sm.addTransition(StateDraft, TransitionTerminate, StateTerminated)
	sm.addTransition(StatePending, TransitionApprove, StateApproved)
	sm.addTransition(StatePending, TransitionReject, StateRejected)
	sm.addTransition(StatePending, TransitionWithdraw, StateWithdrawn)
	sm.addTransition(StatePending, TransitionTerminate, StateTerminated)

	return sm
}

func (sm *InstanceStateMachine) addTransition(from InstanceState, via InstanceTransition, to InstanceState) {
	key := stateTransitionKey{state: from, transition: via}
	sm.transitions[key] = to
}

// Transition attempts to transition from the current state using the given
// operation. Returns the new state or an error if the transition is invalid.
func (sm *InstanceStateMachine) Transition(current InstanceState, action InstanceTransition) (InstanceState, error) {
	key := stateTransitionKey{state: current, transition: action}
	next, ok := sm.transitions[key]
	if !ok {
		return current, fmt.Errorf("invalid state transition: cannot %s from %s", action, current)
	}
	return next, nil
}

// CanTransition checks if a transition is valid without performing it.
func (sm *InstanceStateMachine) CanTransition(current InstanceState, action InstanceTransition) bool {
	key := stateTransitionKey{state: current, transition: action}
	_, ok := sm.transitions[key]
	return ok
}

// ValidTransitions returns all valid transitions from the given state.
func (sm *InstanceStateMachine) ValidTransitions(state InstanceState) []InstanceTransition {
	var result []InstanceTransition
	for key := range sm.transitions {
		if key.state == state {
			result = append(result, key.transition)
		}
	}
	return result
}

// IsTerminal returns true if the state is absorbing (no further transitions).
func (sm *InstanceStateMachine) IsTerminal(state InstanceState) bool {
	switch state {
	case StateApproved, StateRejected, StateWithdrawn, StateTerminated:
		return true
	}
	return false
}
