// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"fmt"
	"sync"
)

// =============================================================================
// RUN STATE
// =============================================================================

// RunState identifies a phase of one refinement run.
type RunState string

const (
	// StateGenerating requests a new operation set from the generator.
	StateGenerating RunState = "GENERATING"

	// StateValidating checks the synthesized change set against policy.
	StateValidating RunState = "VALIDATING"

	// StateApplying writes the change set to the work tree.
	StateApplying RunState = "APPLYING"

	// StateVerifying runs the external check command.
	StateVerifying RunState = "VERIFYING"

	// StateRetrying waits out the inter-attempt delay before the next
	// generation attempt.
	StateRetrying RunState = "RETRYING"

	// StateSucceeded is terminal: the change set is applied and verified.
	StateSucceeded RunState = "SUCCEEDED"

	// StateFailed is terminal: the run ended without a verified change.
	StateFailed RunState = "FAILED"
)

// String returns the state name.
func (s RunState) String() string {
	return string(s)
}

// IsTerminal returns true when no further transitions are possible.
func (s RunState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// IsActive returns true for states that still advance the run.
func (s RunState) IsActive() bool {
	switch s {
	case StateGenerating, StateValidating, StateApplying, StateVerifying, StateRetrying:
		return true
	default:
		return false
	}
}

// AllStates returns every run state in pipeline order.
func AllStates() []RunState {
	return []RunState{
		StateGenerating,
		StateValidating,
		StateApplying,
		StateVerifying,
		StateRetrying,
		StateSucceeded,
		StateFailed,
	}
}

// =============================================================================
// STATE MACHINE
// =============================================================================

// StateHolder is anything carrying a run state the machine may advance.
type StateHolder interface {
	GetState() RunState
	SetState(RunState)
}

// StateMachine validates and applies run state transitions.
//
// Thread Safety: safe for concurrent use. Transition serializes
// check-and-set, so two callers cannot both advance the same holder
// through one transition.
type StateMachine struct {
	mu          sync.RWMutex
	transitions map[RunState]map[RunState]string
}

// NewStateMachine builds the transition table.
//
// A failed apply is an environment problem, so APPLYING has no path
// back into the retry loop. Every active state may end in FAILED, for
// budget exhaustion or cancellation.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		transitions: map[RunState]map[RunState]string{
			StateGenerating: {
				StateValidating: "operation set parsed and synthesized",
				StateRetrying:   "generation failed, attempts remain",
				StateFailed:     "generation failed fatally",
			},
			StateValidating: {
				StateApplying: "change set passed policy checks",
				StateRetrying: "policy violations, attempts remain",
				StateFailed:   "policy violations, attempt budget exhausted",
			},
			StateApplying: {
				StateVerifying: "change set written to the work tree",
				StateFailed:    "write failed, work tree rolled back",
			},
			StateVerifying: {
				StateSucceeded: "check command passed",
				StateRetrying:  "check command still failing, attempts remain",
				StateFailed:    "check command still failing, attempt budget exhausted",
			},
			StateRetrying: {
				StateGenerating: "starting next attempt",
				StateFailed:     "cancelled while waiting to retry",
			},
			StateSucceeded: {},
			StateFailed:    {},
		},
	}
}

// CanTransition reports whether from -> to is allowed.
func (m *StateMachine) CanTransition(from, to RunState) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.transitions[from][to]
	return ok
}

// Transition advances the holder to the target state.
//
// The check and the state change happen under one lock. On an invalid
// transition the holder's state is left unchanged and the returned
// error wraps ErrInvalidTransition.
func (m *StateMachine) Transition(holder StateHolder, to RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := holder.GetState()
	if _, ok := m.transitions[from][to]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	holder.SetState(to)
	return nil
}

// ValidTransitionsFrom returns the states reachable from the given
// state, in pipeline order.
func (m *StateMachine) ValidTransitionsFrom(from RunState) []RunState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []RunState
	for _, to := range AllStates() {
		if _, ok := m.transitions[from][to]; ok {
			out = append(out, to)
		}
	}
	return out
}

// TransitionReason returns the documented reason for a transition, or
// "" when the transition is not allowed.
func (m *StateMachine) TransitionReason(from, to RunState) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transitions[from][to]
}

// DefaultStateMachine is the shared transition table. The table is
// immutable after construction, so sharing it is safe.
var DefaultStateMachine = NewStateMachine()

// CanTransition reports whether from -> to is allowed by the default
// state machine.
func CanTransition(from, to RunState) bool {
	return DefaultStateMachine.CanTransition(from, to)
}

// Transition advances the holder using the default state machine.
func Transition(holder StateHolder, to RunState) error {
	return DefaultStateMachine.Transition(holder, to)
}
