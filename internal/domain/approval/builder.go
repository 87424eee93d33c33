package approval

import (
	"context"
	"fmt"
)

// GuardFunc is a function that evaluates whether a transition should be allowed
type GuardFunc func(ctx context.Context) bool

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder interface {
	// Configure returns a state configuration for the given state
	Configure(state State) StateConfiguration

	// Build creates a new state machine instance with the given initial state
	Build(initialState State) StateMachine
}

// StateConfiguration configures transitions for a specific state
type StateConfiguration interface {
	// Permit allows a trigger to transition to the target state
	Permit(trigger Trigger, toState State) StateConfiguration

	// PermitIf allows a trigger to transition to the target state if the guard passes
	PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration
}

// transitionRule is one permitted edge with an optional guard
type transitionRule struct {
	target State
	guard  GuardFunc
}

// stateRules holds the permitted transitions out of one state
type stateRules struct {
	rules map[Trigger][]transitionRule
}

type machineBuilder struct {
	states map[State]*stateRules
}

type stateMachine struct {
	current State
	states  map[State]*stateRules
}

// NewBuilder creates a new state machine builder
func NewBuilder() StateMachineBuilder {
	return &machineBuilder{
		states: make(map[State]*stateRules),
	}
}

// Configure returns a state configuration for the given state
func (b *machineBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}

	sr, exists := b.states[state]
	if !exists {
		sr = &stateRules{rules: make(map[Trigger][]transitionRule)}
		b.states[state] = sr
	}

	return sr
}

// Build creates a new state machine instance with the given initial state.
// The rule set is copied so machines built from the same builder stay
// independent.
func (b *machineBuilder) Build(initialState State) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}

	statesCopy := make(map[State]*stateRules, len(b.states))
	for state, sr := range b.states {
		rulesCopy := make(map[Trigger][]transitionRule, len(sr.rules))
		for trigger, rules := range sr.rules {
			rulesCopy[trigger] = append([]transitionRule{}, rules...)
		}
		statesCopy[state] = &stateRules{rules: rulesCopy}
	}

	return &stateMachine{
		current: initialState,
		states:  statesCopy,
	}
}

// Permit allows a trigger to transition to the target state
func (s *stateRules) Permit(trigger Trigger, toState State) StateConfiguration {
	return s.PermitIf(trigger, toState, nil)
}

// PermitIf allows a trigger to transition to the target state if the guard passes
func (s *stateRules) PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}

	s.rules[trigger] = append(s.rules[trigger], transitionRule{
		target: toState,
		guard:  guard,
	})

	return s
}

// State returns the current state
func (m *stateMachine) State() State {
	return m.current
}

// CanFire returns true if the trigger is permitted in the current state.
// Guards are not evaluated here; any configured rule counts.
func (m *stateMachine) CanFire(trigger Trigger) bool {
	sr, exists := m.states[m.current]
	if !exists {
		return false
	}

	rules, exists := sr.rules[trigger]
	return exists && len(rules) > 0
}

// Fire attempts to execute the trigger, transitioning to the new state if allowed
func (m *stateMachine) Fire(ctx context.Context, trigger Trigger) error {
	sr, exists := m.states[m.current]
	if !exists {
		return fmt.Errorf("%w: cannot fire trigger %s from state %s (no configuration)", ErrInvalidTransition, trigger, m.current)
	}

	rules, exists := sr.rules[trigger]
	if !exists || len(rules) == 0 {
		return fmt.Errorf("%w: cannot fire trigger %s from state %s", ErrInvalidTransition, trigger, m.current)
	}

	// First rule whose guard passes wins
	for _, r := range rules {
		if r.guard == nil || r.guard(ctx) {
			m.current = r.target
			return nil
		}
	}

	return fmt.Errorf("%w: trigger %s from state %s", ErrGuardFailed, trigger, m.current)
}

// PermittedTriggers returns all triggers that can be fired in the current state
func (m *stateMachine) PermittedTriggers() []Trigger {
	sr, exists := m.states[m.current]
	if !exists {
		return []Trigger{}
	}

	triggers := make([]Trigger, 0, len(sr.rules))
	for trigger := range sr.rules {
		triggers = append(triggers, trigger)
	}

	return triggers
}
