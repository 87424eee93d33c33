package approval

import (
	"errors"
	"fmt"
)

// Sentinel errors for the approval engine. Call sites wrap these with
// fmt.Errorf("%w: ...") so callers can classify failures with errors.Is
// while keeping the contextual message.
var (
	// ErrConfiguration is returned when a template or stage definition is
	// unusable: no stages, duplicate order indexes, an empty resolved
	// approver set, or a quorum larger than the approver set.
	ErrConfiguration = errors.New("configuration error")

	// ErrState is returned when an operation is not valid for the current
	// lifecycle state, such as acting on a terminated workflow.
	ErrState = errors.New("state error")

	// ErrPolicyViolation is returned when an action is forbidden by stage
	// policy: rejecting where AllowReject is false, delegating where
	// AllowDelegate is false, or acting without a pending assignment.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrConcurrencyConflict is returned when the per-target lock cannot be
	// acquired within the configured wait.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrNotFound is returned when a referenced template, instance,
	// assignment, or user does not exist.
	ErrNotFound = errors.New("not found")
)

// State machine sentinels. Both wrap ErrState so transition failures
// classify uniformly.
var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = fmt.Errorf("%w: invalid transition", ErrState)

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = fmt.Errorf("%w: guard rejected transition", ErrState)
)
