package approval

import (
	"fmt"

	"github.com/erpcore/approval-engine/internal/domain/entity"
)

// Outcome is the verdict of evaluating a stage's assignments.
type Outcome string

const (
	OutcomePending  Outcome = "PENDING"
	OutcomeApproved Outcome = "APPROVED"
	OutcomeRejected Outcome = "REJECTED"
)

// String returns the string representation of the outcome
func (o Outcome) String() string {
	return string(o)
}

// tally counts assignment statuses for one stage. Delegated and skipped
// assignments are not eligible: a delegation hands the seat to a replacement
// assignment, so the seat is only counted once.
type tally struct {
	approved int
	rejected int
	eligible int
}

func tallyAssignments(assignments []entity.Assignment) tally {
	var t tally
	for _, a := range assignments {
		switch a.Status {
		case entity.AssignmentStatusDelegated, entity.AssignmentStatusSkipped:
			continue
		case entity.AssignmentStatusApproved:
			t.approved++
		case entity.AssignmentStatusRejected:
			t.rejected++
		}
		t.eligible++
	}
	return t
}

// Evaluate applies a decision policy to the current assignments of a stage
// and returns the stage verdict. It reads nothing but its arguments, so the
// same inputs always produce the same outcome.
//
// ALL: one rejection rejects the stage immediately; approval requires every
// eligible assignment to have approved.
//
// ANY: one approval approves the stage; rejection requires every eligible
// assignment to have rejected.
//
// QUORUM: quorumCount approvals approve the stage; the stage rejects as soon
// as the quorum can no longer be reached.
func Evaluate(policy string, quorumCount int, assignments []entity.Assignment) (Outcome, error) {
	t := tallyAssignments(assignments)

	switch policy {
	case entity.PolicyAll:
		if t.rejected > 0 {
			return OutcomeRejected, nil
		}
		if t.eligible > 0 && t.approved == t.eligible {
			return OutcomeApproved, nil
		}
		return OutcomePending, nil

	case entity.PolicyAny:
		if t.approved > 0 {
			return OutcomeApproved, nil
		}
		if t.eligible > 0 && t.rejected == t.eligible {
			return OutcomeRejected, nil
		}
		return OutcomePending, nil

	case entity.PolicyQuorum:
		if quorumCount < 1 {
			return OutcomePending, fmt.Errorf("%w: quorum count %d must be at least 1", ErrConfiguration, quorumCount)
		}
		if t.approved >= quorumCount {
			return OutcomeApproved, nil
		}
		// Reject as soon as the remaining open seats cannot reach the quorum.
		if t.rejected > t.eligible-quorumCount {
			return OutcomeRejected, nil
		}
		return OutcomePending, nil

	default:
		return OutcomePending, fmt.Errorf("%w: unknown decision policy %q", ErrConfiguration, policy)
	}
}
