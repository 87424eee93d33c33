package approval

import (
	"errors"
	"testing"

	"github.com/erpcore/approval-engine/internal/domain/entity"
)

func assignmentsWithStatus(statuses ...string) []entity.Assignment {
	assignments := make([]entity.Assignment, 0, len(statuses))
	for i, status := range statuses {
		assignments = append(assignments, entity.Assignment{
			ID:     int64(i + 1),
			UserID: "user-" + string(rune('a'+i)),
			Status: status,
		})
	}
	return assignments
}

func TestEvaluate_AllPolicy(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		expected Outcome
	}{
		{
			name:     "no decisions yet",
			statuses: []string{entity.AssignmentStatusPending, entity.AssignmentStatusPending},
			expected: OutcomePending,
		},
		{
			name:     "partial approval",
			statuses: []string{entity.AssignmentStatusApproved, entity.AssignmentStatusPending},
			expected: OutcomePending,
		},
		{
			name:     "all approved",
			statuses: []string{entity.AssignmentStatusApproved, entity.AssignmentStatusApproved},
			expected: OutcomeApproved,
		},
		{
			name:     "single rejection wins immediately",
			statuses: []string{entity.AssignmentStatusApproved, entity.AssignmentStatusRejected, entity.AssignmentStatusPending},
			expected: OutcomeRejected,
		},
		{
			name:     "delegated seat excluded from unanimity",
			statuses: []string{entity.AssignmentStatusApproved, entity.AssignmentStatusDelegated, entity.AssignmentStatusApproved},
			expected: OutcomeApproved,
		},
		{
			name:     "delegated seat with open replacement",
			statuses: []string{entity.AssignmentStatusApproved, entity.AssignmentStatusDelegated, entity.AssignmentStatusPending},
			expected: OutcomePending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(entity.PolicyAll, 0, assignmentsWithStatus(tt.statuses...))
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got != tt.expected {
				t.Errorf("Evaluate() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestEvaluate_AnyPolicy(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		expected Outcome
	}{
		{
			name:     "no decisions yet",
			statuses: []string{entity.AssignmentStatusPending, entity.AssignmentStatusPending},
			expected: OutcomePending,
		},
		{
			name:     "first approval wins",
			statuses: []string{entity.AssignmentStatusApproved, entity.AssignmentStatusPending, entity.AssignmentStatusPending},
			expected: OutcomeApproved,
		},
		{
			name:     "approval wins over rejections",
			statuses: []string{entity.AssignmentStatusRejected, entity.AssignmentStatusApproved},
			expected: OutcomeApproved,
		},
		{
			name:     "partial rejection keeps stage open",
			statuses: []string{entity.AssignmentStatusRejected, entity.AssignmentStatusPending},
			expected: OutcomePending,
		},
		{
			name:     "unanimous rejection rejects",
			statuses: []string{entity.AssignmentStatusRejected, entity.AssignmentStatusRejected},
			expected: OutcomeRejected,
		},
		{
			name:     "delegated seat excluded from unanimous rejection",
			statuses: []string{entity.AssignmentStatusRejected, entity.AssignmentStatusDelegated, entity.AssignmentStatusRejected},
			expected: OutcomeRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(entity.PolicyAny, 0, assignmentsWithStatus(tt.statuses...))
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got != tt.expected {
				t.Errorf("Evaluate() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestEvaluate_QuorumPolicy(t *testing.T) {
	tests := []struct {
		name     string
		quorum   int
		statuses []string
		expected Outcome
	}{
		{
			name:     "quorum not yet reached",
			quorum:   2,
			statuses: []string{entity.AssignmentStatusApproved, entity.AssignmentStatusPending, entity.AssignmentStatusPending},
			expected: OutcomePending,
		},
		{
			name:     "quorum reached",
			quorum:   2,
			statuses: []string{entity.AssignmentStatusApproved, entity.AssignmentStatusApproved, entity.AssignmentStatusPending},
			expected: OutcomeApproved,
		},
		{
			name:     "one rejection still reachable",
			quorum:   2,
			statuses: []string{entity.AssignmentStatusRejected, entity.AssignmentStatusPending, entity.AssignmentStatusPending},
			expected: OutcomePending,
		},
		{
			name:     "quorum unreachable after rejections",
			quorum:   2,
			statuses: []string{entity.AssignmentStatusRejected, entity.AssignmentStatusRejected, entity.AssignmentStatusPending},
			expected: OutcomeRejected,
		},
		{
			name:     "full quorum needs every seat",
			quorum:   3,
			statuses: []string{entity.AssignmentStatusRejected, entity.AssignmentStatusPending, entity.AssignmentStatusPending},
			expected: OutcomeRejected,
		},
		{
			name:     "delegated seat does not shrink reachability",
			quorum:   2,
			statuses: []string{entity.AssignmentStatusApproved, entity.AssignmentStatusDelegated, entity.AssignmentStatusApproved},
			expected: OutcomeApproved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(entity.PolicyQuorum, tt.quorum, assignmentsWithStatus(tt.statuses...))
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got != tt.expected {
				t.Errorf("Evaluate() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestEvaluate_QuorumRequiresPositiveCount(t *testing.T) {
	_, err := Evaluate(entity.PolicyQuorum, 0, assignmentsWithStatus(entity.AssignmentStatusPending))
	if err == nil {
		t.Fatal("Evaluate() should fail for a zero quorum")
	}
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("Evaluate() error = %v, want %v", err, ErrConfiguration)
	}
}

func TestEvaluate_UnknownPolicy(t *testing.T) {
	_, err := Evaluate("MAJORITY", 0, assignmentsWithStatus(entity.AssignmentStatusPending))
	if err == nil {
		t.Fatal("Evaluate() should fail for an unknown policy")
	}
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("Evaluate() error = %v, want %v", err, ErrConfiguration)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	assignments := assignmentsWithStatus(
		entity.AssignmentStatusApproved,
		entity.AssignmentStatusRejected,
		entity.AssignmentStatusPending,
	)

	first, err := Evaluate(entity.PolicyQuorum, 2, assignments)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	for i := 0; i < 10; i++ {
		got, err := Evaluate(entity.PolicyQuorum, 2, assignments)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if got != first {
			t.Errorf("Evaluate() = %v on run %d, want stable %v", got, i, first)
		}
	}
}
