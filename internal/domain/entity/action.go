package entity

import "time"

// Action is one append-only audit trail entry. Rows are never updated or
// deleted. StageInstanceID and AssignmentID are nil for instance-level
// entries such as a cancellation note.
type Action struct {
	ID              int64     `json:"id"`
	InstanceID      int64     `json:"instance_id"`
	StageInstanceID *int64    `json:"stage_instance_id,omitempty"`
	AssignmentID    *int64    `json:"assignment_id,omitempty"`
	UserID          string    `json:"user_id"`
	Kind            string    `json:"kind"`
	Comment         string    `json:"comment,omitempty"`
	TargetUser      string    `json:"target_user,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Approver is one row of the role directory consulted when a stage is
// activated. Inactive rows are ignored during resolution.
type Approver struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
