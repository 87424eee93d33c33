package entity

import "time"

// Assignment binds one approver to one stage instance. RoleSnapshot records
// the role the user held when the stage was activated; later role changes do
// not touch existing assignments. (StageInstanceID, UserID) is unique.
type Assignment struct {
	ID              int64     `json:"id"`
	StageInstanceID int64     `json:"stage_instance_id"`
	UserID          string    `json:"user_id"`
	RoleSnapshot    string    `json:"role_snapshot"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// IsOpen reports whether the assignment still awaits a decision.
func (a *Assignment) IsOpen() bool {
	return a.Status == AssignmentStatusPending
}
