package entity

import "time"

// WorkflowInstance is one run of a template against a target. At most one
// non-terminal instance may exist per (TargetType, TargetID) pair.
type WorkflowInstance struct {
	ID                int64      `json:"id"`
	TemplateID        int64      `json:"template_id"`
	TargetType        string     `json:"target_type"`
	TargetID          string     `json:"target_id"`
	Status            string     `json:"status"`
	CurrentStageIndex int        `json:"current_stage_index"`
	CreatedBy         string     `json:"created_by"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the instance has reached a final status.
func (w *WorkflowInstance) IsTerminal() bool {
	switch w.Status {
	case InstanceStatusApproved, InstanceStatusRejected, InstanceStatusCancelled:
		return true
	}
	return false
}

// StageInstance is the runtime record of one stage within an instance.
// Stages are created lazily when activated; OrderIndex is denormalized from
// the stage template so activation is idempotent per (InstanceID, OrderIndex).
type StageInstance struct {
	ID              int64      `json:"id"`
	InstanceID      int64      `json:"instance_id"`
	StageTemplateID int64      `json:"stage_template_id"`
	OrderIndex      int        `json:"order_index"`
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	ActivatedAt     *time.Time `json:"activated_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}
