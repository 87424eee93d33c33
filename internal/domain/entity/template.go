package entity

import "time"

// WorkflowTemplate defines the stage sequence applied to one target type.
// Templates are versioned: editing a template that has ever been started
// produces a new version and deactivates the old one, so running instances
// keep the stage definitions they started with.
type WorkflowTemplate struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	TargetType  string    `json:"target_type"`
	Version     int       `json:"version"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Stages is populated by repository loads that join stage templates,
	// ordered by OrderIndex ascending.
	Stages []StageTemplate `json:"stages,omitempty"`
}

// StageTemplate defines a single approval stage within a template.
// OrderIndex is 1-based and unique within the template.
type StageTemplate struct {
	ID             int64     `json:"id"`
	TemplateID     int64     `json:"template_id"`
	OrderIndex     int       `json:"order_index"`
	Name           string    `json:"name"`
	DecisionPolicy string    `json:"decision_policy"`
	QuorumCount    int       `json:"quorum_count,omitempty"`
	RequiredRole   string    `json:"required_role"`
	AllowReject    bool      `json:"allow_reject"`
	AllowDelegate  bool      `json:"allow_delegate"`
	SLAHours       int       `json:"sla_hours,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
