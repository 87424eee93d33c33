package event

// Type identifies the type of domain event
type Type string

const (
	TypeWorkflowStarted   Type = "workflow.started"
	TypeStageActivated    Type = "workflow.stage_activated"
	TypeStageApproved     Type = "workflow.stage_approved"
	TypeWorkflowApproved  Type = "workflow.approved"
	TypeWorkflowRejected  Type = "workflow.rejected"
	TypeWorkflowCancelled Type = "workflow.cancelled"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeWorkflowStarted,
		TypeStageActivated,
		TypeStageApproved,
		TypeWorkflowApproved,
		TypeWorkflowRejected,
		TypeWorkflowCancelled:
		return true
	default:
		return false
	}
}
