package approval

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	// TriggerStart moves a freshly created instance onto its first stage.
	TriggerStart Trigger = "START"

	// TriggerApprove fires when the final stage of the instance approves.
	TriggerApprove Trigger = "APPROVE"

	// TriggerReject fires when any stage rejects.
	TriggerReject Trigger = "REJECT"

	// TriggerCancel fires on an explicit cancellation request.
	TriggerCancel Trigger = "CANCEL"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
