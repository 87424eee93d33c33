package entity

// Status constants for WorkflowInstance
const (
	InstanceStatusPending    = "PENDING"
	InstanceStatusInProgress = "IN_PROGRESS"
	InstanceStatusApproved   = "APPROVED"
	InstanceStatusRejected   = "REJECTED"
	InstanceStatusCancelled  = "CANCELLED"
)

// Status constants for StageInstance
const (
	StageStatusPending   = "PENDING"
	StageStatusActive    = "ACTIVE"
	StageStatusApproved  = "APPROVED"
	StageStatusRejected  = "REJECTED"
	StageStatusSkipped   = "SKIPPED"
	StageStatusCancelled = "CANCELLED"
)

// Status constants for Assignment
const (
	AssignmentStatusPending   = "PENDING"
	AssignmentStatusApproved  = "APPROVED"
	AssignmentStatusRejected  = "REJECTED"
	AssignmentStatusDelegated = "DELEGATED"
	AssignmentStatusSkipped   = "SKIPPED"
)

// Decision policy constants for StageTemplate
const (
	PolicyAll    = "ALL"
	PolicyAny    = "ANY"
	PolicyQuorum = "QUORUM"
)

// Kind constants for Action
const (
	ActionApprove  = "APPROVE"
	ActionReject   = "REJECT"
	ActionDelegate = "DELEGATE"
	ActionComment  = "COMMENT"
)
