package port

import (
	"context"
	"time"

	"github.com/erpcore/approval-engine/internal/domain/entity"
)

// TemplateRepository defines persistence operations for WorkflowTemplate
type TemplateRepository interface {
	// Create persists a template; stage rows are created separately
	Create(ctx context.Context, tpl *entity.WorkflowTemplate) error

	// GetByID retrieves a template with its stages loaded, ordered by
	// order index
	GetByID(ctx context.Context, id int64) (*entity.WorkflowTemplate, error)

	// GetActiveByTargetType retrieves the active template for a target type
	// with its stages loaded, highest version first
	GetActiveByTargetType(ctx context.Context, targetType string) (*entity.WorkflowTemplate, error)

	List(ctx context.Context, limit, offset int) ([]*entity.WorkflowTemplate, error)
	Update(ctx context.Context, tpl *entity.WorkflowTemplate) error
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error

	// HasInstances reports whether any workflow instance references the
	// template; such templates are edited by versioning, never in place
	HasInstances(ctx context.Context, id int64) (bool, error)
}

// StageTemplateRepository defines persistence operations for StageTemplate
type StageTemplateRepository interface {
	Create(ctx context.Context, stage *entity.StageTemplate) error
	GetByID(ctx context.Context, id int64) (*entity.StageTemplate, error)

	// GetByTemplateID retrieves all stages of a template ordered by order index
	GetByTemplateID(ctx context.Context, templateID int64) ([]*entity.StageTemplate, error)

	// GetByOrderIndex retrieves the stage of a template at one order index
	GetByOrderIndex(ctx context.Context, templateID int64, orderIndex int) (*entity.StageTemplate, error)

	// GetNextByOrderIndex retrieves the stage with the lowest order index
	// strictly greater than afterIndex, or nil when the template has no
	// further stage
	GetNextByOrderIndex(ctx context.Context, templateID int64, afterIndex int) (*entity.StageTemplate, error)

	DeleteByTemplateID(ctx context.Context, templateID int64) error
}

// InstanceRepository defines persistence operations for WorkflowInstance
type InstanceRepository interface {
	Create(ctx context.Context, instance *entity.WorkflowInstance) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error)

	// GetCurrentByTarget retrieves the single non-terminal instance for a
	// target, or nil when none is live
	GetCurrentByTarget(ctx context.Context, targetType, targetID string) (*entity.WorkflowInstance, error)

	// GetLatestByTarget retrieves the most recent instance for a target
	// regardless of status
	GetLatestByTarget(ctx context.Context, targetType, targetID string) (*entity.WorkflowInstance, error)

	UpdateStatus(ctx context.Context, id int64, status string) error
	UpdateCurrentStage(ctx context.Context, id int64, orderIndex int) error
	SetCompletedAt(ctx context.Context, id int64, t time.Time) error
	List(ctx context.Context, limit, offset int) ([]*entity.WorkflowInstance, error)

	// ListPendingForUser retrieves the IN_PROGRESS instances on which the
	// user holds at least one open assignment, oldest first
	ListPendingForUser(ctx context.Context, userID string) ([]*entity.WorkflowInstance, error)
}

// StageInstanceRepository defines persistence operations for StageInstance
type StageInstanceRepository interface {
	Create(ctx context.Context, stage *entity.StageInstance) error
	GetByID(ctx context.Context, id int64) (*entity.StageInstance, error)

	// GetByInstanceAndIndex retrieves the stage instance for one order index
	// of one workflow instance; stage instantiation keys on this pair
	GetByInstanceAndIndex(ctx context.Context, instanceID int64, orderIndex int) (*entity.StageInstance, error)

	// GetActiveByInstance retrieves the single ACTIVE stage of an instance,
	// or nil when none is active
	GetActiveByInstance(ctx context.Context, instanceID int64) (*entity.StageInstance, error)

	// GetByInstanceID retrieves all stage instances ordered by order index
	GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.StageInstance, error)

	// Activate marks the stage ACTIVE and stamps activated_at
	Activate(ctx context.Context, id int64, at time.Time) error

	// Complete moves the stage to a terminal status and stamps completed_at
	Complete(ctx context.Context, id int64, status string, at time.Time) error
}

// PendingApproval is the read model returned to an approver's worklist: the
// open assignment joined with its stage and workflow context.
type PendingApproval struct {
	AssignmentID int64     `json:"assignment_id"`
	InstanceID   int64     `json:"instance_id"`
	TargetType   string    `json:"target_type"`
	TargetID     string    `json:"target_id"`
	StageName    string    `json:"stage_name"`
	OrderIndex   int       `json:"order_index"`
	RoleSnapshot string    `json:"role_snapshot"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// AssignmentRepository defines persistence operations for Assignment
type AssignmentRepository interface {
	Create(ctx context.Context, assignment *entity.Assignment) error
	GetByID(ctx context.Context, id int64) (*entity.Assignment, error)

	// GetByStageInstanceID retrieves all assignments of a stage instance
	GetByStageInstanceID(ctx context.Context, stageInstanceID int64) ([]*entity.Assignment, error)

	// GetByStageAndUser retrieves one user's assignment within a stage
	GetByStageAndUser(ctx context.Context, stageInstanceID int64, userID string) (*entity.Assignment, error)

	UpdateStatus(ctx context.Context, id int64, status string) error

	// MarkPendingSkipped flips every PENDING assignment of a decided stage
	// to SKIPPED in one statement
	MarkPendingSkipped(ctx context.Context, stageInstanceID int64) error

	// GetPendingByUser retrieves a user's open assignments on ACTIVE stages
	// of IN_PROGRESS workflows, oldest first. Each call queries fresh state.
	GetPendingByUser(ctx context.Context, userID string) ([]*PendingApproval, error)
}

// ActionRepository defines persistence operations for the append-only Action
// audit trail. There are no update or delete operations.
type ActionRepository interface {
	Create(ctx context.Context, action *entity.Action) error

	// GetByInstanceID retrieves the full trail of an instance in
	// chronological order
	GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.Action, error)
}

// ApproverRepository defines read operations on the approver directory
type ApproverRepository interface {
	// GetActiveUserIDsByRole retrieves the user IDs currently holding a role,
	// ordered by user ID for deterministic assignment creation
	GetActiveUserIDsByRole(ctx context.Context, role string) ([]string, error)

	Create(ctx context.Context, approver *entity.Approver) error
	List(ctx context.Context, limit, offset int) ([]*entity.Approver, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
