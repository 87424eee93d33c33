package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erpcore/approval-engine/internal/application/dispatcher"
	"github.com/erpcore/approval-engine/internal/application/port"
	"github.com/erpcore/approval-engine/internal/domain/approval"
	"github.com/erpcore/approval-engine/internal/domain/entity"
	"github.com/erpcore/approval-engine/internal/domain/event"
	"github.com/erpcore/approval-engine/pkg/metrics"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ActionRequest carries one approver action against a target's active stage.
type ActionRequest struct {
	Kind       string `json:"kind"`
	Comment    string `json:"comment,omitempty"`
	TargetUser string `json:"target_user,omitempty"` // DELEGATE only
}

// StageDetail pairs a stage instance with its assignments.
type StageDetail struct {
	Stage       *entity.StageInstance `json:"stage"`
	Assignments []*entity.Assignment  `json:"assignments"`
}

// WorkflowDetail is the full runtime view of an instance.
type WorkflowDetail struct {
	Instance *entity.WorkflowInstance `json:"instance"`
	Stages   []StageDetail            `json:"stages"`
}

// ApprovalManager drives workflow instances through their lifecycle. All
// mutating operations serialise per target and run inside one transaction;
// events reach the dispatcher only after that transaction has committed.
type ApprovalManager interface {
	// StartWorkflow instantiates the active template for the target's type
	// and activates its first stage
	StartWorkflow(ctx context.Context, target entity.TargetRef, startedBy string) (*entity.WorkflowInstance, error)

	// ProcessAction applies one approver action to the target's active stage
	// and advances the workflow when the stage decides
	ProcessAction(ctx context.Context, target entity.TargetRef, userID string, req ActionRequest) (*entity.WorkflowInstance, error)

	// CancelWorkflow terminates the target's live instance
	CancelWorkflow(ctx context.Context, target entity.TargetRef, userID, reason string) error

	// RestartWorkflow starts a fresh instance for a target whose previous
	// instance has reached a terminal status
	RestartWorkflow(ctx context.Context, target entity.TargetRef, restartedBy string) (*entity.WorkflowInstance, error)

	// CurrentWorkflow returns the live instance for a target with its stages
	// and assignments
	CurrentWorkflow(ctx context.Context, target entity.TargetRef) (*WorkflowDetail, error)

	// PendingApprovals returns a user's open assignments, oldest first
	PendingApprovals(ctx context.Context, userID string) ([]*port.PendingApproval, error)

	// PendingWorkflows returns the instances awaiting the user's decision
	PendingWorkflows(ctx context.Context, userID string) ([]*entity.WorkflowInstance, error)

	// History returns the full audit trail of an instance in order
	History(ctx context.Context, instanceID int64) ([]*entity.Action, error)
}

type managerImpl struct {
	templateRepo      port.TemplateRepository
	stageTemplateRepo port.StageTemplateRepository
	instanceRepo      port.InstanceRepository
	stageInstanceRepo port.StageInstanceRepository
	assignmentRepo    port.AssignmentRepository
	actionRepo        port.ActionRepository
	txManager         port.TransactionManager
	resolver          port.RoleResolver
	logger            Logger

	dispatcher dispatcher.Dispatcher
	metrics    *metrics.Metrics
	machines   *machineSet
	locks      *targetLocks
}

// ManagerOption configures the approval manager
type ManagerOption func(*managerImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) ManagerOption {
	return func(m *managerImpl) {
		m.dispatcher = d
	}
}

// WithMetrics sets the collector set for engine counters
func WithMetrics(mx *metrics.Metrics) ManagerOption {
	return func(m *managerImpl) {
		m.metrics = mx
	}
}

// WithLockWait bounds how long a mutating call waits for the target lock
func WithLockWait(wait time.Duration) ManagerOption {
	return func(m *managerImpl) {
		m.locks = newTargetLocks(wait)
	}
}

// WithMachineExpiry sets the cache expiry for lifecycle machines
func WithMachineExpiry(expiry time.Duration) ManagerOption {
	return func(m *managerImpl) {
		m.machines = newMachineSet(m.instanceRepo, expiry)
	}
}

// NewApprovalManager creates a new ApprovalManager
func NewApprovalManager(
	templateRepo port.TemplateRepository,
	stageTemplateRepo port.StageTemplateRepository,
	instanceRepo port.InstanceRepository,
	stageInstanceRepo port.StageInstanceRepository,
	assignmentRepo port.AssignmentRepository,
	actionRepo port.ActionRepository,
	txManager port.TransactionManager,
	resolver port.RoleResolver,
	logger Logger,
	opts ...ManagerOption,
) ApprovalManager {
	m := &managerImpl{
		templateRepo:      templateRepo,
		stageTemplateRepo: stageTemplateRepo,
		instanceRepo:      instanceRepo,
		stageInstanceRepo: stageInstanceRepo,
		assignmentRepo:    assignmentRepo,
		actionRepo:        actionRepo,
		txManager:         txManager,
		resolver:          resolver,
		logger:            logger,
		machines:          newMachineSet(instanceRepo, 30*time.Minute),
		locks:             newTargetLocks(5 * time.Second),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// StartWorkflow instantiates the active template for the target's type.
func (m *managerImpl) StartWorkflow(ctx context.Context, target entity.TargetRef, startedBy string) (*entity.WorkflowInstance, error) {
	release, err := m.lockTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		instance *entity.WorkflowInstance
		events   []*event.Event
	)
	err = m.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		instance, events, err = m.startLocked(txCtx, target, startedBy)
		return err
	})
	if err != nil {
		m.logger.Error("Failed to start workflow", "error", err, "target", target.String())
		return nil, err
	}

	m.recordEvents(target, events)
	m.dispatchAll(ctx, events)
	m.logger.Info("Workflow started", "instance_id", instance.ID, "target", target.String(), "started_by", startedBy)
	return instance, nil
}

// ProcessAction applies one approver action to the target's active stage.
func (m *managerImpl) ProcessAction(ctx context.Context, target entity.TargetRef, userID string, req ActionRequest) (*entity.WorkflowInstance, error) {
	release, err := m.lockTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		instance *entity.WorkflowInstance
		events   []*event.Event
	)
	// Drop the cached machine either way; a rolled-back transaction can
	// leave a fired machine ahead of the persisted status.
	defer func() {
		if instance != nil {
			m.machines.Invalidate(instance.ID)
		}
	}()

	err = m.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		instance, err = m.instanceRepo.GetCurrentByTarget(txCtx, target.Type, target.ID)
		if err != nil {
			return fmt.Errorf("fetch current instance: %w", err)
		}
		if instance == nil {
			return fmt.Errorf("%w: no live workflow for target %s", approval.ErrNotFound, target)
		}
		if instance.Status != entity.InstanceStatusInProgress {
			return fmt.Errorf("%w: workflow instance %d is %s", approval.ErrState, instance.ID, instance.Status)
		}

		stage, err := m.stageInstanceRepo.GetActiveByInstance(txCtx, instance.ID)
		if err != nil {
			return fmt.Errorf("fetch active stage: %w", err)
		}
		if stage == nil {
			return fmt.Errorf("%w: workflow instance %d has no active stage", approval.ErrState, instance.ID)
		}

		stageTpl, err := m.stageTemplateRepo.GetByID(txCtx, stage.StageTemplateID)
		if err != nil {
			return fmt.Errorf("fetch stage template: %w", err)
		}
		if stageTpl == nil {
			return fmt.Errorf("%w: stage template %d not found", approval.ErrConfiguration, stage.StageTemplateID)
		}

		assignment, err := m.assignmentRepo.GetByStageAndUser(txCtx, stage.ID, userID)
		if err != nil {
			return fmt.Errorf("fetch assignment: %w", err)
		}
		if assignment == nil {
			return fmt.Errorf("%w: user %s holds no assignment on stage %q", approval.ErrPolicyViolation, userID, stage.Name)
		}
		if !assignment.IsOpen() {
			return fmt.Errorf("%w: assignment for user %s is already %s", approval.ErrPolicyViolation, userID, assignment.Status)
		}

		switch req.Kind {
		case entity.ActionApprove:
			if err := m.assignmentRepo.UpdateStatus(txCtx, assignment.ID, entity.AssignmentStatusApproved); err != nil {
				return fmt.Errorf("mark assignment approved: %w", err)
			}
		case entity.ActionReject:
			if !stageTpl.AllowReject {
				return fmt.Errorf("%w: stage %q does not allow rejection", approval.ErrPolicyViolation, stage.Name)
			}
			if err := m.assignmentRepo.UpdateStatus(txCtx, assignment.ID, entity.AssignmentStatusRejected); err != nil {
				return fmt.Errorf("mark assignment rejected: %w", err)
			}
		case entity.ActionDelegate:
			if err := m.delegate(txCtx, stage, stageTpl, assignment, req.TargetUser); err != nil {
				return err
			}
		case entity.ActionComment:
			// Comments join the trail without touching assignment state.
		default:
			return fmt.Errorf("%w: unknown action kind %q", approval.ErrPolicyViolation, req.Kind)
		}

		act := &entity.Action{
			InstanceID:      instance.ID,
			StageInstanceID: &stage.ID,
			AssignmentID:    &assignment.ID,
			UserID:          userID,
			Kind:            req.Kind,
			Comment:         req.Comment,
			TargetUser:      req.TargetUser,
			CreatedAt:       time.Now(),
		}
		if err := m.actionRepo.Create(txCtx, act); err != nil {
			return fmt.Errorf("record action: %w", err)
		}

		// Comments and delegations never move the tally, so only decisions
		// re-evaluate the stage.
		if req.Kind != entity.ActionApprove && req.Kind != entity.ActionReject {
			return nil
		}

		assignments, err := m.assignmentRepo.GetByStageInstanceID(txCtx, stage.ID)
		if err != nil {
			return fmt.Errorf("fetch assignments: %w", err)
		}
		outcome, err := approval.Evaluate(stageTpl.DecisionPolicy, stageTpl.QuorumCount, assignmentValues(assignments))
		if err != nil {
			return err
		}

		switch outcome {
		case approval.OutcomeApproved:
			events, err = m.completeStageApproved(txCtx, instance, stage)
			return err
		case approval.OutcomeRejected:
			events, err = m.completeStageRejected(txCtx, instance, stage)
			return err
		}
		return nil
	})
	if err != nil {
		m.logger.Error("Failed to process action", "error", err, "target", target.String(), "user_id", userID, "kind", req.Kind)
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.ActionProcessed(req.Kind)
	}
	m.recordEvents(target, events)
	m.dispatchAll(ctx, events)
	m.logger.Info("Action processed", "instance_id", instance.ID, "target", target.String(), "user_id", userID, "kind", req.Kind)
	return instance, nil
}

// CancelWorkflow terminates the target's live instance.
func (m *managerImpl) CancelWorkflow(ctx context.Context, target entity.TargetRef, userID, reason string) error {
	release, err := m.lockTarget(ctx, target)
	if err != nil {
		return err
	}
	defer release()

	var (
		instance *entity.WorkflowInstance
		events   []*event.Event
	)
	defer func() {
		if instance != nil {
			m.machines.Invalidate(instance.ID)
		}
	}()

	err = m.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		instance, err = m.instanceRepo.GetCurrentByTarget(txCtx, target.Type, target.ID)
		if err != nil {
			return fmt.Errorf("fetch current instance: %w", err)
		}
		if instance == nil {
			return fmt.Errorf("%w: no live workflow for target %s", approval.ErrNotFound, target)
		}

		now := time.Now()
		stage, err := m.stageInstanceRepo.GetActiveByInstance(txCtx, instance.ID)
		if err != nil {
			return fmt.Errorf("fetch active stage: %w", err)
		}
		if stage != nil {
			if err := m.stageInstanceRepo.Complete(txCtx, stage.ID, entity.StageStatusCancelled, now); err != nil {
				return fmt.Errorf("complete stage: %w", err)
			}
			if err := m.assignmentRepo.MarkPendingSkipped(txCtx, stage.ID); err != nil {
				return fmt.Errorf("skip open assignments: %w", err)
			}
		}

		evt, err := m.finishWorkflow(txCtx, instance, approval.TriggerCancel, map[string]interface{}{
			"cancelled_by": userID,
			"reason":       reason,
		})
		if err != nil {
			return err
		}

		comment := "Workflow cancelled."
		if reason != "" {
			comment = fmt.Sprintf("Workflow cancelled. Reason: %s", reason)
		}
		act := &entity.Action{
			InstanceID: instance.ID,
			UserID:     userID,
			Kind:       entity.ActionComment,
			Comment:    comment,
			CreatedAt:  now,
		}
		if err := m.actionRepo.Create(txCtx, act); err != nil {
			return fmt.Errorf("record action: %w", err)
		}

		events = append(events, evt)
		return nil
	})
	if err != nil {
		m.logger.Error("Failed to cancel workflow", "error", err, "target", target.String(), "user_id", userID)
		return err
	}

	m.recordEvents(target, events)
	m.dispatchAll(ctx, events)
	m.logger.Info("Workflow cancelled", "instance_id", instance.ID, "target", target.String(), "cancelled_by", userID)
	return nil
}

// RestartWorkflow starts a fresh instance once the previous one has ended.
func (m *managerImpl) RestartWorkflow(ctx context.Context, target entity.TargetRef, restartedBy string) (*entity.WorkflowInstance, error) {
	release, err := m.lockTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		instance *entity.WorkflowInstance
		events   []*event.Event
	)
	err = m.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		latest, err := m.instanceRepo.GetLatestByTarget(txCtx, target.Type, target.ID)
		if err != nil {
			return fmt.Errorf("fetch latest instance: %w", err)
		}
		if latest == nil {
			return fmt.Errorf("%w: target %s has no workflow to restart", approval.ErrNotFound, target)
		}
		if !latest.IsTerminal() {
			return fmt.Errorf("%w: workflow instance %d is still %s", approval.ErrState, latest.ID, latest.Status)
		}

		instance, events, err = m.startLocked(txCtx, target, restartedBy)
		return err
	})
	if err != nil {
		m.logger.Error("Failed to restart workflow", "error", err, "target", target.String())
		return nil, err
	}

	m.recordEvents(target, events)
	m.dispatchAll(ctx, events)
	m.logger.Info("Workflow restarted", "instance_id", instance.ID, "target", target.String(), "restarted_by", restartedBy)
	return instance, nil
}

// CurrentWorkflow returns the live instance for a target.
func (m *managerImpl) CurrentWorkflow(ctx context.Context, target entity.TargetRef) (*WorkflowDetail, error) {
	instance, err := m.instanceRepo.GetCurrentByTarget(ctx, target.Type, target.ID)
	if err != nil {
		m.logger.Error("Failed to get current workflow", "error", err, "target", target.String())
		return nil, err
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: no live workflow for target %s", approval.ErrNotFound, target)
	}

	stages, err := m.stageInstanceRepo.GetByInstanceID(ctx, instance.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch stages: %w", err)
	}

	detail := &WorkflowDetail{Instance: instance}
	for _, stage := range stages {
		assignments, err := m.assignmentRepo.GetByStageInstanceID(ctx, stage.ID)
		if err != nil {
			return nil, fmt.Errorf("fetch assignments: %w", err)
		}
		detail.Stages = append(detail.Stages, StageDetail{Stage: stage, Assignments: assignments})
	}
	return detail, nil
}

// PendingApprovals returns a user's open assignments, oldest first.
func (m *managerImpl) PendingApprovals(ctx context.Context, userID string) ([]*port.PendingApproval, error) {
	pending, err := m.assignmentRepo.GetPendingByUser(ctx, userID)
	if err != nil {
		m.logger.Error("Failed to list pending approvals", "error", err, "user_id", userID)
		return nil, err
	}
	return pending, nil
}

// PendingWorkflows returns the instances awaiting the user's decision.
func (m *managerImpl) PendingWorkflows(ctx context.Context, userID string) ([]*entity.WorkflowInstance, error) {
	instances, err := m.instanceRepo.ListPendingForUser(ctx, userID)
	if err != nil {
		m.logger.Error("Failed to list pending workflows", "error", err, "user_id", userID)
		return nil, err
	}
	return instances, nil
}

// History returns the full audit trail of an instance.
func (m *managerImpl) History(ctx context.Context, instanceID int64) ([]*entity.Action, error) {
	instance, err := m.instanceRepo.GetByID(ctx, instanceID)
	if err != nil {
		m.logger.Error("Failed to get instance", "error", err, "instance_id", instanceID)
		return nil, err
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: workflow instance %d", approval.ErrNotFound, instanceID)
	}
	return m.actionRepo.GetByInstanceID(ctx, instanceID)
}

func (m *managerImpl) lockTarget(ctx context.Context, target entity.TargetRef) (func(), error) {
	release, err := m.locks.acquire(ctx, target.String())
	if err != nil {
		if errors.Is(err, approval.ErrConcurrencyConflict) && m.metrics != nil {
			m.metrics.LockTimeout()
		}
		return nil, err
	}
	return release, nil
}

func (m *managerImpl) dispatchAll(ctx context.Context, events []*event.Event) {
	if m.dispatcher == nil {
		return
	}
	for _, evt := range events {
		m.dispatcher.DispatchAsync(ctx, evt)
	}
}

func (m *managerImpl) recordEvents(target entity.TargetRef, events []*event.Event) {
	if m.metrics == nil {
		return
	}
	for _, evt := range events {
		switch evt.Type {
		case event.TypeWorkflowStarted:
			m.metrics.WorkflowStarted(target.Type)
		case event.TypeStageActivated:
			m.metrics.StageActivated(target.Type)
		case event.TypeWorkflowApproved:
			m.metrics.WorkflowCompleted(target.Type, entity.InstanceStatusApproved)
		case event.TypeWorkflowRejected:
			m.metrics.WorkflowCompleted(target.Type, entity.InstanceStatusRejected)
		case event.TypeWorkflowCancelled:
			m.metrics.WorkflowCompleted(target.Type, entity.InstanceStatusCancelled)
		}
	}
}

func assignmentValues(assignments []*entity.Assignment) []entity.Assignment {
	out := make([]entity.Assignment, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, *a)
	}
	return out
}
