package service

import (
	"context"
	"fmt"
	"time"

	"github.com/erpcore/approval-engine/internal/domain/approval"
	"github.com/erpcore/approval-engine/internal/domain/entity"
	"github.com/erpcore/approval-engine/internal/domain/event"
)

// startLocked creates and starts a fresh instance for the target. Callers
// hold the target lock and an open transaction.
func (m *managerImpl) startLocked(ctx context.Context, target entity.TargetRef, startedBy string) (*entity.WorkflowInstance, []*event.Event, error) {
	existing, err := m.instanceRepo.GetCurrentByTarget(ctx, target.Type, target.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("check current instance: %w", err)
	}
	if existing != nil {
		return nil, nil, fmt.Errorf("%w: target %s already has workflow instance %d in status %s",
			approval.ErrState, target, existing.ID, existing.Status)
	}

	tpl, err := m.templateRepo.GetActiveByTargetType(ctx, target.Type)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve template: %w", err)
	}
	if tpl == nil {
		return nil, nil, fmt.Errorf("%w: no active workflow template for target type %q", approval.ErrConfiguration, target.Type)
	}
	if len(tpl.Stages) == 0 {
		return nil, nil, fmt.Errorf("%w: template %s v%d has no stages", approval.ErrConfiguration, tpl.Code, tpl.Version)
	}
	// Stages arrive ordered by order index, so duplicates are adjacent.
	for i := 1; i < len(tpl.Stages); i++ {
		if tpl.Stages[i].OrderIndex == tpl.Stages[i-1].OrderIndex {
			return nil, nil, fmt.Errorf("%w: template %s v%d has duplicate stage order %d",
				approval.ErrConfiguration, tpl.Code, tpl.Version, tpl.Stages[i].OrderIndex)
		}
	}

	instance := &entity.WorkflowInstance{
		TemplateID: tpl.ID,
		TargetType: target.Type,
		TargetID:   target.ID,
		Status:     entity.InstanceStatusPending,
		CreatedBy:  startedBy,
		CreatedAt:  time.Now(),
	}
	if err := m.instanceRepo.Create(ctx, instance); err != nil {
		return nil, nil, fmt.Errorf("create instance: %w", err)
	}

	machine := buildLifecycleMachine(approval.StatePending)
	if err := machine.Fire(ctx, approval.TriggerStart); err != nil {
		return nil, nil, err
	}
	instance.Status = machine.State().String()
	if err := m.instanceRepo.UpdateStatus(ctx, instance.ID, instance.Status); err != nil {
		return nil, nil, fmt.Errorf("update instance status: %w", err)
	}

	stageEvt, err := m.activateStage(ctx, instance, &tpl.Stages[0])
	if err != nil {
		return nil, nil, err
	}

	events := []*event.Event{
		event.NewEvent(event.TypeWorkflowStarted, instance.ID, target.Type, target.ID, map[string]interface{}{
			"template_code":    tpl.Code,
			"template_version": tpl.Version,
			"started_by":       startedBy,
		}),
		stageEvt,
	}
	return instance, events, nil
}

// activateStage creates or reuses the stage instance for one stage template,
// snapshots the approver set into assignments and moves the workflow's
// current stage pointer. Returns the activation event for post-commit
// dispatch.
func (m *managerImpl) activateStage(ctx context.Context, instance *entity.WorkflowInstance, tpl *entity.StageTemplate) (*event.Event, error) {
	userIDs, err := m.resolver.ResolveRole(ctx, tpl.RequiredRole)
	if err != nil {
		return nil, fmt.Errorf("resolve role %q: %w", tpl.RequiredRole, err)
	}
	if len(userIDs) == 0 {
		return nil, fmt.Errorf("%w: role %q resolves to no approvers", approval.ErrConfiguration, tpl.RequiredRole)
	}
	if tpl.DecisionPolicy == entity.PolicyQuorum && tpl.QuorumCount > len(userIDs) {
		return nil, fmt.Errorf("%w: quorum %d exceeds the %d approvers holding role %q",
			approval.ErrConfiguration, tpl.QuorumCount, len(userIDs), tpl.RequiredRole)
	}

	// Instantiation is idempotent on (instance, order index); an earlier
	// attempt may have left a PENDING stage row behind.
	stage, err := m.stageInstanceRepo.GetByInstanceAndIndex(ctx, instance.ID, tpl.OrderIndex)
	if err != nil {
		return nil, fmt.Errorf("check stage instance: %w", err)
	}
	now := time.Now()
	if stage == nil {
		stage = &entity.StageInstance{
			InstanceID:      instance.ID,
			StageTemplateID: tpl.ID,
			OrderIndex:      tpl.OrderIndex,
			Name:            tpl.Name,
			Status:          entity.StageStatusPending,
		}
		if err := m.stageInstanceRepo.Create(ctx, stage); err != nil {
			return nil, fmt.Errorf("create stage instance: %w", err)
		}
	}

	if err := m.stageInstanceRepo.Activate(ctx, stage.ID, now); err != nil {
		return nil, fmt.Errorf("activate stage: %w", err)
	}
	stage.Status = entity.StageStatusActive
	stage.ActivatedAt = &now

	for _, userID := range userIDs {
		assignment := &entity.Assignment{
			StageInstanceID: stage.ID,
			UserID:          userID,
			RoleSnapshot:    tpl.RequiredRole,
			Status:          entity.AssignmentStatusPending,
			CreatedAt:       now,
		}
		if err := m.assignmentRepo.Create(ctx, assignment); err != nil {
			return nil, fmt.Errorf("create assignment: %w", err)
		}
	}

	if err := m.instanceRepo.UpdateCurrentStage(ctx, instance.ID, tpl.OrderIndex); err != nil {
		return nil, fmt.Errorf("update current stage: %w", err)
	}
	instance.CurrentStageIndex = tpl.OrderIndex

	return event.NewEvent(event.TypeStageActivated, instance.ID, instance.TargetType, instance.TargetID, map[string]interface{}{
		"order_index": stage.OrderIndex,
		"stage_name":  stage.Name,
		"approvers":   len(userIDs),
	}), nil
}

// completeStageApproved closes an approved stage and either activates the
// next stage or finishes the workflow.
func (m *managerImpl) completeStageApproved(ctx context.Context, instance *entity.WorkflowInstance, stage *entity.StageInstance) ([]*event.Event, error) {
	now := time.Now()
	if err := m.stageInstanceRepo.Complete(ctx, stage.ID, entity.StageStatusApproved, now); err != nil {
		return nil, fmt.Errorf("complete stage: %w", err)
	}
	// Seats still open when the stage decides drop off every worklist.
	if err := m.assignmentRepo.MarkPendingSkipped(ctx, stage.ID); err != nil {
		return nil, fmt.Errorf("skip open assignments: %w", err)
	}

	events := []*event.Event{
		event.NewEvent(event.TypeStageApproved, instance.ID, instance.TargetType, instance.TargetID, map[string]interface{}{
			"order_index": stage.OrderIndex,
			"stage_name":  stage.Name,
		}),
	}

	next, err := m.stageTemplateRepo.GetNextByOrderIndex(ctx, instance.TemplateID, stage.OrderIndex)
	if err != nil {
		return nil, fmt.Errorf("fetch next stage: %w", err)
	}
	if next == nil {
		evt, err := m.finishWorkflow(ctx, instance, approval.TriggerApprove, map[string]interface{}{
			"order_index": stage.OrderIndex,
		})
		if err != nil {
			return nil, err
		}
		return append(events, evt), nil
	}

	stageEvt, err := m.activateStage(ctx, instance, next)
	if err != nil {
		return nil, err
	}
	return append(events, stageEvt), nil
}

// completeStageRejected closes a rejected stage and finishes the workflow.
// Undecided assignments keep their status; the trail shows the stage exactly
// as it stood when the rejection landed.
func (m *managerImpl) completeStageRejected(ctx context.Context, instance *entity.WorkflowInstance, stage *entity.StageInstance) ([]*event.Event, error) {
	if err := m.stageInstanceRepo.Complete(ctx, stage.ID, entity.StageStatusRejected, time.Now()); err != nil {
		return nil, fmt.Errorf("complete stage: %w", err)
	}

	evt, err := m.finishWorkflow(ctx, instance, approval.TriggerReject, map[string]interface{}{
		"order_index": stage.OrderIndex,
		"stage_name":  stage.Name,
	})
	if err != nil {
		return nil, err
	}
	return []*event.Event{evt}, nil
}

// finishWorkflow fires a terminal trigger, persists the resulting status and
// stamps completion.
func (m *managerImpl) finishWorkflow(ctx context.Context, instance *entity.WorkflowInstance, trigger approval.Trigger, payload map[string]interface{}) (*event.Event, error) {
	machine, err := m.machines.Get(ctx, instance.ID)
	if err != nil {
		return nil, err
	}
	if err := machine.Fire(ctx, trigger); err != nil {
		return nil, err
	}

	status := machine.State().String()
	now := time.Now()
	if err := m.instanceRepo.UpdateStatus(ctx, instance.ID, status); err != nil {
		return nil, fmt.Errorf("update instance status: %w", err)
	}
	if err := m.instanceRepo.SetCompletedAt(ctx, instance.ID, now); err != nil {
		return nil, fmt.Errorf("stamp completion: %w", err)
	}
	instance.Status = status
	instance.CompletedAt = &now

	var evtType event.Type
	switch trigger {
	case approval.TriggerApprove:
		evtType = event.TypeWorkflowApproved
	case approval.TriggerReject:
		evtType = event.TypeWorkflowRejected
	default:
		evtType = event.TypeWorkflowCancelled
	}
	return event.NewEvent(evtType, instance.ID, instance.TargetType, instance.TargetID, payload), nil
}

// delegate hands an open assignment to another user. The delegate inherits
// the role snapshot; eligibility follows the seat, not the delegate's own
// roles.
func (m *managerImpl) delegate(ctx context.Context, stage *entity.StageInstance, tpl *entity.StageTemplate, from *entity.Assignment, toUser string) error {
	if !tpl.AllowDelegate {
		return fmt.Errorf("%w: stage %q does not allow delegation", approval.ErrPolicyViolation, stage.Name)
	}
	if toUser == "" {
		return fmt.Errorf("%w: delegation requires a target user", approval.ErrPolicyViolation)
	}
	if toUser == from.UserID {
		return fmt.Errorf("%w: cannot delegate an assignment to yourself", approval.ErrPolicyViolation)
	}

	existing, err := m.assignmentRepo.GetByStageAndUser(ctx, stage.ID, toUser)
	if err != nil {
		return fmt.Errorf("check delegate target: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("%w: user %s already holds an assignment on stage %q", approval.ErrPolicyViolation, toUser, stage.Name)
	}

	if err := m.assignmentRepo.UpdateStatus(ctx, from.ID, entity.AssignmentStatusDelegated); err != nil {
		return fmt.Errorf("mark assignment delegated: %w", err)
	}
	next := &entity.Assignment{
		StageInstanceID: stage.ID,
		UserID:          toUser,
		RoleSnapshot:    from.RoleSnapshot,
		Status:          entity.AssignmentStatusPending,
		CreatedAt:       time.Now(),
	}
	if err := m.assignmentRepo.Create(ctx, next); err != nil {
		return fmt.Errorf("create delegate assignment: %w", err)
	}
	return nil
}
