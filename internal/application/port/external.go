package port

import (
	"context"

	"github.com/erpcore/approval-engine/internal/domain/entity"
)

// RoleResolver resolves a role name to the users currently holding it. The
// engine calls this once, at stage activation, and snapshots the result into
// assignments; later role changes never touch a live stage.
type RoleResolver interface {
	ResolveRole(ctx context.Context, role string) ([]string, error)
}

// Approvable is implemented by systems that own a target type and want
// lifecycle callbacks. Callbacks run after the engine has committed, outside
// any transaction. Returned errors are logged and dropped; a failing hook
// never rolls back or retries engine state.
type Approvable interface {
	OnApprovalStarted(ctx context.Context, target entity.TargetRef) error
	OnStageApproved(ctx context.Context, target entity.TargetRef, stageIndex int) error
	OnFullyApproved(ctx context.Context, target entity.TargetRef) error
	OnRejected(ctx context.Context, target entity.TargetRef, stageIndex int) error
	OnCancelled(ctx context.Context, target entity.TargetRef) error
}
