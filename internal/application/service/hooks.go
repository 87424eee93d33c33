package service

import (
	"context"
	"sync"

	"github.com/erpcore/approval-engine/internal/application/dispatcher"
	"github.com/erpcore/approval-engine/internal/application/port"
	"github.com/erpcore/approval-engine/internal/domain/entity"
	"github.com/erpcore/approval-engine/internal/domain/event"
)

// HookRegistry routes workflow events to the Approvable hook registered for
// each target type. Bound handlers run on the dispatcher's async path, after
// the transaction that produced the event has committed; hook errors
// propagate to the dispatcher, which logs and drops them.
type HookRegistry struct {
	mu    sync.RWMutex
	hooks map[string]port.Approvable
}

// NewHookRegistry creates an empty registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{
		hooks: make(map[string]port.Approvable),
	}
}

// Register binds a hook to a target type, replacing any previous binding.
func (r *HookRegistry) Register(targetType string, hook port.Approvable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[targetType] = hook
}

func (r *HookRegistry) lookup(targetType string) (port.Approvable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hook, ok := r.hooks[targetType]
	return hook, ok
}

// BindDispatcher subscribes the registry to the workflow event stream.
// Events for target types with no registered hook are ignored.
func (r *HookRegistry) BindDispatcher(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeWorkflowStarted, "hooks.workflow_started",
		func(ctx context.Context, evt *event.Event) error {
			hook, ok := r.lookup(evt.TargetType)
			if !ok {
				return nil
			}
			return hook.OnApprovalStarted(ctx, targetOf(evt))
		})

	d.SubscribeNamed(event.TypeStageApproved, "hooks.stage_approved",
		func(ctx context.Context, evt *event.Event) error {
			hook, ok := r.lookup(evt.TargetType)
			if !ok {
				return nil
			}
			return hook.OnStageApproved(ctx, targetOf(evt), int(evt.GetPayloadInt("order_index")))
		})

	d.SubscribeNamed(event.TypeWorkflowApproved, "hooks.workflow_approved",
		func(ctx context.Context, evt *event.Event) error {
			hook, ok := r.lookup(evt.TargetType)
			if !ok {
				return nil
			}
			return hook.OnFullyApproved(ctx, targetOf(evt))
		})

	d.SubscribeNamed(event.TypeWorkflowRejected, "hooks.workflow_rejected",
		func(ctx context.Context, evt *event.Event) error {
			hook, ok := r.lookup(evt.TargetType)
			if !ok {
				return nil
			}
			return hook.OnRejected(ctx, targetOf(evt), int(evt.GetPayloadInt("order_index")))
		})

	d.SubscribeNamed(event.TypeWorkflowCancelled, "hooks.workflow_cancelled",
		func(ctx context.Context, evt *event.Event) error {
			hook, ok := r.lookup(evt.TargetType)
			if !ok {
				return nil
			}
			return hook.OnCancelled(ctx, targetOf(evt))
		})
}

func targetOf(evt *event.Event) entity.TargetRef {
	return entity.TargetRef{Type: evt.TargetType, ID: evt.TargetID}
}
