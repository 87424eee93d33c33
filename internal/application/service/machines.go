package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erpcore/approval-engine/internal/application/port"
	"github.com/erpcore/approval-engine/internal/domain/approval"
)

// buildLifecycleMachine creates a state machine configured with the workflow
// instance lifecycle.
func buildLifecycleMachine(initial approval.State) approval.StateMachine {
	builder := approval.NewBuilder()

	builder.Configure(approval.StatePending).
		Permit(approval.TriggerStart, approval.StateInProgress).
		Permit(approval.TriggerCancel, approval.StateCancelled)

	builder.Configure(approval.StateInProgress).
		Permit(approval.TriggerApprove, approval.StateApproved).
		Permit(approval.TriggerReject, approval.StateRejected).
		Permit(approval.TriggerCancel, approval.StateCancelled)

	// APPROVED, REJECTED and CANCELLED are terminal states - no outgoing transitions

	return builder.Build(initial)
}

// machineSet caches one lifecycle machine per workflow instance. Machines are
// rebuilt from the persisted status after the expiry window, and dropped
// after every attempted transition so a rolled-back Fire never leaves a
// machine ahead of the database.
type machineSet struct {
	instanceRepo port.InstanceRepository

	mu         sync.RWMutex
	machines   map[int64]approval.StateMachine
	lastAccess map[int64]time.Time
	expiry     time.Duration
}

func newMachineSet(instanceRepo port.InstanceRepository, expiry time.Duration) *machineSet {
	return &machineSet{
		instanceRepo: instanceRepo,
		machines:     make(map[int64]approval.StateMachine),
		lastAccess:   make(map[int64]time.Time),
		expiry:       expiry,
	}
}

// Get returns the machine for an instance, building it from the persisted
// status when not cached.
func (m *machineSet) Get(ctx context.Context, instanceID int64) (approval.StateMachine, error) {
	m.mu.RLock()
	machine, exists := m.machines[instanceID]
	lastAccess := m.lastAccess[instanceID]
	m.mu.RUnlock()

	if exists && time.Since(lastAccess) < m.expiry {
		m.mu.Lock()
		m.lastAccess[instanceID] = time.Now()
		m.mu.Unlock()
		return machine, nil
	}

	instance, err := m.instanceRepo.GetByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("fetch instance: %w", err)
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: workflow instance %d", approval.ErrNotFound, instanceID)
	}

	state := approval.State(instance.Status)
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: instance %d has unknown status %q", approval.ErrState, instanceID, instance.Status)
	}

	machine = buildLifecycleMachine(state)

	m.mu.Lock()
	m.machines[instanceID] = machine
	m.lastAccess[instanceID] = time.Now()
	m.mu.Unlock()

	return machine, nil
}

// Invalidate drops the cached machine for an instance.
func (m *machineSet) Invalidate(instanceID int64) {
	m.mu.Lock()
	delete(m.machines, instanceID)
	delete(m.lastAccess, instanceID)
	m.mu.Unlock()
}
