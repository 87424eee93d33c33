package repository

import (
	"context"

	"github.com/erpcore/approval-engine/internal/application/port"
)

// RoleDirectory implements port.RoleResolver against the approvers table.
// The engine consults it once per stage activation; the result is frozen into
// assignment role snapshots.
type RoleDirectory struct {
	approvers port.ApproverRepository
}

// NewRoleDirectory creates a resolver backed by the approver directory
func NewRoleDirectory(approvers port.ApproverRepository) port.RoleResolver {
	return &RoleDirectory{approvers: approvers}
}

// ResolveRole returns the active holders of a role, ordered by user ID
func (d *RoleDirectory) ResolveRole(ctx context.Context, role string) ([]string, error) {
	return d.approvers.GetActiveUserIDsByRole(ctx, role)
}

// Verify interface compliance
var _ port.RoleResolver = (*RoleDirectory)(nil)
