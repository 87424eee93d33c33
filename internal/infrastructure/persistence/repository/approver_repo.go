package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/erpcore/approval-engine/internal/application/port"
	"github.com/erpcore/approval-engine/internal/domain/entity"
	"github.com/erpcore/approval-engine/internal/infrastructure/persistence/sqlite"
)

// ApproverRepository implements port.ApproverRepository
type ApproverRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApproverRepository creates a new approver repository
func NewApproverRepository(db *sql.DB, logger *zap.Logger) port.ApproverRepository {
	return &ApproverRepository{
		db:     db,
		logger: logger,
	}
}

// GetActiveUserIDsByRole retrieves the user IDs currently holding a role.
// Ordering by user ID keeps assignment creation deterministic.
func (r *ApproverRepository) GetActiveUserIDsByRole(ctx context.Context, role string) ([]string, error) {
	query := `
		SELECT user_id
		FROM approvers
		WHERE role = ? AND active = 1
		ORDER BY user_id ASC
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, role)
	if err != nil {
		r.logger.Error("Failed to get approvers by role", zap.String("role", role), zap.Error(err))
		return nil, fmt.Errorf("failed to get approvers by role: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan approver: %w", err)
		}
		userIDs = append(userIDs, userID)
	}

	return userIDs, rows.Err()
}

// Create persists a new approver row
func (r *ApproverRepository) Create(ctx context.Context, approver *entity.Approver) error {
	query := `INSERT INTO approvers (user_id, role, active) VALUES (?, ?, ?)`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		approver.UserID,
		approver.Role,
		approver.Active,
	)
	if err != nil {
		r.logger.Error("Failed to create approver",
			zap.String("user_id", approver.UserID),
			zap.String("role", approver.Role),
			zap.Error(err))
		return fmt.Errorf("failed to create approver: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	approver.ID = id
	return nil
}

// List retrieves approver rows with pagination
func (r *ApproverRepository) List(ctx context.Context, limit, offset int) ([]*entity.Approver, error) {
	query := `
		SELECT id, user_id, role, active, created_at
		FROM approvers
		ORDER BY role ASC, user_id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list approvers", zap.Error(err))
		return nil, fmt.Errorf("failed to list approvers: %w", err)
	}
	defer rows.Close()

	var approvers []*entity.Approver
	for rows.Next() {
		var approver entity.Approver
		err := rows.Scan(
			&approver.ID,
			&approver.UserID,
			&approver.Role,
			&approver.Active,
			&approver.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approver: %w", err)
		}
		approvers = append(approvers, &approver)
	}

	return approvers, rows.Err()
}

// Verify interface compliance
var _ port.ApproverRepository = (*ApproverRepository)(nil)
