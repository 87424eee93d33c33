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

// ActionRepository implements port.ActionRepository. The actions table is
// append-only; there are no update or delete statements here.
type ActionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewActionRepository creates a new action repository
func NewActionRepository(db *sql.DB, logger *zap.Logger) port.ActionRepository {
	return &ActionRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends an action to the audit trail
func (r *ActionRepository) Create(ctx context.Context, action *entity.Action) error {
	query := `
		INSERT INTO actions (
			instance_id, stage_instance_id, assignment_id, user_id, kind,
			comment, target_user
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		action.InstanceID,
		action.StageInstanceID,
		action.AssignmentID,
		action.UserID,
		action.Kind,
		action.Comment,
		action.TargetUser,
	)
	if err != nil {
		r.logger.Error("Failed to create action",
			zap.Int64("instance_id", action.InstanceID),
			zap.String("kind", action.Kind),
			zap.Error(err))
		return fmt.Errorf("failed to create action: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	action.ID = id
	return nil
}

// GetByInstanceID retrieves the full trail of an instance in chronological
// order. Ties on created_at break by insertion order.
func (r *ActionRepository) GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.Action, error) {
	query := `
		SELECT id, instance_id, stage_instance_id, assignment_id, user_id,
			kind, comment, target_user, created_at
		FROM actions
		WHERE instance_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, instanceID)
	if err != nil {
		r.logger.Error("Failed to get actions", zap.Int64("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to get actions: %w", err)
	}
	defer rows.Close()

	var actions []*entity.Action
	for rows.Next() {
		var action entity.Action
		var stageInstanceID, assignmentID sql.NullInt64

		err := rows.Scan(
			&action.ID,
			&action.InstanceID,
			&stageInstanceID,
			&assignmentID,
			&action.UserID,
			&action.Kind,
			&action.Comment,
			&action.TargetUser,
			&action.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}

		if stageInstanceID.Valid {
			action.StageInstanceID = &stageInstanceID.Int64
		}
		if assignmentID.Valid {
			action.AssignmentID = &assignmentID.Int64
		}

		actions = append(actions, &action)
	}

	return actions, rows.Err()
}

// Verify interface compliance
var _ port.ActionRepository = (*ActionRepository)(nil)
