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

// AssignmentRepository implements port.AssignmentRepository
type AssignmentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(db *sql.DB, logger *zap.Logger) port.AssignmentRepository {
	return &AssignmentRepository{
		db:     db,
		logger: logger,
	}
}

const assignmentColumns = `id, stage_instance_id, user_id, role_snapshot, status, created_at`

func scanAssignment(row rowScanner) (*entity.Assignment, error) {
	var assignment entity.Assignment
	err := row.Scan(
		&assignment.ID,
		&assignment.StageInstanceID,
		&assignment.UserID,
		&assignment.RoleSnapshot,
		&assignment.Status,
		&assignment.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

// Create persists a new assignment
func (r *AssignmentRepository) Create(ctx context.Context, assignment *entity.Assignment) error {
	query := `
		INSERT INTO assignments (
			stage_instance_id, user_id, role_snapshot, status
		) VALUES (?, ?, ?, ?)
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		assignment.StageInstanceID,
		assignment.UserID,
		assignment.RoleSnapshot,
		assignment.Status,
	)
	if err != nil {
		r.logger.Error("Failed to create assignment",
			zap.Int64("stage_instance_id", assignment.StageInstanceID),
			zap.String("user_id", assignment.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create assignment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	assignment.ID = id
	return nil
}

// GetByID retrieves an assignment by ID
func (r *AssignmentRepository) GetByID(ctx context.Context, id int64) (*entity.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = ?`

	assignment, err := scanAssignment(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get assignment by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}

	return assignment, nil
}

// GetByStageInstanceID retrieves all assignments of a stage instance
func (r *AssignmentRepository) GetByStageInstanceID(ctx context.Context, stageInstanceID int64) ([]*entity.Assignment, error) {
	query := `
		SELECT ` + assignmentColumns + `
		FROM assignments
		WHERE stage_instance_id = ?
		ORDER BY id ASC
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, stageInstanceID)
	if err != nil {
		r.logger.Error("Failed to get assignments by stage", zap.Int64("stage_instance_id", stageInstanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to get assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*entity.Assignment
	for rows.Next() {
		assignment, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, assignment)
	}

	return assignments, rows.Err()
}

// GetByStageAndUser retrieves one user's assignment within a stage
func (r *AssignmentRepository) GetByStageAndUser(ctx context.Context, stageInstanceID int64, userID string) (*entity.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE stage_instance_id = ? AND user_id = ?`

	assignment, err := scanAssignment(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, stageInstanceID, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get assignment by stage and user",
			zap.Int64("stage_instance_id", stageInstanceID),
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}

	return assignment, nil
}

// UpdateStatus updates the status of an assignment
func (r *AssignmentRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE assignments SET status = ? WHERE id = ?`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query, status, id)
	if err != nil {
		r.logger.Error("Failed to update assignment status", zap.Int64("id", id), zap.String("status", status), zap.Error(err))
		return fmt.Errorf("failed to update assignment status: %w", err)
	}

	return nil
}

// MarkPendingSkipped flips every PENDING assignment of a decided stage to
// SKIPPED in one statement
func (r *AssignmentRepository) MarkPendingSkipped(ctx context.Context, stageInstanceID int64) error {
	query := `UPDATE assignments SET status = ? WHERE stage_instance_id = ? AND status = ?`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		entity.AssignmentStatusSkipped,
		stageInstanceID,
		entity.AssignmentStatusPending,
	)
	if err != nil {
		r.logger.Error("Failed to skip pending assignments", zap.Int64("stage_instance_id", stageInstanceID), zap.Error(err))
		return fmt.Errorf("failed to skip pending assignments: %w", err)
	}

	return nil
}

// GetPendingByUser retrieves a user's open assignments on ACTIVE stages of
// IN_PROGRESS workflows, oldest first
func (r *AssignmentRepository) GetPendingByUser(ctx context.Context, userID string) ([]*port.PendingApproval, error) {
	query := `
		SELECT a.id, wi.id, wi.target_type, wi.target_id, si.name,
			si.order_index, a.role_snapshot, a.created_at
		FROM assignments a
		JOIN stage_instances si ON si.id = a.stage_instance_id AND si.status = 'ACTIVE'
		JOIN workflow_instances wi ON wi.id = si.instance_id AND wi.status = 'IN_PROGRESS'
		WHERE a.user_id = ? AND a.status = 'PENDING'
		ORDER BY a.created_at ASC, a.id ASC
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, userID)
	if err != nil {
		r.logger.Error("Failed to get pending approvals", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get pending approvals: %w", err)
	}
	defer rows.Close()

	var pending []*port.PendingApproval
	for rows.Next() {
		var p port.PendingApproval
		err := rows.Scan(
			&p.AssignmentID,
			&p.InstanceID,
			&p.TargetType,
			&p.TargetID,
			&p.StageName,
			&p.OrderIndex,
			&p.RoleSnapshot,
			&p.AssignedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending approval: %w", err)
		}
		pending = append(pending, &p)
	}

	return pending, rows.Err()
}

// Verify interface compliance
var _ port.AssignmentRepository = (*AssignmentRepository)(nil)
