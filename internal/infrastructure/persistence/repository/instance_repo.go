package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/erpcore/approval-engine/internal/application/port"
	"github.com/erpcore/approval-engine/internal/domain/entity"
	"github.com/erpcore/approval-engine/internal/infrastructure/persistence/sqlite"
)

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new workflow instance repository
func NewInstanceRepository(db *sql.DB, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

const instanceColumns = `id, template_id, target_type, target_id, status, current_stage_index, created_by, created_at, completed_at`

func scanInstance(row rowScanner) (*entity.WorkflowInstance, error) {
	var instance entity.WorkflowInstance
	var completedAt sql.NullTime

	err := row.Scan(
		&instance.ID,
		&instance.TemplateID,
		&instance.TargetType,
		&instance.TargetID,
		&instance.Status,
		&instance.CurrentStageIndex,
		&instance.CreatedBy,
		&instance.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		instance.CompletedAt = &completedAt.Time
	}
	return &instance, nil
}

// Create persists a new workflow instance
func (r *InstanceRepository) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	query := `
		INSERT INTO workflow_instances (
			template_id, target_type, target_id, status, current_stage_index,
			created_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		instance.TemplateID,
		instance.TargetType,
		instance.TargetID,
		instance.Status,
		instance.CurrentStageIndex,
		instance.CreatedBy,
		instance.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create instance",
			zap.String("target_type", instance.TargetType),
			zap.String("target_id", instance.TargetID),
			zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	instance.ID = id
	return nil
}

// GetByID retrieves a workflow instance by ID
func (r *InstanceRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = ?`

	instance, err := scanInstance(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	return instance, nil
}

// GetCurrentByTarget retrieves the single non-terminal instance for a target.
// The partial unique index on live instances guarantees at most one row.
func (r *InstanceRepository) GetCurrentByTarget(ctx context.Context, targetType, targetID string) (*entity.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE target_type = ? AND target_id = ? AND status IN ('PENDING', 'IN_PROGRESS')
	`

	instance, err := scanInstance(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, targetType, targetID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get current instance",
			zap.String("target_type", targetType),
			zap.String("target_id", targetID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get current instance: %w", err)
	}

	return instance, nil
}

// GetLatestByTarget retrieves the most recent instance for a target
// regardless of status
func (r *InstanceRepository) GetLatestByTarget(ctx context.Context, targetType, targetID string) (*entity.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE target_type = ? AND target_id = ?
		ORDER BY id DESC
		LIMIT 1
	`

	instance, err := scanInstance(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, targetType, targetID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get latest instance",
			zap.String("target_type", targetType),
			zap.String("target_id", targetID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get latest instance: %w", err)
	}

	return instance, nil
}

// UpdateStatus updates the status of a workflow instance
func (r *InstanceRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE workflow_instances SET status = ? WHERE id = ?`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query, status, id)
	if err != nil {
		r.logger.Error("Failed to update instance status", zap.Int64("id", id), zap.String("status", status), zap.Error(err))
		return fmt.Errorf("failed to update instance status: %w", err)
	}

	return nil
}

// UpdateCurrentStage updates the current stage pointer of an instance
func (r *InstanceRepository) UpdateCurrentStage(ctx context.Context, id int64, orderIndex int) error {
	query := `UPDATE workflow_instances SET current_stage_index = ? WHERE id = ?`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query, orderIndex, id)
	if err != nil {
		r.logger.Error("Failed to update current stage", zap.Int64("id", id), zap.Int("order_index", orderIndex), zap.Error(err))
		return fmt.Errorf("failed to update current stage: %w", err)
	}

	return nil
}

// SetCompletedAt stamps the completion time of an instance
func (r *InstanceRepository) SetCompletedAt(ctx context.Context, id int64, t time.Time) error {
	query := `UPDATE workflow_instances SET completed_at = ? WHERE id = ?`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query, t, id)
	if err != nil {
		r.logger.Error("Failed to set completion time", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to set completion time: %w", err)
	}

	return nil
}

// List retrieves workflow instances with pagination, newest first
func (r *InstanceRepository) List(ctx context.Context, limit, offset int) ([]*entity.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list instances", zap.Error(err))
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	return collectInstances(rows)
}

// ListPendingForUser retrieves the IN_PROGRESS instances on which the user
// holds an open assignment, oldest first. One ACTIVE stage per instance and
// one assignment per user per stage keep the join free of duplicates.
func (r *InstanceRepository) ListPendingForUser(ctx context.Context, userID string) ([]*entity.WorkflowInstance, error) {
	query := `
		SELECT wi.id, wi.template_id, wi.target_type, wi.target_id, wi.status,
			wi.current_stage_index, wi.created_by, wi.created_at, wi.completed_at
		FROM workflow_instances wi
		JOIN stage_instances si ON si.instance_id = wi.id AND si.status = 'ACTIVE'
		JOIN assignments a ON a.stage_instance_id = si.id
		WHERE wi.status = 'IN_PROGRESS' AND a.user_id = ? AND a.status = 'PENDING'
		ORDER BY wi.created_at ASC, wi.id ASC
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, userID)
	if err != nil {
		r.logger.Error("Failed to list pending instances", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to list pending instances: %w", err)
	}
	defer rows.Close()

	return collectInstances(rows)
}

func collectInstances(rows *sql.Rows) ([]*entity.WorkflowInstance, error) {
	var instances []*entity.WorkflowInstance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

// Verify interface compliance
var _ port.InstanceRepository = (*InstanceRepository)(nil)
