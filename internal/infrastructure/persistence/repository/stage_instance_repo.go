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

// StageInstanceRepository implements port.StageInstanceRepository
type StageInstanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStageInstanceRepository creates a new stage instance repository
func NewStageInstanceRepository(db *sql.DB, logger *zap.Logger) port.StageInstanceRepository {
	return &StageInstanceRepository{
		db:     db,
		logger: logger,
	}
}

const stageInstanceColumns = `id, instance_id, stage_template_id, order_index, name, status, activated_at, completed_at`

func scanStageInstance(row rowScanner) (*entity.StageInstance, error) {
	var stage entity.StageInstance
	var activatedAt, completedAt sql.NullTime

	err := row.Scan(
		&stage.ID,
		&stage.InstanceID,
		&stage.StageTemplateID,
		&stage.OrderIndex,
		&stage.Name,
		&stage.Status,
		&activatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if activatedAt.Valid {
		stage.ActivatedAt = &activatedAt.Time
	}
	if completedAt.Valid {
		stage.CompletedAt = &completedAt.Time
	}
	return &stage, nil
}

// Create persists a new stage instance
func (r *StageInstanceRepository) Create(ctx context.Context, stage *entity.StageInstance) error {
	query := `
		INSERT INTO stage_instances (
			instance_id, stage_template_id, order_index, name, status
		) VALUES (?, ?, ?, ?, ?)
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		stage.InstanceID,
		stage.StageTemplateID,
		stage.OrderIndex,
		stage.Name,
		stage.Status,
	)
	if err != nil {
		r.logger.Error("Failed to create stage instance",
			zap.Int64("instance_id", stage.InstanceID),
			zap.Int("order_index", stage.OrderIndex),
			zap.Error(err))
		return fmt.Errorf("failed to create stage instance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	stage.ID = id
	return nil
}

// GetByID retrieves a stage instance by ID
func (r *StageInstanceRepository) GetByID(ctx context.Context, id int64) (*entity.StageInstance, error) {
	query := `SELECT ` + stageInstanceColumns + ` FROM stage_instances WHERE id = ?`

	stage, err := scanStageInstance(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get stage instance by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get stage instance: %w", err)
	}

	return stage, nil
}

// GetByInstanceAndIndex retrieves the stage instance for one order index of
// one workflow instance
func (r *StageInstanceRepository) GetByInstanceAndIndex(ctx context.Context, instanceID int64, orderIndex int) (*entity.StageInstance, error) {
	query := `SELECT ` + stageInstanceColumns + ` FROM stage_instances WHERE instance_id = ? AND order_index = ?`

	stage, err := scanStageInstance(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, instanceID, orderIndex))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get stage instance by index",
			zap.Int64("instance_id", instanceID),
			zap.Int("order_index", orderIndex),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get stage instance: %w", err)
	}

	return stage, nil
}

// GetActiveByInstance retrieves the single ACTIVE stage of an instance, or
// nil when none is active
func (r *StageInstanceRepository) GetActiveByInstance(ctx context.Context, instanceID int64) (*entity.StageInstance, error) {
	query := `SELECT ` + stageInstanceColumns + ` FROM stage_instances WHERE instance_id = ? AND status = 'ACTIVE'`

	stage, err := scanStageInstance(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, instanceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get active stage", zap.Int64("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to get active stage: %w", err)
	}

	return stage, nil
}

// GetByInstanceID retrieves all stage instances ordered by order index
func (r *StageInstanceRepository) GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.StageInstance, error) {
	query := `
		SELECT ` + stageInstanceColumns + `
		FROM stage_instances
		WHERE instance_id = ?
		ORDER BY order_index ASC
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, instanceID)
	if err != nil {
		r.logger.Error("Failed to get stage instances", zap.Int64("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to get stage instances: %w", err)
	}
	defer rows.Close()

	var stages []*entity.StageInstance
	for rows.Next() {
		stage, err := scanStageInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage instance: %w", err)
		}
		stages = append(stages, stage)
	}

	return stages, rows.Err()
}

// Activate marks the stage ACTIVE and stamps activated_at
func (r *StageInstanceRepository) Activate(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE stage_instances SET status = ?, activated_at = ? WHERE id = ?`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query, entity.StageStatusActive, at, id)
	if err != nil {
		r.logger.Error("Failed to activate stage", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to activate stage: %w", err)
	}

	return nil
}

// Complete moves the stage to a terminal status and stamps completed_at
func (r *StageInstanceRepository) Complete(ctx context.Context, id int64, status string, at time.Time) error {
	query := `UPDATE stage_instances SET status = ?, completed_at = ? WHERE id = ?`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query, status, at, id)
	if err != nil {
		r.logger.Error("Failed to complete stage", zap.Int64("id", id), zap.String("status", status), zap.Error(err))
		return fmt.Errorf("failed to complete stage: %w", err)
	}

	return nil
}

// Verify interface compliance
var _ port.StageInstanceRepository = (*StageInstanceRepository)(nil)
