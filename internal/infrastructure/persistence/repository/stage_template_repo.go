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

// StageTemplateRepository implements port.StageTemplateRepository
type StageTemplateRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStageTemplateRepository creates a new stage template repository
func NewStageTemplateRepository(db *sql.DB, logger *zap.Logger) port.StageTemplateRepository {
	return &StageTemplateRepository{
		db:     db,
		logger: logger,
	}
}

const stageTemplateColumns = `id, template_id, order_index, name, decision_policy, quorum_count, required_role, allow_reject, allow_delegate, sla_hours, created_at, updated_at`

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStageTemplate(row rowScanner, stage *entity.StageTemplate) error {
	return row.Scan(
		&stage.ID,
		&stage.TemplateID,
		&stage.OrderIndex,
		&stage.Name,
		&stage.DecisionPolicy,
		&stage.QuorumCount,
		&stage.RequiredRole,
		&stage.AllowReject,
		&stage.AllowDelegate,
		&stage.SLAHours,
		&stage.CreatedAt,
		&stage.UpdatedAt,
	)
}

// Create persists a new stage template
func (r *StageTemplateRepository) Create(ctx context.Context, stage *entity.StageTemplate) error {
	query := `
		INSERT INTO stage_templates (
			template_id, order_index, name, decision_policy, quorum_count,
			required_role, allow_reject, allow_delegate, sla_hours,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		stage.TemplateID,
		stage.OrderIndex,
		stage.Name,
		stage.DecisionPolicy,
		stage.QuorumCount,
		stage.RequiredRole,
		stage.AllowReject,
		stage.AllowDelegate,
		stage.SLAHours,
		stage.CreatedAt,
		stage.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create stage template",
			zap.Int64("template_id", stage.TemplateID),
			zap.Int("order_index", stage.OrderIndex),
			zap.Error(err))
		return fmt.Errorf("failed to create stage template: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	stage.ID = id
	return nil
}

// GetByID retrieves a stage template by ID
func (r *StageTemplateRepository) GetByID(ctx context.Context, id int64) (*entity.StageTemplate, error) {
	query := `SELECT ` + stageTemplateColumns + ` FROM stage_templates WHERE id = ?`

	var stage entity.StageTemplate
	err := scanStageTemplate(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id), &stage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get stage template by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get stage template: %w", err)
	}

	return &stage, nil
}

// GetByTemplateID retrieves all stages of a template ordered by order index
func (r *StageTemplateRepository) GetByTemplateID(ctx context.Context, templateID int64) ([]*entity.StageTemplate, error) {
	query := `
		SELECT ` + stageTemplateColumns + `
		FROM stage_templates
		WHERE template_id = ?
		ORDER BY order_index ASC
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, templateID)
	if err != nil {
		r.logger.Error("Failed to get stages by template", zap.Int64("template_id", templateID), zap.Error(err))
		return nil, fmt.Errorf("failed to get stage templates: %w", err)
	}
	defer rows.Close()

	var stages []*entity.StageTemplate
	for rows.Next() {
		var stage entity.StageTemplate
		if err := scanStageTemplate(rows, &stage); err != nil {
			return nil, fmt.Errorf("failed to scan stage template: %w", err)
		}
		stages = append(stages, &stage)
	}

	return stages, rows.Err()
}

// GetByOrderIndex retrieves the stage of a template at one order index
func (r *StageTemplateRepository) GetByOrderIndex(ctx context.Context, templateID int64, orderIndex int) (*entity.StageTemplate, error) {
	query := `SELECT ` + stageTemplateColumns + ` FROM stage_templates WHERE template_id = ? AND order_index = ?`

	var stage entity.StageTemplate
	err := scanStageTemplate(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, templateID, orderIndex), &stage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get stage by order index",
			zap.Int64("template_id", templateID),
			zap.Int("order_index", orderIndex),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get stage template: %w", err)
	}

	return &stage, nil
}

// GetNextByOrderIndex retrieves the stage with the lowest order index strictly
// greater than afterIndex, or nil when the template has no further stage
func (r *StageTemplateRepository) GetNextByOrderIndex(ctx context.Context, templateID int64, afterIndex int) (*entity.StageTemplate, error) {
	query := `
		SELECT ` + stageTemplateColumns + `
		FROM stage_templates
		WHERE template_id = ? AND order_index > ?
		ORDER BY order_index ASC
		LIMIT 1
	`

	var stage entity.StageTemplate
	err := scanStageTemplate(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, templateID, afterIndex), &stage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get next stage",
			zap.Int64("template_id", templateID),
			zap.Int("after_index", afterIndex),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get next stage template: %w", err)
	}

	return &stage, nil
}

// DeleteByTemplateID removes all stages of a template
func (r *StageTemplateRepository) DeleteByTemplateID(ctx context.Context, templateID int64) error {
	query := `DELETE FROM stage_templates WHERE template_id = ?`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query, templateID)
	if err != nil {
		r.logger.Error("Failed to delete stage templates", zap.Int64("template_id", templateID), zap.Error(err))
		return fmt.Errorf("failed to delete stage templates: %w", err)
	}

	return nil
}

// Verify interface compliance
var _ port.StageTemplateRepository = (*StageTemplateRepository)(nil)
