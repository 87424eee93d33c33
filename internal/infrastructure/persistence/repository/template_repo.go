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

// TemplateRepository implements port.TemplateRepository
type TemplateRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *sql.DB, logger *zap.Logger) port.TemplateRepository {
	return &TemplateRepository{
		db:     db,
		logger: logger,
	}
}

const templateColumns = `id, code, name, description, target_type, version, is_active, created_at, updated_at`

// Create persists a new workflow template
func (r *TemplateRepository) Create(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	query := `
		INSERT INTO workflow_templates (
			code, name, description, target_type, version, is_active,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		tpl.Code,
		tpl.Name,
		tpl.Description,
		tpl.TargetType,
		tpl.Version,
		tpl.IsActive,
		tpl.CreatedAt,
		tpl.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create template", zap.String("code", tpl.Code), zap.Error(err))
		return fmt.Errorf("failed to create template: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	tpl.ID = id
	return nil
}

// GetByID retrieves a template with its stages loaded
func (r *TemplateRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM workflow_templates WHERE id = ?`

	tpl, err := r.scanTemplate(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get template by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	if err := r.loadStages(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// GetActiveByTargetType retrieves the active template for a target type with
// its stages loaded. Highest version wins if deactivation ever left two rows
// marked active.
func (r *TemplateRepository) GetActiveByTargetType(ctx context.Context, targetType string) (*entity.WorkflowTemplate, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM workflow_templates
		WHERE target_type = ? AND is_active = 1
		ORDER BY version DESC
		LIMIT 1
	`

	tpl, err := r.scanTemplate(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, targetType))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get active template", zap.String("target_type", targetType), zap.Error(err))
		return nil, fmt.Errorf("failed to get active template: %w", err)
	}

	if err := r.loadStages(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// List retrieves templates with pagination, newest first. Stages are not
// loaded; listing is a catalogue view.
func (r *TemplateRepository) List(ctx context.Context, limit, offset int) ([]*entity.WorkflowTemplate, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM workflow_templates
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list templates", zap.Error(err))
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []*entity.WorkflowTemplate
	for rows.Next() {
		var tpl entity.WorkflowTemplate
		err := rows.Scan(
			&tpl.ID,
			&tpl.Code,
			&tpl.Name,
			&tpl.Description,
			&tpl.TargetType,
			&tpl.Version,
			&tpl.IsActive,
			&tpl.CreatedAt,
			&tpl.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, &tpl)
	}

	return templates, rows.Err()
}

// Update updates the mutable fields of a template
func (r *TemplateRepository) Update(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	query := `
		UPDATE workflow_templates
		SET name = ?, description = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		tpl.Name,
		tpl.Description,
		tpl.UpdatedAt,
		tpl.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update template", zap.Int64("id", tpl.ID), zap.Error(err))
		return fmt.Errorf("failed to update template: %w", err)
	}

	return nil
}

// SetActive flips the active flag of a template
func (r *TemplateRepository) SetActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE workflow_templates SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query, active, id)
	if err != nil {
		r.logger.Error("Failed to set template active flag", zap.Int64("id", id), zap.Bool("active", active), zap.Error(err))
		return fmt.Errorf("failed to set template active flag: %w", err)
	}

	return nil
}

// Delete removes a template row
func (r *TemplateRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM workflow_templates WHERE id = ?`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query, id)
	if err != nil {
		r.logger.Error("Failed to delete template", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete template: %w", err)
	}

	return nil
}

// HasInstances reports whether any workflow instance references the template
func (r *TemplateRepository) HasInstances(ctx context.Context, id int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM workflow_instances WHERE template_id = ?)`

	var exists bool
	err := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id).Scan(&exists)
	if err != nil {
		r.logger.Error("Failed to check template instances", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to check template instances: %w", err)
	}

	return exists, nil
}

func (r *TemplateRepository) scanTemplate(row *sql.Row) (*entity.WorkflowTemplate, error) {
	var tpl entity.WorkflowTemplate
	err := row.Scan(
		&tpl.ID,
		&tpl.Code,
		&tpl.Name,
		&tpl.Description,
		&tpl.TargetType,
		&tpl.Version,
		&tpl.IsActive,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

// loadStages fills tpl.Stages ordered by order index
func (r *TemplateRepository) loadStages(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	query := `
		SELECT ` + stageTemplateColumns + `
		FROM stage_templates
		WHERE template_id = ?
		ORDER BY order_index ASC
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, tpl.ID)
	if err != nil {
		r.logger.Error("Failed to load template stages", zap.Int64("template_id", tpl.ID), zap.Error(err))
		return fmt.Errorf("failed to load template stages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var stage entity.StageTemplate
		if err := scanStageTemplate(rows, &stage); err != nil {
			return fmt.Errorf("failed to scan stage template: %w", err)
		}
		tpl.Stages = append(tpl.Stages, stage)
	}

	return rows.Err()
}

// Verify interface compliance
var _ port.TemplateRepository = (*TemplateRepository)(nil)
