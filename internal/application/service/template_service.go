package service

import (
	"context"
	"fmt"
	"time"

	"github.com/erpcore/approval-engine/internal/application/port"
	"github.com/erpcore/approval-engine/internal/domain/approval"
	"github.com/erpcore/approval-engine/internal/domain/entity"
)

// TemplateService manages workflow template definitions and their versions.
type TemplateService interface {
	CreateTemplate(ctx context.Context, tpl *entity.WorkflowTemplate) (*entity.WorkflowTemplate, error)
	GetTemplate(ctx context.Context, id int64) (*entity.WorkflowTemplate, error)
	ListTemplates(ctx context.Context, limit, offset int) ([]*entity.WorkflowTemplate, error)

	// UpdateTemplate replaces a template's definition. Templates that have
	// been started are never edited in place; the update lands as a new
	// version and the old one is deactivated.
	UpdateTemplate(ctx context.Context, id int64, tpl *entity.WorkflowTemplate) (*entity.WorkflowTemplate, error)

	// DeleteTemplate removes a template that has never been started
	DeleteTemplate(ctx context.Context, id int64) error

	// GetStages returns a template's stages ordered by order index
	GetStages(ctx context.Context, templateID int64) ([]*entity.StageTemplate, error)

	// AddStage appends a stage to a template that has never been started
	AddStage(ctx context.Context, templateID int64, stage *entity.StageTemplate) (*entity.StageTemplate, error)
}

type templateServiceImpl struct {
	templateRepo      port.TemplateRepository
	stageTemplateRepo port.StageTemplateRepository
	txManager         port.TransactionManager
	logger            Logger
}

// NewTemplateService creates a new TemplateService
func NewTemplateService(
	templateRepo port.TemplateRepository,
	stageTemplateRepo port.StageTemplateRepository,
	txManager port.TransactionManager,
	logger Logger,
) TemplateService {
	return &templateServiceImpl{
		templateRepo:      templateRepo,
		stageTemplateRepo: stageTemplateRepo,
		txManager:         txManager,
		logger:            logger,
	}
}

// CreateTemplate validates and persists a new template as version 1.
func (s *templateServiceImpl) CreateTemplate(ctx context.Context, tpl *entity.WorkflowTemplate) (*entity.WorkflowTemplate, error) {
	if err := validateTemplate(tpl); err != nil {
		return nil, err
	}

	tpl.Version = 1
	tpl.IsActive = true
	now := time.Now()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.templateRepo.Create(txCtx, tpl); err != nil {
			return fmt.Errorf("create template: %w", err)
		}
		for i := range tpl.Stages {
			tpl.Stages[i].TemplateID = tpl.ID
			if err := s.stageTemplateRepo.Create(txCtx, &tpl.Stages[i]); err != nil {
				return fmt.Errorf("create stage: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create template", "error", err, "code", tpl.Code)
		return nil, err
	}

	s.logger.Info("Template created", "id", tpl.ID, "code", tpl.Code, "target_type", tpl.TargetType)
	return tpl, nil
}

// GetTemplate retrieves a template with its stages.
func (s *templateServiceImpl) GetTemplate(ctx context.Context, id int64) (*entity.WorkflowTemplate, error) {
	tpl, err := s.templateRepo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get template", "error", err, "id", id)
		return nil, err
	}
	if tpl == nil {
		return nil, fmt.Errorf("%w: workflow template %d", approval.ErrNotFound, id)
	}
	return tpl, nil
}

// ListTemplates retrieves a paginated list of templates.
func (s *templateServiceImpl) ListTemplates(ctx context.Context, limit, offset int) ([]*entity.WorkflowTemplate, error) {
	templates, err := s.templateRepo.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("Failed to list templates", "error", err, "limit", limit, "offset", offset)
		return nil, err
	}
	return templates, nil
}

// UpdateTemplate replaces a template's definition, versioning when needed.
func (s *templateServiceImpl) UpdateTemplate(ctx context.Context, id int64, tpl *entity.WorkflowTemplate) (*entity.WorkflowTemplate, error) {
	current, err := s.templateRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: workflow template %d", approval.ErrNotFound, id)
	}

	// Code and target type are the template's identity and never change
	// across versions.
	tpl.Code = current.Code
	tpl.TargetType = current.TargetType
	if err := validateTemplate(tpl); err != nil {
		return nil, err
	}

	started, err := s.templateRepo.HasInstances(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("check instances: %w", err)
	}

	if !started {
		return s.updateInPlace(ctx, current, tpl)
	}
	return s.createVersion(ctx, current, tpl)
}

func (s *templateServiceImpl) updateInPlace(ctx context.Context, current, tpl *entity.WorkflowTemplate) (*entity.WorkflowTemplate, error) {
	updated := &entity.WorkflowTemplate{
		ID:          current.ID,
		Code:        current.Code,
		Name:        tpl.Name,
		Description: tpl.Description,
		TargetType:  current.TargetType,
		Version:     current.Version,
		IsActive:    current.IsActive,
		CreatedAt:   current.CreatedAt,
		UpdatedAt:   time.Now(),
		Stages:      tpl.Stages,
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.templateRepo.Update(txCtx, updated); err != nil {
			return fmt.Errorf("update template: %w", err)
		}
		if err := s.stageTemplateRepo.DeleteByTemplateID(txCtx, updated.ID); err != nil {
			return fmt.Errorf("delete stages: %w", err)
		}
		for i := range updated.Stages {
			updated.Stages[i].ID = 0
			updated.Stages[i].TemplateID = updated.ID
			if err := s.stageTemplateRepo.Create(txCtx, &updated.Stages[i]); err != nil {
				return fmt.Errorf("create stage: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to update template", "error", err, "id", updated.ID)
		return nil, err
	}

	s.logger.Info("Template updated", "id", updated.ID, "code", updated.Code, "version", updated.Version)
	return updated, nil
}

func (s *templateServiceImpl) createVersion(ctx context.Context, current, tpl *entity.WorkflowTemplate) (*entity.WorkflowTemplate, error) {
	now := time.Now()
	next := &entity.WorkflowTemplate{
		Code:        current.Code,
		Name:        tpl.Name,
		Description: tpl.Description,
		TargetType:  current.TargetType,
		Version:     current.Version + 1,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
		Stages:      tpl.Stages,
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.templateRepo.SetActive(txCtx, current.ID, false); err != nil {
			return fmt.Errorf("deactivate template: %w", err)
		}
		if err := s.templateRepo.Create(txCtx, next); err != nil {
			return fmt.Errorf("create template version: %w", err)
		}
		for i := range next.Stages {
			next.Stages[i].ID = 0
			next.Stages[i].TemplateID = next.ID
			if err := s.stageTemplateRepo.Create(txCtx, &next.Stages[i]); err != nil {
				return fmt.Errorf("create stage: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to version template", "error", err, "code", current.Code)
		return nil, err
	}

	s.logger.Info("Template versioned", "id", next.ID, "code", next.Code, "version", next.Version, "previous_id", current.ID)
	return next, nil
}

// DeleteTemplate removes a template that has never been started.
func (s *templateServiceImpl) DeleteTemplate(ctx context.Context, id int64) error {
	tpl, err := s.templateRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if tpl == nil {
		return fmt.Errorf("%w: workflow template %d", approval.ErrNotFound, id)
	}

	started, err := s.templateRepo.HasInstances(ctx, id)
	if err != nil {
		return fmt.Errorf("check instances: %w", err)
	}
	if started {
		return fmt.Errorf("%w: template %s has instances and cannot be deleted", approval.ErrState, tpl.Code)
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.stageTemplateRepo.DeleteByTemplateID(txCtx, id); err != nil {
			return fmt.Errorf("delete stages: %w", err)
		}
		if err := s.templateRepo.Delete(txCtx, id); err != nil {
			return fmt.Errorf("delete template: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to delete template", "error", err, "id", id)
		return err
	}

	s.logger.Info("Template deleted", "id", id, "code", tpl.Code)
	return nil
}

// GetStages returns a template's stages ordered by order index.
func (s *templateServiceImpl) GetStages(ctx context.Context, templateID int64) ([]*entity.StageTemplate, error) {
	tpl, err := s.templateRepo.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, fmt.Errorf("%w: workflow template %d", approval.ErrNotFound, templateID)
	}
	return s.stageTemplateRepo.GetByTemplateID(ctx, templateID)
}

// AddStage appends a stage to a template that has never been started.
// Started templates take stage changes through UpdateTemplate, which
// versions the whole definition.
func (s *templateServiceImpl) AddStage(ctx context.Context, templateID int64, stage *entity.StageTemplate) (*entity.StageTemplate, error) {
	tpl, err := s.templateRepo.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, fmt.Errorf("%w: workflow template %d", approval.ErrNotFound, templateID)
	}

	if err := validateStage(stage); err != nil {
		return nil, err
	}
	for i := range tpl.Stages {
		if tpl.Stages[i].OrderIndex == stage.OrderIndex {
			return nil, fmt.Errorf("%w: template %s already has a stage at order %d", approval.ErrConfiguration, tpl.Code, stage.OrderIndex)
		}
	}

	started, err := s.templateRepo.HasInstances(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("check instances: %w", err)
	}
	if started {
		return nil, fmt.Errorf("%w: template %s has instances; submit the full definition as a new version", approval.ErrState, tpl.Code)
	}

	stage.TemplateID = templateID
	if err := s.stageTemplateRepo.Create(ctx, stage); err != nil {
		s.logger.Error("Failed to add stage", "error", err, "template_id", templateID)
		return nil, err
	}

	s.logger.Info("Stage added", "template_id", templateID, "order_index", stage.OrderIndex, "name", stage.Name)
	return stage, nil
}

func validateTemplate(tpl *entity.WorkflowTemplate) error {
	if tpl.Code == "" {
		return fmt.Errorf("%w: template code is required", approval.ErrConfiguration)
	}
	if tpl.Name == "" {
		return fmt.Errorf("%w: template name is required", approval.ErrConfiguration)
	}
	if tpl.TargetType == "" {
		return fmt.Errorf("%w: template target type is required", approval.ErrConfiguration)
	}

	seen := make(map[int]bool, len(tpl.Stages))
	for i := range tpl.Stages {
		if err := validateStage(&tpl.Stages[i]); err != nil {
			return err
		}
		if seen[tpl.Stages[i].OrderIndex] {
			return fmt.Errorf("%w: duplicate stage order %d", approval.ErrConfiguration, tpl.Stages[i].OrderIndex)
		}
		seen[tpl.Stages[i].OrderIndex] = true
	}
	return nil
}

func validateStage(stage *entity.StageTemplate) error {
	if stage.Name == "" {
		return fmt.Errorf("%w: stage name is required", approval.ErrConfiguration)
	}
	if stage.OrderIndex < 1 {
		return fmt.Errorf("%w: stage order must be positive, got %d", approval.ErrConfiguration, stage.OrderIndex)
	}
	if stage.RequiredRole == "" {
		return fmt.Errorf("%w: stage %q requires a role", approval.ErrConfiguration, stage.Name)
	}

	switch stage.DecisionPolicy {
	case entity.PolicyAll, entity.PolicyAny:
		// QuorumCount is ignored for these policies.
	case entity.PolicyQuorum:
		if stage.QuorumCount < 1 {
			return fmt.Errorf("%w: stage %q uses QUORUM and needs a positive quorum count", approval.ErrConfiguration, stage.Name)
		}
	default:
		return fmt.Errorf("%w: unknown decision policy %q", approval.ErrConfiguration, stage.DecisionPolicy)
	}
	return nil
}
