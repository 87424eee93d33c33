// Package container provides dependency injection and lifecycle management
// for the approval engine.
package container

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/erpcore/approval-engine/internal/application/dispatcher"
	"github.com/erpcore/approval-engine/internal/application/port"
	"github.com/erpcore/approval-engine/internal/application/service"
	"github.com/erpcore/approval-engine/internal/config"
	"github.com/erpcore/approval-engine/internal/infrastructure/persistence/repository"
	"github.com/erpcore/approval-engine/internal/infrastructure/persistence/sqlite"
	"github.com/erpcore/approval-engine/pkg/database"
	"github.com/erpcore/approval-engine/pkg/metrics"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Template      port.TemplateRepository
	StageTemplate port.StageTemplateRepository
	Instance      port.InstanceRepository
	StageInstance port.StageInstanceRepository
	Assignment    port.AssignmentRepository
	Action        port.ActionRepository
	Approver      port.ApproverRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Approval  service.ApprovalManager
	Templates service.TemplateService
}

// ServiceDeps carries everything the service providers need.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Resolver   port.RoleResolver
	Dispatcher dispatcher.Dispatcher
	Metrics    *metrics.Metrics
	Engine     *config.EngineConfig
	Logger     *zap.Logger
}

// ProvideDatabase opens the database, runs pending migrations and wraps the
// connection in the transaction manager.
func ProvideDatabase(cfg *config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.MigrationsDir != "" {
		migrator := database.NewMigrator(db, logger)
		if err := migrator.RunMigrations(cfg.MigrationsDir); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Template:      repository.NewTemplateRepository(sqlDB, logger),
		StageTemplate: repository.NewStageTemplateRepository(sqlDB, logger),
		Instance:      repository.NewInstanceRepository(sqlDB, logger),
		StageInstance: repository.NewStageInstanceRepository(sqlDB, logger),
		Assignment:    repository.NewAssignmentRepository(sqlDB, logger),
		Action:        repository.NewActionRepository(sqlDB, logger),
		Approver:      repository.NewApproverRepository(sqlDB, logger),
	}, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return dispatcher.NewDispatcher(dispatcher.WithLogger(&zapKVLogger{logger: logger})), nil
}

// ProvideServices creates the approval manager and template service.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil || deps.TxManager == nil || deps.Resolver == nil {
		return nil, fmt.Errorf("repositories, transaction manager and resolver are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	svcLogger := &zapKVLogger{logger: deps.Logger}

	opts := []service.ManagerOption{}
	if deps.Dispatcher != nil {
		opts = append(opts, service.WithDispatcher(deps.Dispatcher))
	}
	if deps.Metrics != nil {
		opts = append(opts, service.WithMetrics(deps.Metrics))
	}
	if deps.Engine != nil {
		opts = append(opts,
			service.WithLockWait(deps.Engine.LockWait),
			service.WithMachineExpiry(deps.Engine.MachineCacheTTL),
		)
	}

	manager := service.NewApprovalManager(
		deps.Repos.Template,
		deps.Repos.StageTemplate,
		deps.Repos.Instance,
		deps.Repos.StageInstance,
		deps.Repos.Assignment,
		deps.Repos.Action,
		deps.TxManager,
		deps.Resolver,
		svcLogger,
		opts...,
	)

	templates := service.NewTemplateService(
		deps.Repos.Template,
		deps.Repos.StageTemplate,
		deps.TxManager,
		svcLogger,
	)

	return &ServiceBundle{
		Approval:  manager,
		Templates: templates,
	}, nil
}
