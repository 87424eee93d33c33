package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/erpcore/approval-engine/internal/config"
	"github.com/erpcore/approval-engine/internal/container"
	httpapi "github.com/erpcore/approval-engine/internal/interfaces/http"
	"github.com/erpcore/approval-engine/pkg/database"
	"github.com/erpcore/approval-engine/pkg/utils"
)

const version = "1.0.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "approval-engine",
		Short: "Multi-stage approval workflow engine",
		Long: `approval-engine drives business records through configurable
multi-stage approval workflows: templates define the stages, the engine
assigns approvers by role, collects decisions and keeps a full audit trail.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (optional; env vars apply on top)")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newMigrateCommand(&configPath))

	return root
}

// loadConfig loads .env (when present) and then the full configuration
func loadConfig(configPath string) (*config.Config, error) {
	_ = gotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the approval engine HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			defer logger.Sync()

			logger.Info("Starting approval engine",
				zap.String("version", version),
				zap.Int("port", cfg.Server.Port))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := container.NewContainer(cfg, logger)
			if err != nil {
				return fmt.Errorf("build container: %w", err)
			}
			if err := c.Start(ctx); err != nil {
				return fmt.Errorf("start container: %w", err)
			}
			defer func() {
				if err := c.Close(); err != nil {
					logger.Error("Container shutdown error", zap.Error(err))
				}
			}()

			srv := httpapi.NewServer(
				httpapi.ServerConfig{
					Host:         cfg.Server.Host,
					Port:         cfg.Server.Port,
					ReadTimeout:  cfg.Server.ReadTimeout,
					WriteTimeout: cfg.Server.WriteTimeout,
				},
				c.Manager(),
				c.Templates(),
				kvLogger{logger.Sugar()},
				httpapi.WithMetricsHandler(c.Metrics().Handler()),
				httpapi.WithHealthCheck(func() error {
					return c.SQLDB().Ping()
				}),
			)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Start(gctx)
			})
			g.Go(func() error {
				return watchDatabase(gctx, c, logger)
			})

			if err := g.Wait(); err != nil {
				return fmt.Errorf("server exited: %w", err)
			}

			logger.Info("Approval engine stopped")
			return nil
		},
	}
}

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			defer logger.Sync()

			db, err := database.New(database.Config{
				Path:            cfg.Database.Path,
				MaxOpenConns:    cfg.Database.MaxOpenConns,
				MaxIdleConns:    cfg.Database.MaxIdleConns,
				ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			}, logger)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			migrator := database.NewMigrator(db, logger)
			if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}

			logger.Info("Migrations applied", zap.String("dir", cfg.Database.MigrationsDir))
			return nil
		},
	}
}

// watchDatabase pings the database periodically so a wedged connection
// shows up in the logs before users hit it. Returns nil on shutdown.
func watchDatabase(ctx context.Context, c *container.Container, logger *zap.Logger) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.SQLDB().PingContext(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Database ping failed", zap.Error(err))
			}
		}
	}
}

// kvLogger adapts zap's sugared logger to the HTTP package's logger
type kvLogger struct {
	s *zap.SugaredLogger
}

func (l kvLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l kvLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}
