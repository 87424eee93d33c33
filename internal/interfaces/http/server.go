// Package http provides the HTTP adapter for the application layer.
// This is a thin layer that translates HTTP requests to service calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/erpcore/approval-engine/internal/application/service"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the HTTP server adapter
type Server struct {
	config         ServerConfig
	httpServer     *http.Server
	router         *gin.Engine
	approval       service.ApprovalManager
	templates      service.TemplateService
	logger         Logger
	metricsHandler http.Handler
	healthCheck    func() error
}

// ServerOption configures optional server wiring
type ServerOption func(*Server)

// WithMetricsHandler mounts a Prometheus handler at /metrics
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metricsHandler = h
	}
}

// WithHealthCheck sets the probe consulted by /health; a non-nil error turns
// the endpoint unhealthy
func WithHealthCheck(fn func() error) ServerOption {
	return func(s *Server) {
		s.healthCheck = fn
	}
}

// NewServer creates a new HTTP server with the given services
func NewServer(
	config ServerConfig,
	approval service.ApprovalManager,
	templates service.TemplateService,
	logger Logger,
	opts ...ServerOption,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	server := &Server{
		config:    config,
		router:    router,
		approval:  approval,
		templates: templates,
		logger:    logger,
	}

	for _, opt := range opts {
		opt(server)
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

// requestIDMiddleware tags every request with an ID, honoring one supplied
// by the caller
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
			"request_id", c.GetString("request_id"),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.approval, s.templates, s.logger)

	s.router.GET("/health", s.healthHandler())
	if s.metricsHandler != nil {
		s.router.GET("/metrics", gin.WrapH(s.metricsHandler))
	}

	api := s.router.Group("/api")
	{
		// Template administration
		api.GET("/workflow-templates", handlers.ListTemplates)
		api.POST("/workflow-templates", handlers.CreateTemplate)
		api.GET("/workflow-templates/:id", handlers.GetTemplate)
		api.PUT("/workflow-templates/:id", handlers.UpdateTemplate)
		api.DELETE("/workflow-templates/:id", handlers.DeleteTemplate)
		api.GET("/workflow-templates/:id/stages", handlers.GetStages)
		api.POST("/workflow-templates/:id/stages", handlers.AddStage)

		// Workflow operations
		api.POST("/workflows/start", handlers.StartWorkflow)
		api.POST("/workflows/action", handlers.ProcessAction)
		api.POST("/workflows/cancel", handlers.CancelWorkflow)
		api.POST("/workflows/restart", handlers.RestartWorkflow)
		api.GET("/workflows/current", handlers.CurrentWorkflow)
		api.GET("/workflows/pending", handlers.PendingWorkflows)
		api.GET("/workflows/:id/history", handlers.History)

		// Approver worklist
		api.GET("/approvals/pending", handlers.PendingApprovals)
	}
}

// healthHandler reports service health, consulting the configured probe
func (s *Server) healthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.healthCheck != nil {
			if err := s.healthCheck(); err != nil {
				c.JSON(http.StatusServiceUnavailable, Response{
					Success: false,
					Error:   err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, Response{
			Success: true,
			Data: HealthResponse{
				Status:    "healthy",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Version:   "1.0.0",
			},
		})
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
