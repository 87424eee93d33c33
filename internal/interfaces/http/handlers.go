package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/erpcore/approval-engine/internal/application/service"
	"github.com/erpcore/approval-engine/internal/domain/approval"
	"github.com/erpcore/approval-engine/internal/domain/entity"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	approval  service.ApprovalManager
	templates service.TemplateService
	logger    Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	approval service.ApprovalManager,
	templates service.TemplateService,
	logger Logger,
) *Handlers {
	return &Handlers{
		approval:  approval,
		templates: templates,
		logger:    logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// StartWorkflowRequest starts a workflow against a target
type StartWorkflowRequest struct {
	TargetType string `json:"target_type" binding:"required"`
	TargetID   string `json:"target_id" binding:"required"`
	StartedBy  string `json:"started_by"`
}

// WorkflowActionRequest applies one approver action to a target's workflow
type WorkflowActionRequest struct {
	TargetType string `json:"target_type" binding:"required"`
	TargetID   string `json:"target_id" binding:"required"`
	UserID     string `json:"user_id"`
	Kind       string `json:"kind" binding:"required"`
	Comment    string `json:"comment"`
	TargetUser string `json:"target_user"`
}

// CancelWorkflowRequest cancels a target's live workflow
type CancelWorkflowRequest struct {
	TargetType string `json:"target_type" binding:"required"`
	TargetID   string `json:"target_id" binding:"required"`
	UserID     string `json:"user_id"`
	Reason     string `json:"reason"`
}

// RestartWorkflowRequest starts a fresh workflow after a terminal outcome
type RestartWorkflowRequest struct {
	TargetType  string `json:"target_type" binding:"required"`
	TargetID    string `json:"target_id" binding:"required"`
	RestartedBy string `json:"restarted_by"`
}

// TemplateRequest carries a template definition
type TemplateRequest struct {
	Code        string         `json:"code"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	TargetType  string         `json:"target_type"`
	Stages      []StageRequest `json:"stages"`
}

// StageRequest carries one stage definition
type StageRequest struct {
	OrderIndex     int    `json:"order_index"`
	Name           string `json:"name"`
	DecisionPolicy string `json:"decision_policy"`
	QuorumCount    int    `json:"quorum_count"`
	RequiredRole   string `json:"required_role"`
	AllowReject    bool   `json:"allow_reject"`
	AllowDelegate  bool   `json:"allow_delegate"`
	SLAHours       int    `json:"sla_hours"`
}

func (r *TemplateRequest) toEntity() *entity.WorkflowTemplate {
	tpl := &entity.WorkflowTemplate{
		Code:        r.Code,
		Name:        r.Name,
		Description: r.Description,
		TargetType:  r.TargetType,
	}
	for _, s := range r.Stages {
		tpl.Stages = append(tpl.Stages, s.toEntity())
	}
	return tpl
}

func (s *StageRequest) toEntity() entity.StageTemplate {
	return entity.StageTemplate{
		OrderIndex:     s.OrderIndex,
		Name:           s.Name,
		DecisionPolicy: s.DecisionPolicy,
		QuorumCount:    s.QuorumCount,
		RequiredRole:   s.RequiredRole,
		AllowReject:    s.AllowReject,
		AllowDelegate:  s.AllowDelegate,
		SLAHours:       s.SLAHours,
	}
}

// respondError maps domain error classes to HTTP statuses. Unclassified
// errors return 500 without leaking detail.
func (h *Handlers) respondError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, approval.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, approval.ErrConfiguration):
		status = http.StatusBadRequest
	case errors.Is(err, approval.ErrPolicyViolation):
		status = http.StatusForbidden
	case errors.Is(err, approval.ErrState), errors.Is(err, approval.ErrConcurrencyConflict):
		status = http.StatusConflict
	default:
		h.logger.Error("Request failed", "error", err, "path", c.Request.URL.Path)
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "internal error",
		})
		return
	}

	c.JSON(status, Response{
		Success: false,
		Error:   err.Error(),
	})
}

// actingUser resolves the acting user: explicit body/query value first, the
// externally authenticated X-User-ID header otherwise
func actingUser(c *gin.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return c.GetHeader("X-User-ID")
}

// idParam parses the :id path parameter
func (h *Handlers) idParam(c *gin.Context) (int64, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid id",
		})
		return 0, false
	}
	return id, true
}

// ListTemplates handles GET /api/workflow-templates
func (h *Handlers) ListTemplates(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	templates, err := h.templates.ListTemplates(c.Request.Context(), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: templates})
}

// CreateTemplate handles POST /api/workflow-templates
func (h *Handlers) CreateTemplate(c *gin.Context) {
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	created, err := h.templates.CreateTemplate(c.Request.Context(), req.toEntity())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: created})
}

// GetTemplate handles GET /api/workflow-templates/:id
func (h *Handlers) GetTemplate(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}

	tpl, err := h.templates.GetTemplate(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: tpl})
}

// UpdateTemplate handles PUT /api/workflow-templates/:id
func (h *Handlers) UpdateTemplate(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}

	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	updated, err := h.templates.UpdateTemplate(c.Request.Context(), id, req.toEntity())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: updated})
}

// DeleteTemplate handles DELETE /api/workflow-templates/:id
func (h *Handlers) DeleteTemplate(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}

	if err := h.templates.DeleteTemplate(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// GetStages handles GET /api/workflow-templates/:id/stages
func (h *Handlers) GetStages(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}

	stages, err := h.templates.GetStages(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: stages})
}

// AddStage handles POST /api/workflow-templates/:id/stages
func (h *Handlers) AddStage(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}

	var req StageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	stage := req.toEntity()
	created, err := h.templates.AddStage(c.Request.Context(), id, &stage)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: created})
}

// StartWorkflow handles POST /api/workflows/start
func (h *Handlers) StartWorkflow(c *gin.Context) {
	var req StartWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "target_type and target_id are required"})
		return
	}

	user := actingUser(c, req.StartedBy)
	if user == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "started_by or X-User-ID is required"})
		return
	}

	target := entity.TargetRef{Type: req.TargetType, ID: req.TargetID}
	instance, err := h.approval.StartWorkflow(c.Request.Context(), target, user)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: instance})
}

// ProcessAction handles POST /api/workflows/action
func (h *Handlers) ProcessAction(c *gin.Context) {
	var req WorkflowActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "target_type, target_id and kind are required"})
		return
	}

	user := actingUser(c, req.UserID)
	if user == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "user_id or X-User-ID is required"})
		return
	}

	target := entity.TargetRef{Type: req.TargetType, ID: req.TargetID}
	instance, err := h.approval.ProcessAction(c.Request.Context(), target, user, service.ActionRequest{
		Kind:       req.Kind,
		Comment:    req.Comment,
		TargetUser: req.TargetUser,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: instance})
}

// CancelWorkflow handles POST /api/workflows/cancel
func (h *Handlers) CancelWorkflow(c *gin.Context) {
	var req CancelWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "target_type and target_id are required"})
		return
	}

	user := actingUser(c, req.UserID)
	if user == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "user_id or X-User-ID is required"})
		return
	}

	target := entity.TargetRef{Type: req.TargetType, ID: req.TargetID}
	if err := h.approval.CancelWorkflow(c.Request.Context(), target, user, req.Reason); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// RestartWorkflow handles POST /api/workflows/restart
func (h *Handlers) RestartWorkflow(c *gin.Context) {
	var req RestartWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "target_type and target_id are required"})
		return
	}

	user := actingUser(c, req.RestartedBy)
	if user == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "restarted_by or X-User-ID is required"})
		return
	}

	target := entity.TargetRef{Type: req.TargetType, ID: req.TargetID}
	instance, err := h.approval.RestartWorkflow(c.Request.Context(), target, user)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: instance})
}

// CurrentWorkflow handles GET /api/workflows/current
func (h *Handlers) CurrentWorkflow(c *gin.Context) {
	targetType := c.Query("target_type")
	targetID := c.Query("target_id")
	if targetType == "" || targetID == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "target_type and target_id are required"})
		return
	}

	detail, err := h.approval.CurrentWorkflow(c.Request.Context(), entity.TargetRef{Type: targetType, ID: targetID})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: detail})
}

// PendingWorkflows handles GET /api/workflows/pending
func (h *Handlers) PendingWorkflows(c *gin.Context) {
	user := actingUser(c, c.Query("user_id"))
	if user == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "user_id or X-User-ID is required"})
		return
	}

	instances, err := h.approval.PendingWorkflows(c.Request.Context(), user)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: instances})
}

// History handles GET /api/workflows/:id/history
func (h *Handlers) History(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}

	actions, err := h.approval.History(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: actions})
}

// PendingApprovals handles GET /api/approvals/pending
func (h *Handlers) PendingApprovals(c *gin.Context) {
	user := actingUser(c, c.Query("user_id"))
	if user == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "user_id or X-User-ID is required"})
		return
	}

	pending, err := h.approval.PendingApprovals(c.Request.Context(), user)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: pending})
}
