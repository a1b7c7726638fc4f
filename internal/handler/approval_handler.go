package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/food-approval-api/internal/dto"
	"github.com/noah-isme/food-approval-api/internal/middleware"
	"github.com/noah-isme/food-approval-api/internal/models"
	"github.com/noah-isme/food-approval-api/internal/service"
	appErrors "github.com/noah-isme/food-approval-api/pkg/errors"
	"github.com/noah-isme/food-approval-api/pkg/response"
)

type approvalWorkflow interface {
	SubmitForApproval(ctx context.Context, entityType models.EntityType, entityID, regionCode, submitterID, submitterAccountType string) (*models.ApprovalRequest, error)
	ApproveByRegion(ctx context.Context, requestID, reviewerID, reason string) (*models.ApprovalRequest, error)
	RejectByRegion(ctx context.Context, requestID, reviewerID, reason string) (*models.ApprovalRequest, error)
	ApproveByMaster(ctx context.Context, requestID, reviewerID, reason string) (*models.ApprovalRequest, error)
	RejectByMaster(ctx context.Context, requestID, reviewerID, reason string) (*models.ApprovalRequest, error)
}

type approvalQueries interface {
	GetByID(ctx context.Context, id string) (*dto.ApprovalRequestDetail, error)
	PendingForRegion(ctx context.Context, regionCode string) ([]models.ApprovalRequest, error)
	PendingForMaster(ctx context.Context) ([]models.ApprovalRequest, error)
	ListByEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]models.ApprovalRequest, error)
	AuditPage(ctx context.Context, query dto.AuditLogQuery) (*dto.AuditLogPage, error)
	ExportAuditLogs(ctx context.Context, format service.ExportFormat, entityType models.EntityType, regionCode string) ([]byte, string, error)
}

type reviewTier int

const (
	regionTier reviewTier = iota
	masterTier
)

type reasonRule int

const (
	optionalReason reasonRule = iota
	mandatoryReason
)

type reviewFunc func(ctx context.Context, requestID, reviewerID, reason string) (*models.ApprovalRequest, error)

// ApprovalHandler exposes REST endpoints for the two-tier approval workflow.
type ApprovalHandler struct {
	workflow approvalWorkflow
	queries  approvalQueries
}

// NewApprovalHandler constructs the handler.
func NewApprovalHandler(workflow approvalWorkflow, queries approvalQueries) *ApprovalHandler {
	return &ApprovalHandler{workflow: workflow, queries: queries}
}

// Submit godoc
// @Summary Submit an entity for approval
// @Tags Approvals
// @Accept json
// @Produce json
// @Param payload body dto.SubmitApprovalRequest true "Submission payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /approvals [post]
func (h *ApprovalHandler) Submit(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.SubmitApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid submission payload"))
		return
	}
	accountType := claims.AccountType
	if accountType == "" {
		accountType = string(claims.Role)
	}
	request, err := h.workflow.SubmitForApproval(
		c.Request.Context(),
		req.EntityType,
		req.EntityID,
		strings.ToUpper(strings.TrimSpace(req.RegionCode)),
		claims.UserID,
		accountType,
	)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// Get godoc
// @Summary Get an approval request with its ledger
// @Tags Approvals
// @Produce json
// @Param id path string true "Approval request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /approvals/{id} [get]
func (h *ApprovalHandler) Get(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	detail, err := h.queries.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := authorizeRegion(claims, detail.RegionCode); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// PendingRegion godoc
// @Summary List requests awaiting region review
// @Tags Approvals
// @Produce json
// @Param regionCode query string false "Region code; defaults to the reviewer's region"
// @Success 200 {object} response.Envelope
// @Router /approvals/pending/region [get]
func (h *ApprovalHandler) PendingRegion(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	start := time.Now()
	regionCode := strings.ToUpper(strings.TrimSpace(c.Query("regionCode")))
	if regionCode == "" {
		regionCode = claims.RegionCode
	}
	if err := authorizeRegion(claims, regionCode); err != nil {
		response.Error(c, err)
		return
	}
	items, err := h.queries.PendingForRegion(c.Request.Context(), regionCode)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil, middleware.ResponseMeta(c, start))
}

// PendingMaster godoc
// @Summary List requests awaiting master review
// @Tags Approvals
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /approvals/pending/master [get]
func (h *ApprovalHandler) PendingMaster(c *gin.Context) {
	start := time.Now()
	items, err := h.queries.PendingForMaster(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil, middleware.ResponseMeta(c, start))
}

// EntityHistory godoc
// @Summary List every approval request opened for an entity
// @Tags Approvals
// @Produce json
// @Param entityType path string true "Entity type"
// @Param entityId path string true "Entity ID"
// @Success 200 {object} response.Envelope
// @Router /approvals/entities/{entityType}/{entityId} [get]
func (h *ApprovalHandler) EntityHistory(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	items, err := h.queries.ListByEntity(c.Request.Context(), models.EntityType(c.Param("entityType")), c.Param("entityId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, visibleRequests(claims, items), nil)
}

// AuditLogs godoc
// @Summary Page through the approval ledger, most recent first
// @Tags Approvals
// @Produce json
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Param entityType query string false "Entity type filter"
// @Param regionCode query string false "Region code filter"
// @Success 200 {object} response.Envelope
// @Router /approvals/audit-logs [get]
func (h *ApprovalHandler) AuditLogs(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	regionCode, err := scopedRegion(claims, c.Query("regionCode"))
	if err != nil {
		response.Error(c, err)
		return
	}
	page, err := h.queries.AuditPage(c.Request.Context(), dto.AuditLogQuery{
		Page:       queryInt(c, "page"),
		PageSize:   queryInt(c, "pageSize"),
		EntityType: models.EntityType(strings.TrimSpace(c.Query("entityType"))),
		RegionCode: regionCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, page.Items, &models.Pagination{
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalCount: page.TotalCount,
	})
}

// ExportAuditLogs godoc
// @Summary Download the approval ledger as CSV or PDF
// @Tags Approvals
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Param entityType query string false "Entity type filter"
// @Param regionCode query string false "Region code filter"
// @Success 200 {file} file
// @Router /approvals/audit-logs/export [get]
func (h *ApprovalHandler) ExportAuditLogs(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	regionCode, err := scopedRegion(claims, c.Query("regionCode"))
	if err != nil {
		response.Error(c, err)
		return
	}
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", string(service.ExportFormatCSV))))
	payload, contentType, err := h.queries.ExportAuditLogs(
		c.Request.Context(),
		format,
		models.EntityType(strings.TrimSpace(c.Query("entityType"))),
		regionCode,
	)
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("approval-audit-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	response.Attachment(c, filename, contentType, payload)
}

// RegionApprove godoc
// @Summary Approve a submitted request at region level
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Approval request ID"
// @Param payload body dto.ReviewDecisionRequest false "Optional reason"
// @Success 200 {object} response.Envelope
// @Router /approvals/{id}/region/approve [post]
func (h *ApprovalHandler) RegionApprove(c *gin.Context) {
	h.review(c, regionTier, optionalReason, h.workflow.ApproveByRegion)
}

// RegionReject godoc
// @Summary Reject a submitted request at region level
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Approval request ID"
// @Param payload body dto.ReviewDecisionRequest true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Router /approvals/{id}/region/reject [post]
func (h *ApprovalHandler) RegionReject(c *gin.Context) {
	h.review(c, regionTier, mandatoryReason, h.workflow.RejectByRegion)
}

// MasterApprove godoc
// @Summary Approve a region-approved request and activate the entity
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Approval request ID"
// @Param payload body dto.ReviewDecisionRequest false "Optional reason"
// @Success 200 {object} response.Envelope
// @Router /approvals/{id}/master/approve [post]
func (h *ApprovalHandler) MasterApprove(c *gin.Context) {
	h.review(c, masterTier, optionalReason, h.workflow.ApproveByMaster)
}

// MasterReject godoc
// @Summary Reject a region-approved request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Approval request ID"
// @Param payload body dto.ReviewDecisionRequest true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Router /approvals/{id}/master/reject [post]
func (h *ApprovalHandler) MasterReject(c *gin.Context) {
	h.review(c, masterTier, mandatoryReason, h.workflow.RejectByMaster)
}

func (h *ApprovalHandler) review(c *gin.Context, tier reviewTier, reasons reasonRule, decide reviewFunc) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.ReviewDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid review payload"))
		return
	}
	// Before the lookup: a blank reject reason is a validation error even on unknown requests.
	if reasons == mandatoryReason && strings.TrimSpace(req.Reason) == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "reason is required when rejecting"))
		return
	}
	requestID := c.Param("id")
	if tier == regionTier && claims.Role == models.RoleRegionReviewer {
		detail, err := h.queries.GetByID(c.Request.Context(), requestID)
		if err != nil {
			response.Error(c, err)
			return
		}
		if err := authorizeRegion(claims, detail.RegionCode); err != nil {
			response.Error(c, err)
			return
		}
	}
	request, err := decide(c.Request.Context(), requestID, claims.UserID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

func queryInt(c *gin.Context, key string) int {
	value, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil {
		return 0
	}
	return value
}
