package dto

import "github.com/noah-isme/food-approval-api/internal/models"

// SubmitApprovalRequest is the payload for submitting an entity for review.
type SubmitApprovalRequest struct {
	EntityType           models.EntityType `json:"entityType" validate:"required"`
	EntityID             string            `json:"entityId" validate:"required"`
	RegionCode           string            `json:"regionCode" validate:"required,regioncode"`
	SubmitterID          string            `json:"-" validate:"required"`
	SubmitterAccountType string            `json:"-"`
}

// ReviewDecisionRequest carries the optional (approve) or mandatory (reject) reason.
type ReviewDecisionRequest struct {
	Reason string `json:"reason"`
}

// ApprovalRequestDetail is a request together with its ledger in chronological order.
type ApprovalRequestDetail struct {
	models.ApprovalRequest
	Logs []models.ApprovalLog `json:"logs"`
}

// AuditLogQuery mirrors supported audit listing filters.
type AuditLogQuery struct {
	Page       int
	PageSize   int
	EntityType models.EntityType
	RegionCode string
}

// AuditLogPage is one page of joined ledger entries.
type AuditLogPage struct {
	Items      []models.ApprovalAuditEntry `json:"items"`
	TotalCount int                         `json:"totalCount"`
	Page       int                         `json:"page"`
	PageSize   int                         `json:"pageSize"`
}
