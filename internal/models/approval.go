package models

import "time"

// EntityType identifies the kind of business entity under review. Values are
// stored as text so new kinds only need a registry entry.
type EntityType string

const (
	EntityTypeChainOwner   EntityType = "ChainOwner"
	EntityTypeStoreAccount EntityType = "StoreAccount"
	EntityTypeStoreManager EntityType = "StoreManager"
	EntityTypeFood         EntityType = "Food"
)

// EntityTypes lists the built-in entity kinds in hierarchy order.
func EntityTypes() []EntityType {
	return []EntityType{EntityTypeChainOwner, EntityTypeStoreAccount, EntityTypeStoreManager, EntityTypeFood}
}

// ApprovalStatus captures the workflow state of an approval request.
type ApprovalStatus string

const (
	ApprovalStatusSubmitted        ApprovalStatus = "Submitted"
	ApprovalStatusApprovedByRegion ApprovalStatus = "ApprovedByRegion"
	ApprovalStatusRejectedByRegion ApprovalStatus = "RejectedByRegion"
	ApprovalStatusRejectedByMaster ApprovalStatus = "RejectedByMaster"
	ApprovalStatusApproved         ApprovalStatus = "Approved"
)

// ActiveApprovalStatuses are the non-terminal statuses.
func ActiveApprovalStatuses() []ApprovalStatus {
	return []ApprovalStatus{ApprovalStatusSubmitted, ApprovalStatusApprovedByRegion}
}

// IsTerminal reports whether no further transition is permitted.
func (s ApprovalStatus) IsTerminal() bool {
	switch s {
	case ApprovalStatusRejectedByRegion, ApprovalStatusRejectedByMaster, ApprovalStatusApproved:
		return true
	}
	return false
}

// ApprovalAction enumerates ledger actions.
type ApprovalAction string

const (
	ApprovalActionSubmit  ApprovalAction = "Submit"
	ApprovalActionApprove ApprovalAction = "Approve"
	ApprovalActionReject  ApprovalAction = "Reject"
)

// ReviewerRole is the reviewer tier recorded on a ledger entry at action time.
type ReviewerRole string

const (
	ReviewerRoleRegion ReviewerRole = "RegionReviewer"
	ReviewerRoleMaster ReviewerRole = "MasterReviewer"
)

// ApprovalRequest is one approval lifecycle for an entity.
type ApprovalRequest struct {
	ID            string         `db:"id" json:"id"`
	EntityType    EntityType     `db:"entity_type" json:"entityType"`
	EntityID      string         `db:"entity_id" json:"entityId"`
	CurrentStatus ApprovalStatus `db:"current_status" json:"currentStatus"`
	RegionCode    string         `db:"region_code" json:"regionCode"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt     *time.Time     `db:"updated_at" json:"updatedAt,omitempty"`
}

// ApprovalLog is an immutable ledger entry.
type ApprovalLog struct {
	ID                   string          `db:"id" json:"id"`
	ApprovalRequestID    string          `db:"approval_request_id" json:"approvalRequestId"`
	Action               ApprovalAction  `db:"action" json:"action"`
	FromStatus           *ApprovalStatus `db:"from_status" json:"fromStatus"`
	ToStatus             ApprovalStatus  `db:"to_status" json:"toStatus"`
	PerformedBy          string          `db:"performed_by" json:"performedBy"`
	PerformerRole        *ReviewerRole   `db:"performer_role" json:"performerRole"`
	PerformerAccountType *string         `db:"performer_account_type" json:"performerAccountType,omitempty"`
	Reason               *string         `db:"reason" json:"reason"`
	CreatedAt            time.Time       `db:"created_at" json:"createdAt"`
}

// ApprovalAuditEntry is a ledger entry joined with its owning request.
type ApprovalAuditEntry struct {
	ApprovalLog
	EntityType EntityType `db:"entity_type" json:"entityType"`
	EntityID   string     `db:"entity_id" json:"entityId"`
	RegionCode string     `db:"region_code" json:"regionCode"`
}

// ApprovalRequestFilter constrains request listings.
type ApprovalRequestFilter struct {
	Status     []ApprovalStatus
	RegionCode string
	EntityType EntityType
	EntityID   string
	// SortDesc orders by created_at descending; the default is oldest first.
	SortDesc bool
}

// ApprovalAuditFilter constrains audit log listings.
type ApprovalAuditFilter struct {
	EntityType EntityType
	RegionCode string
	Page       int
	PageSize   int
}

// ParentStatus is the registry's answer to a parent lookup.
type ParentStatus string

const (
	ParentStatusActive    ParentStatus = "Active"
	ParentStatusNotActive ParentStatus = "NotActive"
	ParentStatusNotFound  ParentStatus = "NotFound"
)

// ActivationOutcome instructs the registry how to resolve an entity.
type ActivationOutcome string

const (
	ActivationOutcomeActivated ActivationOutcome = "Activated"
	ActivationOutcomeRejected  ActivationOutcome = "Rejected"
)

// EntityStatus is the status column value of a registry entity.
type EntityStatus string

const (
	EntityStatusPending   EntityStatus = "Pending"
	EntityStatusActive    EntityStatus = "Active"
	EntityStatusPublished EntityStatus = "Published"
	EntityStatusRejected  EntityStatus = "Rejected"
)
