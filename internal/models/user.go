package models

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin          UserRole = "ADMIN"
	RoleMasterReviewer UserRole = "MASTER_REVIEWER"
	RoleRegionReviewer UserRole = "REGION_REVIEWER"
	RoleChainOwner     UserRole = "CHAIN_OWNER"
	RoleStoreManager   UserRole = "STORE_MANAGER"
	RoleCustomer       UserRole = "CUSTOMER"
	RoleDriver         UserRole = "DRIVER"
)

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
