package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/food-approval-api/internal/models"
)

const approvalLogColumns = `l.id, l.approval_request_id, l.action, l.from_status, l.to_status, l.performed_by,
       l.performer_role, l.performer_account_type, l.reason, l.created_at`

// ApprovalLogRepository is the append-only approval ledger. It deliberately
// exposes no update or delete operations.
type ApprovalLogRepository struct {
	db *sqlx.DB
}

// NewApprovalLogRepository constructs the repository.
func NewApprovalLogRepository(db *sqlx.DB) *ApprovalLogRepository {
	return &ApprovalLogRepository{db: db}
}

// Append inserts a ledger entry.
func (r *ApprovalLogRepository) Append(ctx context.Context, log *models.ApprovalLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO approval_logs
	(id, approval_request_id, action, from_status, to_status, performed_by, performer_role, performer_account_type, reason, created_at)
	VALUES (:id, :approval_request_id, :action, :from_status, :to_status, :performed_by, :performer_role, :performer_account_type, :reason, :created_at)`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("append approval log: %w", err)
	}
	return nil
}

// ListByRequest returns the ledger of one request in chronological order.
func (r *ApprovalLogRepository) ListByRequest(ctx context.Context, requestID string) ([]models.ApprovalLog, error) {
	const query = `SELECT ` + approvalLogColumns + `
	FROM approval_logs l WHERE l.approval_request_id = $1
	ORDER BY l.created_at ASC, l.id ASC`
	logs := make([]models.ApprovalLog, 0)
	if err := conn(ctx, r.db).SelectContext(ctx, &logs, query, requestID); err != nil {
		return nil, fmt.Errorf("list approval logs: %w", err)
	}
	return logs, nil
}

// ListAudit returns ledger entries joined with their requests, most recent
// first, along with the total number of matching entries.
func (r *ApprovalLogRepository) ListAudit(ctx context.Context, filter models.ApprovalAuditFilter) ([]models.ApprovalAuditEntry, int, error) {
	base := `FROM approval_logs l
JOIN approval_requests r ON r.id = l.approval_request_id`
	var conditions []string
	var args []interface{}

	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		conditions = append(conditions, fmt.Sprintf("r.entity_type = $%d", len(args)))
	}
	if filter.RegionCode != "" {
		args = append(args, filter.RegionCode)
		conditions = append(conditions, fmt.Sprintf("r.region_code = $%d", len(args)))
	}
	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	offset := (page - 1) * size

	db := conn(ctx, r.db)
	query := fmt.Sprintf(`SELECT %s, r.entity_type, r.entity_id, r.region_code
	%s ORDER BY l.created_at DESC, l.id DESC LIMIT %d OFFSET %d`, approvalLogColumns, base+clause, size, offset)
	entries := make([]models.ApprovalAuditEntry, 0)
	if err := db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list approval audit logs: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count approval audit logs: %w", err)
	}
	return entries, total, nil
}
