package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/food-approval-api/internal/models"
)

// ErrActiveRequestExists is returned when the partial unique index on active
// requests rejects an insert.
var ErrActiveRequestExists = errors.New("active approval request already exists")

const uniqueViolation = "23505"

const approvalRequestColumns = `id, entity_type, entity_id, current_status, region_code, created_at, updated_at`

// ApprovalRequestRepository persists approval request lifecycles.
type ApprovalRequestRepository struct {
	db *sqlx.DB
}

// NewApprovalRequestRepository constructs the repository.
func NewApprovalRequestRepository(db *sqlx.DB) *ApprovalRequestRepository {
	return &ApprovalRequestRepository{db: db}
}

// Create inserts a new request row.
func (r *ApprovalRequestRepository) Create(ctx context.Context, request *models.ApprovalRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.CurrentStatus == "" {
		request.CurrentStatus = models.ApprovalStatusSubmitted
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO approval_requests (` + approvalRequestColumns + `)
	VALUES (:id, :entity_type, :entity_id, :current_status, :region_code, :created_at, :updated_at)`
	if _, err := conn(ctx, r.db).NamedExecContext(ctx, query, request); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrActiveRequestExists
		}
		return fmt.Errorf("create approval request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *ApprovalRequestRepository) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	const query = `SELECT ` + approvalRequestColumns + ` FROM approval_requests WHERE id = $1`
	var request models.ApprovalRequest
	if err := conn(ctx, r.db).GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// GetByIDForUpdate fetches a request and locks its row until the surrounding
// transaction ends.
func (r *ApprovalRequestRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	const query = `SELECT ` + approvalRequestColumns + ` FROM approval_requests WHERE id = $1 FOR UPDATE`
	var request models.ApprovalRequest
	if err := conn(ctx, r.db).GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// FindActiveByEntity returns the non-terminal request for the entity, or sql.ErrNoRows.
func (r *ApprovalRequestRepository) FindActiveByEntity(ctx context.Context, entityType models.EntityType, entityID string) (*models.ApprovalRequest, error) {
	const query = `SELECT ` + approvalRequestColumns + ` FROM approval_requests
	WHERE entity_type = $1 AND entity_id = $2 AND current_status IN ($3, $4)
	ORDER BY created_at DESC LIMIT 1`
	active := models.ActiveApprovalStatuses()
	var request models.ApprovalRequest
	if err := conn(ctx, r.db).GetContext(ctx, &request, query, entityType, entityID, active[0], active[1]); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns requests matching the filter, oldest first unless SortDesc is set.
func (r *ApprovalRequestRepository) List(ctx context.Context, filter models.ApprovalRequestFilter) ([]models.ApprovalRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 5)
	builder.WriteString(`SELECT ` + approvalRequestColumns + ` FROM approval_requests`)

	conditions := make([]string, 0, 4)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("current_status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.RegionCode != "" {
		args = append(args, filter.RegionCode)
		conditions = append(conditions, fmt.Sprintf("region_code = $%d", len(args)))
	}
	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		conditions = append(conditions, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		conditions = append(conditions, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	if filter.SortDesc {
		builder.WriteString(" ORDER BY created_at DESC, id DESC")
	} else {
		builder.WriteString(" ORDER BY created_at ASC, id ASC")
	}

	requests := make([]models.ApprovalRequest, 0)
	if err := conn(ctx, r.db).SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	return requests, nil
}

// UpdateApprovalStatusParams describes a guarded status transition.
type UpdateApprovalStatusParams struct {
	ID        string
	From      models.ApprovalStatus
	To        models.ApprovalStatus
	UpdatedAt time.Time
}

// UpdateStatus applies the transition only when the row is still in From.
// sql.ErrNoRows signals that another writer moved the request first.
func (r *ApprovalRequestRepository) UpdateStatus(ctx context.Context, params UpdateApprovalStatusParams) error {
	const query = `UPDATE approval_requests SET current_status = $1, updated_at = $2
	WHERE id = $3 AND current_status = $4`
	result, err := conn(ctx, r.db).ExecContext(ctx, query, params.To, params.UpdatedAt, params.ID, params.From)
	if err != nil {
		return fmt.Errorf("update approval status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check approval update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
