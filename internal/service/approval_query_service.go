package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/food-approval-api/internal/dto"
	"github.com/noah-isme/food-approval-api/internal/models"
	appErrors "github.com/noah-isme/food-approval-api/pkg/errors"
	"github.com/noah-isme/food-approval-api/pkg/export"
)

const (
	// PendingCachePattern matches every cached pending-queue projection.
	PendingCachePattern = "approvals:pending:*"
	// PendingGenerationKey versions the pending-queue keys. It is bumped after
	// every committed change, so a list read before the change can only be
	// stored under a key no reader will ask for again.
	PendingGenerationKey = "approvals:generation:pending"

	pendingMasterCacheKey  = "approvals:pending:master"
	pendingRegionKeyPrefix = "approvals:pending:region:"

	defaultAuditPageSize = 20
	defaultMaxPageSize   = 100
	maxExportRows        = 5000
)

// ExportFormat selects the audit export renderer.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

type approvalRequestReader interface {
	GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	List(ctx context.Context, filter models.ApprovalRequestFilter) ([]models.ApprovalRequest, error)
}

type approvalLedgerReader interface {
	ListByRequest(ctx context.Context, requestID string) ([]models.ApprovalLog, error)
	ListAudit(ctx context.Context, filter models.ApprovalAuditFilter) ([]models.ApprovalAuditEntry, int, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ApprovalQueryConfig tunes read-side behaviour.
type ApprovalQueryConfig struct {
	CacheTTL    time.Duration
	MaxPageSize int
}

// ApprovalQueryService serves the read-only projections of the approval workflow.
type ApprovalQueryService struct {
	requests approvalRequestReader
	ledger   approvalLedgerReader
	cache    *CacheService
	csv      csvRenderer
	pdf      pdfRenderer
	cfg      ApprovalQueryConfig
	logger   *zap.Logger
}

// NewApprovalQueryService constructs the query service. cache may be nil.
func NewApprovalQueryService(requests approvalRequestReader, ledger approvalLedgerReader, cache *CacheService, cfg ApprovalQueryConfig, logger *zap.Logger) *ApprovalQueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = defaultMaxPageSize
	}
	return &ApprovalQueryService{
		requests: requests,
		ledger:   ledger,
		cache:    cache,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		cfg:      cfg,
		logger:   logger,
	}
}

// GetByID returns the request together with its ledger in chronological order.
func (s *ApprovalQueryService) GetByID(ctx context.Context, id string) (*dto.ApprovalRequestDetail, error) {
	request, err := s.requests.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("approval request %s not found", id))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval request")
	}
	logs, err := s.ledger.ListByRequest(ctx, request.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval logs")
	}
	return &dto.ApprovalRequestDetail{ApprovalRequest: *request, Logs: logs}, nil
}

// PendingForRegion lists Submitted requests of a region, oldest first.
func (s *ApprovalQueryService) PendingForRegion(ctx context.Context, regionCode string) ([]models.ApprovalRequest, error) {
	regionCode = strings.ToUpper(strings.TrimSpace(regionCode))
	if regionCode == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "regionCode is required")
	}
	return s.pending(ctx, pendingRegionKeyPrefix+regionCode, models.ApprovalRequestFilter{
		Status:     []models.ApprovalStatus{models.ApprovalStatusSubmitted},
		RegionCode: regionCode,
	})
}

// PendingForMaster lists ApprovedByRegion requests across all regions, oldest first.
func (s *ApprovalQueryService) PendingForMaster(ctx context.Context) ([]models.ApprovalRequest, error) {
	return s.pending(ctx, pendingMasterCacheKey, models.ApprovalRequestFilter{
		Status: []models.ApprovalStatus{models.ApprovalStatusApprovedByRegion},
	})
}

func (s *ApprovalQueryService) pending(ctx context.Context, key string, filter models.ApprovalRequestFilter) ([]models.ApprovalRequest, error) {
	// The generation must be read before List: reading it after could pair a
	// pre-commit list with a post-commit key.
	generation, cacheable := s.cache.Generation(ctx, PendingGenerationKey)
	if cacheable {
		key = pendingCacheKey(key, generation)
		var cached []models.ApprovalRequest
		if s.cache.Get(ctx, key, &cached) {
			return cached, nil
		}
	}
	items, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending approval requests")
	}
	if cacheable {
		s.cache.Set(ctx, key, items, s.cfg.CacheTTL)
	}
	return items, nil
}

func pendingCacheKey(base string, generation int64) string {
	return fmt.Sprintf("%s:g%d", base, generation)
}

// ListByEntity returns every request ever opened for the entity, newest first.
func (s *ApprovalQueryService) ListByEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]models.ApprovalRequest, error) {
	entityID = strings.TrimSpace(entityID)
	if entityType == "" || entityID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "entityType and entityId are required")
	}
	items, err := s.requests.List(ctx, models.ApprovalRequestFilter{
		EntityType: entityType,
		EntityID:   entityID,
		SortDesc:   true,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list approval requests")
	}
	return items, nil
}

// GetAuditLogs pages through the ledger, most recent first. Out-of-range
// paging parameters are clamped rather than rejected.
func (s *ApprovalQueryService) GetAuditLogs(ctx context.Context, page, pageSize int, entityType models.EntityType, regionCode string) ([]models.ApprovalAuditEntry, int, error) {
	filter := s.auditFilter(page, pageSize, entityType, regionCode)
	items, total, err := s.ledger.ListAudit(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list approval audit logs")
	}
	return items, total, nil
}

// AuditPage is GetAuditLogs shaped for the HTTP layer.
func (s *ApprovalQueryService) AuditPage(ctx context.Context, query dto.AuditLogQuery) (*dto.AuditLogPage, error) {
	filter := s.auditFilter(query.Page, query.PageSize, query.EntityType, query.RegionCode)
	items, total, err := s.GetAuditLogs(ctx, filter.Page, filter.PageSize, filter.EntityType, filter.RegionCode)
	if err != nil {
		return nil, err
	}
	return &dto.AuditLogPage{Items: items, TotalCount: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (s *ApprovalQueryService) auditFilter(page, pageSize int, entityType models.EntityType, regionCode string) models.ApprovalAuditFilter {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultAuditPageSize
	}
	if pageSize > s.cfg.MaxPageSize {
		pageSize = s.cfg.MaxPageSize
	}
	return models.ApprovalAuditFilter{
		EntityType: entityType,
		RegionCode: strings.ToUpper(strings.TrimSpace(regionCode)),
		Page:       page,
		PageSize:   pageSize,
	}
}

// ExportAuditLogs renders the most recent ledger entries matching the filters.
// It returns the payload and its content type.
func (s *ApprovalQueryService) ExportAuditLogs(ctx context.Context, format ExportFormat, entityType models.EntityType, regionCode string) ([]byte, string, error) {
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format: %s", format))
	}
	items, _, err := s.ledger.ListAudit(ctx, models.ApprovalAuditFilter{
		EntityType: entityType,
		RegionCode: strings.ToUpper(strings.TrimSpace(regionCode)),
		Page:       1,
		PageSize:   maxExportRows,
	})
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval audit logs")
	}

	dataset := auditDataset(items)
	switch format {
	case ExportFormatPDF:
		payload, err := s.pdf.Render(dataset, "Approval audit log")
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render audit export")
		}
		return payload, "application/pdf", nil
	default:
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render audit export")
		}
		return payload, "text/csv", nil
	}
}

func auditDataset(items []models.ApprovalAuditEntry) export.Dataset {
	dataset := export.Dataset{Headers: []string{
		"Timestamp", "Request", "Entity Type", "Entity", "Region", "Action", "From", "To", "Performed By", "Role", "Reason",
	}}
	for _, item := range items {
		from := ""
		if item.FromStatus != nil {
			from = string(*item.FromStatus)
		}
		role := ""
		if item.PerformerRole != nil {
			role = string(*item.PerformerRole)
		} else if item.PerformerAccountType != nil {
			role = *item.PerformerAccountType
		}
		reason := ""
		if item.Reason != nil {
			reason = *item.Reason
		}
		dataset.Append(
			item.CreatedAt.UTC().Format(time.RFC3339),
			item.ApprovalRequestID,
			string(item.EntityType),
			item.EntityID,
			item.RegionCode,
			string(item.Action),
			from,
			string(item.ToStatus),
			item.PerformedBy,
			role,
			reason,
		)
	}
	return dataset
}
