package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/food-approval-api/internal/dto"
	"github.com/noah-isme/food-approval-api/internal/models"
	"github.com/noah-isme/food-approval-api/internal/repository"
	appErrors "github.com/noah-isme/food-approval-api/pkg/errors"
	"github.com/noah-isme/food-approval-api/pkg/middleware/requestid"
)

var regionCodePattern = regexp.MustCompile(`^[A-Z0-9_-]{1,16}$`)

type approvalRequestStore interface {
	Create(ctx context.Context, request *models.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	GetByIDForUpdate(ctx context.Context, id string) (*models.ApprovalRequest, error)
	FindActiveByEntity(ctx context.Context, entityType models.EntityType, entityID string) (*models.ApprovalRequest, error)
	List(ctx context.Context, filter models.ApprovalRequestFilter) ([]models.ApprovalRequest, error)
	UpdateStatus(ctx context.Context, params repository.UpdateApprovalStatusParams) error
}

type approvalLedger interface {
	Append(ctx context.Context, log *models.ApprovalLog) error
	ListByRequest(ctx context.Context, requestID string) ([]models.ApprovalLog, error)
	ListAudit(ctx context.Context, filter models.ApprovalAuditFilter) ([]models.ApprovalAuditEntry, int, error)
}

type txRunner interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

type pendingCache interface {
	BumpGeneration(ctx context.Context, key string) error
	Invalidate(ctx context.Context, pattern string) error
}

// directTx runs work without a transaction; used when no runner is configured.
type directTx struct{}

func (directTx) RunInTx(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }

// ApprovalWorkflowService is the two-tier approval state machine.
type ApprovalWorkflowService struct {
	requests  approvalRequestStore
	ledger    approvalLedger
	tx        txRunner
	policies  EntityPolicies
	cache     pendingCache
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// ApprovalWorkflowOption configures the service.
type ApprovalWorkflowOption func(*ApprovalWorkflowService)

// WithEntityPolicies merges the given policies into the registration table.
func WithEntityPolicies(policies EntityPolicies) ApprovalWorkflowOption {
	return func(s *ApprovalWorkflowService) {
		for k, v := range policies {
			s.policies[k] = v
		}
	}
}

// WithApprovalCache sets the cache whose pending projections are retired after each change.
func WithApprovalCache(cache pendingCache) ApprovalWorkflowOption {
	return func(s *ApprovalWorkflowService) {
		s.cache = cache
	}
}

// WithApprovalMetrics records transition counters.
func WithApprovalMetrics(metrics *MetricsService) ApprovalWorkflowOption {
	return func(s *ApprovalWorkflowService) {
		s.metrics = metrics
	}
}

// WithApprovalClock overrides the time source.
func WithApprovalClock(now func() time.Time) ApprovalWorkflowOption {
	return func(s *ApprovalWorkflowService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithApprovalValidator overrides the payload validator. The regioncode rule
// is registered on it.
func WithApprovalValidator(validate *validator.Validate) ApprovalWorkflowOption {
	return func(s *ApprovalWorkflowService) {
		if validate != nil {
			s.validator = validate
		}
	}
}

// NewApprovalWorkflowService constructs the engine.
func NewApprovalWorkflowService(requests approvalRequestStore, ledger approvalLedger, tx txRunner, logger *zap.Logger, opts ...ApprovalWorkflowOption) *ApprovalWorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tx == nil {
		tx = directTx{}
	}
	svc := &ApprovalWorkflowService{
		requests:  requests,
		ledger:    ledger,
		tx:        tx,
		policies:  make(EntityPolicies),
		validator: validator.New(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	RegisterApprovalValidations(svc.validator)
	return svc
}

// RegisterApprovalValidations installs the custom rules used by approval DTOs.
func RegisterApprovalValidations(validate *validator.Validate) {
	_ = validate.RegisterValidation("regioncode", func(fl validator.FieldLevel) bool {
		return regionCodePattern.MatchString(fl.Field().String())
	})
}

// SubmitForApproval opens a new approval lifecycle for an entity.
func (s *ApprovalWorkflowService) SubmitForApproval(ctx context.Context, entityType models.EntityType, entityID, regionCode, submitterID, submitterAccountType string) (*models.ApprovalRequest, error) {
	req := dto.SubmitApprovalRequest{
		EntityType:           entityType,
		EntityID:             strings.TrimSpace(entityID),
		RegionCode:           regionCode,
		SubmitterID:          strings.TrimSpace(submitterID),
		SubmitterAccountType: strings.TrimSpace(submitterAccountType),
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, submissionValidationMessage(err))
	}
	if _, ok := s.policies[req.EntityType]; !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported entity type: %s", req.EntityType))
	}

	var created *models.ApprovalRequest
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		existing, err := s.requests.FindActiveByEntity(txCtx, req.EntityType, req.EntityID)
		switch {
		case err == nil:
			return appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("%s %s already has an active approval request %s", req.EntityType, req.EntityID, existing.ID)),
				map[string]interface{}{"requestId": existing.ID, "currentStatus": existing.CurrentStatus},
			)
		case !errors.Is(err, sql.ErrNoRows):
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check active approval requests")
		}

		now := s.now()
		request := &models.ApprovalRequest{
			ID:            uuid.NewString(),
			EntityType:    req.EntityType,
			EntityID:      req.EntityID,
			CurrentStatus: models.ApprovalStatusSubmitted,
			RegionCode:    req.RegionCode,
			CreatedAt:     now,
		}
		if err := s.requests.Create(txCtx, request); err != nil {
			if errors.Is(err, repository.ErrActiveRequestExists) {
				return appErrors.WithDetails(
					appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("%s %s already has an active approval request", req.EntityType, req.EntityID)),
					map[string]interface{}{"entityType": req.EntityType, "entityId": req.EntityID},
				)
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create approval request")
		}

		entry := &models.ApprovalLog{
			ID:                   uuid.NewString(),
			ApprovalRequestID:    request.ID,
			Action:               models.ApprovalActionSubmit,
			ToStatus:             models.ApprovalStatusSubmitted,
			PerformedBy:          req.SubmitterID,
			PerformerAccountType: optionalString(req.SubmitterAccountType),
			CreatedAt:            now,
		}
		if err := s.ledger.Append(txCtx, entry); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write approval log")
		}
		created = request
		return nil
	})
	if err != nil {
		s.recordFailure("submit", err)
		return nil, err
	}

	s.afterCommit(ctx, created, models.ApprovalActionSubmit, req.SubmitterID)
	return created, nil
}

// ApproveByRegion moves a submitted request to ApprovedByRegion.
func (s *ApprovalWorkflowService) ApproveByRegion(ctx context.Context, requestID, reviewerID, reason string) (*models.ApprovalRequest, error) {
	return s.apply(ctx, requestID, reviewerID, optionalString(reason), transition{
		name:   "region approve",
		action: models.ApprovalActionApprove,
		from:   models.ApprovalStatusSubmitted,
		to:     models.ApprovalStatusApprovedByRegion,
		role:   models.ReviewerRoleRegion,
	})
}

// RejectByRegion terminates a submitted request and rejects its entity.
func (s *ApprovalWorkflowService) RejectByRegion(ctx context.Context, requestID, reviewerID, reason string) (*models.ApprovalRequest, error) {
	trimmed, err := requireReason(reason)
	if err != nil {
		s.recordFailure("region reject", err)
		return nil, err
	}
	return s.apply(ctx, requestID, reviewerID, trimmed, transition{
		name:    "region reject",
		action:  models.ApprovalActionReject,
		from:    models.ApprovalStatusSubmitted,
		to:      models.ApprovalStatusRejectedByRegion,
		role:    models.ReviewerRoleRegion,
		outcome: models.ActivationOutcomeRejected,
	})
}

// ApproveByMaster finalises a region-approved request and activates its entity
// once the owning parent is active.
func (s *ApprovalWorkflowService) ApproveByMaster(ctx context.Context, requestID, reviewerID, reason string) (*models.ApprovalRequest, error) {
	return s.apply(ctx, requestID, reviewerID, optionalString(reason), transition{
		name:        "master approve",
		action:      models.ApprovalActionApprove,
		from:        models.ApprovalStatusApprovedByRegion,
		to:          models.ApprovalStatusApproved,
		role:        models.ReviewerRoleMaster,
		outcome:     models.ActivationOutcomeActivated,
		checkParent: true,
	})
}

// RejectByMaster terminates a region-approved request and rejects its entity.
func (s *ApprovalWorkflowService) RejectByMaster(ctx context.Context, requestID, reviewerID, reason string) (*models.ApprovalRequest, error) {
	trimmed, err := requireReason(reason)
	if err != nil {
		s.recordFailure("master reject", err)
		return nil, err
	}
	return s.apply(ctx, requestID, reviewerID, trimmed, transition{
		name:    "master reject",
		action:  models.ApprovalActionReject,
		from:    models.ApprovalStatusApprovedByRegion,
		to:      models.ApprovalStatusRejectedByMaster,
		role:    models.ReviewerRoleMaster,
		outcome: models.ActivationOutcomeRejected,
	})
}

type transition struct {
	name        string
	action      models.ApprovalAction
	from        models.ApprovalStatus
	to          models.ApprovalStatus
	role        models.ReviewerRole
	outcome     models.ActivationOutcome
	checkParent bool
}

func (s *ApprovalWorkflowService) apply(ctx context.Context, requestID, reviewerID string, reason *string, t transition) (*models.ApprovalRequest, error) {
	requestID = strings.TrimSpace(requestID)
	reviewerID = strings.TrimSpace(reviewerID)
	if requestID == "" || reviewerID == "" {
		err := appErrors.Clone(appErrors.ErrValidation, "request id and reviewer id are required")
		s.recordFailure(t.name, err)
		return nil, err
	}

	var updated *models.ApprovalRequest
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		request, err := s.requests.GetByIDForUpdate(txCtx, requestID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.WithDetails(
					appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("approval request %s not found", requestID)),
					map[string]interface{}{"requestId": requestID},
				)
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval request")
		}
		if request.CurrentStatus != t.from {
			return invalidState(request, fmt.Sprintf("cannot %s request %s: current status is %s, expected %s", t.name, request.ID, request.CurrentStatus, t.from))
		}

		policy, hasPolicy := s.policies[request.EntityType]
		if t.checkParent {
			if err := s.checkParent(txCtx, request, policy, hasPolicy); err != nil {
				return err
			}
		}

		now := s.now()
		err = s.requests.UpdateStatus(txCtx, repository.UpdateApprovalStatusParams{
			ID:        request.ID,
			From:      t.from,
			To:        t.to,
			UpdatedAt: now,
		})
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return invalidState(request, fmt.Sprintf("cannot %s request %s: status changed concurrently", t.name, request.ID))
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update approval request")
		}

		from := t.from
		role := t.role
		entry := &models.ApprovalLog{
			ID:                uuid.NewString(),
			ApprovalRequestID: request.ID,
			Action:            t.action,
			FromStatus:        &from,
			ToStatus:          t.to,
			PerformedBy:       reviewerID,
			PerformerRole:     &role,
			Reason:            reason,
			CreatedAt:         now,
		}
		if err := s.ledger.Append(txCtx, entry); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write approval log")
		}

		if t.outcome != "" {
			if err := s.resolveEntity(txCtx, request, policy, hasPolicy, t.outcome); err != nil {
				return err
			}
		}

		request.CurrentStatus = t.to
		request.UpdatedAt = &now
		updated = request
		return nil
	})
	if err != nil {
		s.recordFailure(t.name, err)
		return nil, err
	}

	s.afterCommit(ctx, updated, t.action, reviewerID)
	return updated, nil
}

func (s *ApprovalWorkflowService) checkParent(ctx context.Context, request *models.ApprovalRequest, policy EntityPolicy, hasPolicy bool) error {
	if !hasPolicy {
		return appErrors.Clone(appErrors.ErrInternal, fmt.Sprintf("no entity policy registered for %s", request.EntityType))
	}
	if policy.Parent == nil {
		return nil
	}
	status, err := policy.Parent(ctx, request.EntityID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check parent entity status")
	}
	switch status {
	case models.ParentStatusActive:
		return nil
	case models.ParentStatusNotFound:
		return invalidState(request, fmt.Sprintf("cannot approve %s %s: owning %s not found", request.EntityType, request.EntityID, policy.ParentName))
	default:
		return invalidState(request, fmt.Sprintf("cannot approve %s %s: owning %s is not active", request.EntityType, request.EntityID, policy.ParentName))
	}
}

func (s *ApprovalWorkflowService) resolveEntity(ctx context.Context, request *models.ApprovalRequest, policy EntityPolicy, hasPolicy bool, outcome models.ActivationOutcome) error {
	if !hasPolicy || policy.Activate == nil {
		return appErrors.Clone(appErrors.ErrInternal, fmt.Sprintf("no entity policy registered for %s", request.EntityType))
	}
	if err := policy.Activate(ctx, request.EntityID, outcome); err != nil {
		if errors.Is(err, repository.ErrEntityNotFound) {
			s.logger.Warn("approval resolved for missing entity",
				zap.String("request_id", request.ID),
				zap.String("entity_type", string(request.EntityType)),
				zap.String("entity_id", request.EntityID),
				zap.String("outcome", string(outcome)),
			)
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update entity status")
	}
	return nil
}

func (s *ApprovalWorkflowService) afterCommit(ctx context.Context, request *models.ApprovalRequest, action models.ApprovalAction, actorID string) {
	fields := []zap.Field{
		zap.String("request_id", request.ID),
		zap.String("entity_type", string(request.EntityType)),
		zap.String("entity_id", request.EntityID),
		zap.String("region_code", request.RegionCode),
		zap.String("action", string(action)),
		zap.String("status", string(request.CurrentStatus)),
		zap.String("actor_id", actorID),
	}
	if reqID := requestid.FromContext(ctx); reqID != "" {
		fields = append(fields, zap.String("http_request_id", reqID))
	}
	s.logger.Info("approval transition", fields...)
	s.metrics.ObserveApprovalTransition(string(request.EntityType), string(action), string(request.CurrentStatus))
	if s.cache != nil {
		if err := s.cache.BumpGeneration(ctx, PendingGenerationKey); err != nil {
			s.logger.Warn("failed to advance pending approval cache generation", zap.Error(err))
		}
		// Older generations are unreachable after the bump; evicting them only frees memory.
		if err := s.cache.Invalidate(ctx, PendingCachePattern); err != nil {
			s.logger.Warn("failed to evict pending approval cache", zap.Error(err))
		}
	}
}

func (s *ApprovalWorkflowService) recordFailure(operation string, err error) {
	appErr := appErrors.FromError(err)
	s.metrics.ObserveApprovalFailure(operation, appErr.Code)
	if appErr.Status >= 500 {
		s.logger.Error("approval operation failed", zap.String("operation", operation), zap.Error(err))
	}
}

func invalidState(request *models.ApprovalRequest, message string) *appErrors.Error {
	return appErrors.WithDetails(
		appErrors.Clone(appErrors.ErrInvalidState, message),
		map[string]interface{}{"requestId": request.ID, "currentStatus": request.CurrentStatus},
	)
}

func requireReason(reason string) (*string, error) {
	trimmed := optionalString(reason)
	if trimmed == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reason is required when rejecting")
	}
	return trimmed, nil
}

func optionalString(value string) *string {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	return &v
}

func submissionValidationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "invalid submission"
	}
	fe := fieldErrs[0]
	switch {
	case fe.Field() == "RegionCode" && fe.Tag() == "regioncode":
		return "regionCode must be upper-case letters, digits, '-' or '_' (max 16)"
	case fe.Tag() == "required":
		return fmt.Sprintf("%s is required", lowerFirst(fe.Field()))
	default:
		return fmt.Sprintf("%s is invalid", lowerFirst(fe.Field()))
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
