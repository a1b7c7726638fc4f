package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/food-approval-api/internal/dto"
	"github.com/noah-isme/food-approval-api/internal/middleware"
	"github.com/noah-isme/food-approval-api/internal/models"
	"github.com/noah-isme/food-approval-api/internal/service"
	appErrors "github.com/noah-isme/food-approval-api/pkg/errors"
)

type workflowMock struct {
	submitResp   *models.ApprovalRequest
	decisionResp *models.ApprovalRequest
	err          error

	lastEntityType  models.EntityType
	lastEntityID    string
	lastRegion      string
	lastSubmitter   string
	lastAccountType string
	lastRequestID   string
	lastReviewer    string
	lastReason      string
	lastDecision    string
}

func (m *workflowMock) SubmitForApproval(ctx context.Context, entityType models.EntityType, entityID, regionCode, submitterID, submitterAccountType string) (*models.ApprovalRequest, error) {
	m.lastEntityType, m.lastEntityID, m.lastRegion = entityType, entityID, regionCode
	m.lastSubmitter, m.lastAccountType = submitterID, submitterAccountType
	return m.submitResp, m.err
}

func (m *workflowMock) decide(name, requestID, reviewerID, reason string) (*models.ApprovalRequest, error) {
	m.lastDecision, m.lastRequestID, m.lastReviewer, m.lastReason = name, requestID, reviewerID, reason
	return m.decisionResp, m.err
}

func (m *workflowMock) ApproveByRegion(ctx context.Context, requestID, reviewerID, reason string) (*models.ApprovalRequest, error) {
	return m.decide("region-approve", requestID, reviewerID, reason)
}

func (m *workflowMock) RejectByRegion(ctx context.Context, requestID, reviewerID, reason string) (*models.ApprovalRequest, error) {
	return m.decide("region-reject", requestID, reviewerID, reason)
}

func (m *workflowMock) ApproveByMaster(ctx context.Context, requestID, reviewerID, reason string) (*models.ApprovalRequest, error) {
	return m.decide("master-approve", requestID, reviewerID, reason)
}

func (m *workflowMock) RejectByMaster(ctx context.Context, requestID, reviewerID, reason string) (*models.ApprovalRequest, error) {
	return m.decide("master-reject", requestID, reviewerID, reason)
}

type queriesMock struct {
	detail     *dto.ApprovalRequestDetail
	detailErr  error
	pending    []models.ApprovalRequest
	auditPage  *dto.AuditLogPage
	export     []byte
	exportType string

	lastRegion      string
	lastAuditQuery  dto.AuditLogQuery
	lastExportFmt   service.ExportFormat
	pendingCalled   bool
	getCalled       bool
	entityTypeParam models.EntityType
}

func (m *queriesMock) GetByID(ctx context.Context, id string) (*dto.ApprovalRequestDetail, error) {
	m.getCalled = true
	return m.detail, m.detailErr
}

func (m *queriesMock) PendingForRegion(ctx context.Context, regionCode string) ([]models.ApprovalRequest, error) {
	m.pendingCalled = true
	m.lastRegion = regionCode
	return m.pending, nil
}

func (m *queriesMock) PendingForMaster(ctx context.Context) ([]models.ApprovalRequest, error) {
	m.pendingCalled = true
	return m.pending, nil
}

func (m *queriesMock) ListByEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]models.ApprovalRequest, error) {
	m.entityTypeParam = entityType
	return m.pending, nil
}

func (m *queriesMock) AuditPage(ctx context.Context, query dto.AuditLogQuery) (*dto.AuditLogPage, error) {
	m.lastAuditQuery = query
	return m.auditPage, nil
}

func (m *queriesMock) ExportAuditLogs(ctx context.Context, format service.ExportFormat, entityType models.EntityType, regionCode string) ([]byte, string, error) {
	m.lastExportFmt = format
	m.lastRegion = regionCode
	return m.export, m.exportType, nil
}

func newApprovalContext(method, target string, body string, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var req *http.Request
	if body == "" {
		req, _ = http.NewRequest(method, target, http.NoBody)
	} else {
		req, _ = http.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *appErrors.Error {
	t.Helper()
	var envelope struct {
		Error *appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	return envelope.Error
}

func TestApprovalHandlerSubmit(t *testing.T) {
	wf := &workflowMock{submitResp: &models.ApprovalRequest{ID: "req-1", CurrentStatus: models.ApprovalStatusSubmitted}}
	h := NewApprovalHandler(wf, &queriesMock{})

	c, w := newApprovalContext(http.MethodPost, "/approvals",
		`{"entityType":"StoreAccount","entityId":"S1","regionCode":" jkt "}`,
		&models.JWTClaims{UserID: "owner-1", Role: models.RoleChainOwner, AccountType: "ChainOwner"})
	h.Submit(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.EntityTypeStoreAccount, wf.lastEntityType)
	assert.Equal(t, "S1", wf.lastEntityID)
	assert.Equal(t, "JKT", wf.lastRegion)
	assert.Equal(t, "owner-1", wf.lastSubmitter)
	assert.Equal(t, "ChainOwner", wf.lastAccountType)
}

func TestApprovalHandlerSubmitInvalidBody(t *testing.T) {
	h := NewApprovalHandler(&workflowMock{}, &queriesMock{})
	c, w := newApprovalContext(http.MethodPost, "/approvals", `{"entityType":`, &models.JWTClaims{UserID: "owner-1"})
	h.Submit(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, decodeError(t, w).Code)
}

func TestApprovalHandlerSubmitConflictIsBadRequest(t *testing.T) {
	wf := &workflowMock{err: appErrors.WithDetails(appErrors.Clone(appErrors.ErrConflict, "exists"), map[string]interface{}{"requestId": "req-0"})}
	h := NewApprovalHandler(wf, &queriesMock{})
	c, w := newApprovalContext(http.MethodPost, "/approvals", `{"entityType":"Food","entityId":"F1","regionCode":"JKT"}`, &models.JWTClaims{UserID: "m-1", Role: models.RoleStoreManager})
	h.Submit(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	appErr := decodeError(t, w)
	assert.Equal(t, "CONFLICT", appErr.Code)
	assert.Equal(t, "req-0", appErr.Details["requestId"])
	assert.Equal(t, string(models.RoleStoreManager), wf.lastAccountType)
}

func TestApprovalHandlerSubmitRequiresClaims(t *testing.T) {
	h := NewApprovalHandler(&workflowMock{}, &queriesMock{})
	c, w := newApprovalContext(http.MethodPost, "/approvals", `{}`, nil)
	h.Submit(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestApprovalHandlerRegionApproveWithinRegion(t *testing.T) {
	wf := &workflowMock{decisionResp: &models.ApprovalRequest{ID: "req-1", CurrentStatus: models.ApprovalStatusApprovedByRegion}}
	q := &queriesMock{detail: &dto.ApprovalRequestDetail{ApprovalRequest: models.ApprovalRequest{ID: "req-1", RegionCode: "JKT"}}}
	h := NewApprovalHandler(wf, q)

	c, w := newApprovalContext(http.MethodPost, "/approvals/req-1/region/approve", "",
		&models.JWTClaims{UserID: "region-1", Role: models.RoleRegionReviewer, RegionCode: "JKT"})
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	h.RegionApprove(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, q.getCalled)
	assert.Equal(t, "region-approve", wf.lastDecision)
	assert.Equal(t, "req-1", wf.lastRequestID)
	assert.Equal(t, "region-1", wf.lastReviewer)
	assert.Empty(t, wf.lastReason)
}

func TestApprovalHandlerRegionRejectOtherRegionForbidden(t *testing.T) {
	wf := &workflowMock{}
	q := &queriesMock{detail: &dto.ApprovalRequestDetail{ApprovalRequest: models.ApprovalRequest{ID: "req-1", RegionCode: "BDG"}}}
	h := NewApprovalHandler(wf, q)

	c, w := newApprovalContext(http.MethodPost, "/approvals/req-1/region/reject", `{"reason":"nope"}`,
		&models.JWTClaims{UserID: "region-1", Role: models.RoleRegionReviewer, RegionCode: "JKT"})
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	h.RegionReject(c)

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, wf.lastDecision)
}

func TestApprovalHandlerMasterRejectPassesReason(t *testing.T) {
	wf := &workflowMock{decisionResp: &models.ApprovalRequest{ID: "req-1", CurrentStatus: models.ApprovalStatusRejectedByMaster}}
	q := &queriesMock{}
	h := NewApprovalHandler(wf, q)

	c, w := newApprovalContext(http.MethodPost, "/approvals/req-1/master/reject", `{"reason":"missing permits"}`,
		&models.JWTClaims{UserID: "master-1", Role: models.RoleMasterReviewer})
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	h.MasterReject(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, q.getCalled)
	assert.Equal(t, "master-reject", wf.lastDecision)
	assert.Equal(t, "missing permits", wf.lastReason)
}

func TestApprovalHandlerMasterApproveInvalidStateIsBadRequest(t *testing.T) {
	wf := &workflowMock{err: appErrors.Clone(appErrors.ErrInvalidState, "owning StoreAccount is not active")}
	h := NewApprovalHandler(wf, &queriesMock{})

	c, w := newApprovalContext(http.MethodPost, "/approvals/req-1/master/approve", "",
		&models.JWTClaims{UserID: "master-1", Role: models.RoleMasterReviewer})
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	h.MasterApprove(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_STATE", decodeError(t, w).Code)
}

func TestApprovalHandlerReviewNotFound(t *testing.T) {
	q := &queriesMock{detailErr: appErrors.Clone(appErrors.ErrNotFound, "approval request missing not found")}
	h := NewApprovalHandler(&workflowMock{}, q)

	c, w := newApprovalContext(http.MethodPost, "/approvals/missing/region/approve", "",
		&models.JWTClaims{UserID: "region-1", Role: models.RoleRegionReviewer, RegionCode: "JKT"})
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	h.RegionApprove(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestApprovalHandlerPendingRegionDefaultsToReviewerRegion(t *testing.T) {
	q := &queriesMock{pending: []models.ApprovalRequest{{ID: "req-1"}}}
	h := NewApprovalHandler(&workflowMock{}, q)

	c, w := newApprovalContext(http.MethodGet, "/approvals/pending/region", "",
		&models.JWTClaims{UserID: "region-1", Role: models.RoleRegionReviewer, RegionCode: "JKT"})
	h.PendingRegion(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "JKT", q.lastRegion)

	c, w = newApprovalContext(http.MethodGet, "/approvals/pending/region?regionCode=BDG", "",
		&models.JWTClaims{UserID: "region-1", Role: models.RoleRegionReviewer, RegionCode: "JKT"})
	q.pendingCalled = false
	h.PendingRegion(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, q.pendingCalled)
}

func TestApprovalHandlerPendingRegionForMasterUsesQuery(t *testing.T) {
	q := &queriesMock{}
	h := NewApprovalHandler(&workflowMock{}, q)

	c, w := newApprovalContext(http.MethodGet, "/approvals/pending/region?regionCode=sby", "",
		&models.JWTClaims{UserID: "master-1", Role: models.RoleMasterReviewer})
	h.PendingRegion(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SBY", q.lastRegion)
}

func TestApprovalHandlerAuditLogsPagination(t *testing.T) {
	q := &queriesMock{auditPage: &dto.AuditLogPage{
		Items:      []models.ApprovalAuditEntry{{EntityID: "F1"}},
		TotalCount: 41,
		Page:       3,
		PageSize:   20,
	}}
	h := NewApprovalHandler(&workflowMock{}, q)

	c, w := newApprovalContext(http.MethodGet, "/approvals/audit-logs?page=3&pageSize=abc&entityType=Food", "",
		&models.JWTClaims{UserID: "master-1", Role: models.RoleMasterReviewer})
	h.AuditLogs(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, q.lastAuditQuery.Page)
	assert.Equal(t, 0, q.lastAuditQuery.PageSize)
	assert.Equal(t, models.EntityTypeFood, q.lastAuditQuery.EntityType)

	var body struct {
		Data       []models.ApprovalAuditEntry `json:"data"`
		Pagination models.Pagination           `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 1)
	assert.Equal(t, 41, body.Pagination.TotalCount)
	assert.Equal(t, 3, body.Pagination.Page)
}

func TestApprovalHandlerAuditLogsScopedForRegionReviewer(t *testing.T) {
	q := &queriesMock{auditPage: &dto.AuditLogPage{}}
	h := NewApprovalHandler(&workflowMock{}, q)

	c, w := newApprovalContext(http.MethodGet, "/approvals/audit-logs", "",
		&models.JWTClaims{UserID: "region-1", Role: models.RoleRegionReviewer, RegionCode: "JKT"})
	h.AuditLogs(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "JKT", q.lastAuditQuery.RegionCode)
}

func TestApprovalHandlerExportAuditLogs(t *testing.T) {
	q := &queriesMock{export: []byte("Timestamp\n"), exportType: "text/csv"}
	h := NewApprovalHandler(&workflowMock{}, q)

	c, w := newApprovalContext(http.MethodGet, "/approvals/audit-logs/export?format=CSV", "",
		&models.JWTClaims{UserID: "master-1", Role: models.RoleMasterReviewer})
	h.ExportAuditLogs(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.ExportFormatCSV, q.lastExportFmt)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "approval-audit-")
	assert.Equal(t, "Timestamp\n", w.Body.String())
}

func TestApprovalHandlerGetEnforcesRegion(t *testing.T) {
	q := &queriesMock{detail: &dto.ApprovalRequestDetail{ApprovalRequest: models.ApprovalRequest{ID: "req-1", RegionCode: "BDG"}}}
	h := NewApprovalHandler(&workflowMock{}, q)

	c, w := newApprovalContext(http.MethodGet, "/approvals/req-1", "",
		&models.JWTClaims{UserID: "region-1", Role: models.RoleRegionReviewer, RegionCode: "JKT"})
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	h.Get(c)
	assert.Equal(t, http.StatusForbidden, w.Code)

	c, w = newApprovalContext(http.MethodGet, "/approvals/req-1", "",
		&models.JWTClaims{UserID: "master-1", Role: models.RoleMasterReviewer})
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	h.Get(c)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestApprovalHandlerEntityHistory(t *testing.T) {
	q := &queriesMock{pending: []models.ApprovalRequest{{ID: "req-2"}, {ID: "req-1"}}}
	h := NewApprovalHandler(&workflowMock{}, q)

	c, w := newApprovalContext(http.MethodGet, "/approvals/entities/Food/F1", "", &models.JWTClaims{UserID: "m"})
	c.Params = gin.Params{{Key: "entityType", Value: "Food"}, {Key: "entityId", Value: "F1"}}
	h.EntityHistory(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.EntityTypeFood, q.entityTypeParam)
}

func TestApprovalHandlerSubmitIgnoresBodyAccountType(t *testing.T) {
	wf := &workflowMock{submitResp: &models.ApprovalRequest{ID: "req-1"}}
	h := NewApprovalHandler(wf, &queriesMock{})

	c, w := newApprovalContext(http.MethodPost, "/approvals",
		`{"entityType":"Food","entityId":"F1","regionCode":"JKT","submitterAccountType":"MasterReviewer"}`,
		&models.JWTClaims{UserID: "m-1", Role: models.RoleStoreManager, AccountType: "StoreManager"})
	h.Submit(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "StoreManager", wf.lastAccountType)
}

func TestApprovalHandlerRejectsClaimsWithoutUser(t *testing.T) {
	wf := &workflowMock{}
	h := NewApprovalHandler(wf, &queriesMock{})

	c, w := newApprovalContext(http.MethodPost, "/approvals/req-1/master/approve", "",
		&models.JWTClaims{Role: models.RoleMasterReviewer})
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	h.MasterApprove(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, wf.lastDecision)
}

func TestApprovalHandlerRejectBlankReasonBeforeLookup(t *testing.T) {
	wf := &workflowMock{}
	q := &queriesMock{detailErr: appErrors.Clone(appErrors.ErrNotFound, "approval request missing not found")}
	h := NewApprovalHandler(wf, q)

	c, w := newApprovalContext(http.MethodPost, "/approvals/missing/region/reject", `{"reason":"   "}`,
		&models.JWTClaims{UserID: "region-1", Role: models.RoleRegionReviewer, RegionCode: "JKT"})
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	h.RegionReject(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, decodeError(t, w).Code)
	assert.False(t, q.getCalled)
	assert.Empty(t, wf.lastDecision)

	c, w = newApprovalContext(http.MethodPost, "/approvals/req-1/master/reject", "",
		&models.JWTClaims{UserID: "master-1", Role: models.RoleMasterReviewer})
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	h.MasterReject(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, decodeError(t, w).Code)
	assert.Empty(t, wf.lastDecision)
}

func TestApprovalHandlerEntityHistoryScopedToReviewerRegion(t *testing.T) {
	q := &queriesMock{pending: []models.ApprovalRequest{
		{ID: "req-3", RegionCode: "BDG"},
		{ID: "req-2", RegionCode: "JKT"},
		{ID: "req-1", RegionCode: "BDG"},
	}}
	h := NewApprovalHandler(&workflowMock{}, q)

	c, w := newApprovalContext(http.MethodGet, "/approvals/entities/StoreAccount/S1", "",
		&models.JWTClaims{UserID: "region-1", Role: models.RoleRegionReviewer, RegionCode: "jkt"})
	c.Params = gin.Params{{Key: "entityType", Value: "StoreAccount"}, {Key: "entityId", Value: "S1"}}
	h.EntityHistory(c)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []models.ApprovalRequest `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "req-2", body.Data[0].ID)

	c, w = newApprovalContext(http.MethodGet, "/approvals/entities/StoreAccount/S1", "",
		&models.JWTClaims{UserID: "master-1", Role: models.RoleMasterReviewer})
	c.Params = gin.Params{{Key: "entityType", Value: "StoreAccount"}, {Key: "entityId", Value: "S1"}}
	h.EntityHistory(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 3)
}
