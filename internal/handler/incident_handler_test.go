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

	"github.com/noah-isme/hr-incidents-api/internal/dto"
	"github.com/noah-isme/hr-incidents-api/internal/middleware"
	"github.com/noah-isme/hr-incidents-api/internal/models"
	"github.com/noah-isme/hr-incidents-api/internal/service"
	appErrors "github.com/noah-isme/hr-incidents-api/pkg/errors"
)

type incidentServiceMock struct {
	createResp *models.Incident
	createErr  error
	listResp   []models.Incident
	listQuery  dto.IncidentQuery
	getResp    *models.Incident
	getErr     error
	transErr   error
	rejectErr  error
}

func (m *incidentServiceMock) Create(ctx context.Context, req dto.CreateIncidentRequest, actor *models.JWTClaims) (*models.Incident, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.createResp, nil
}

func (m *incidentServiceMock) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Incident, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.getResp, nil
}

func (m *incidentServiceMock) List(ctx context.Context, query dto.IncidentQuery, actor *models.JWTClaims) ([]models.Incident, error) {
	m.listQuery = query
	return m.listResp, nil
}

func (m *incidentServiceMock) Transition(ctx context.Context, id string, req dto.TransitionRequest, actor *models.JWTClaims) (*models.Incident, error) {
	if m.transErr != nil {
		return nil, m.transErr
	}
	return m.getResp, nil
}

func (m *incidentServiceMock) Approve(ctx context.Context, id, comment string, actor *models.JWTClaims) (*models.Incident, error) {
	return m.getResp, nil
}

func (m *incidentServiceMock) Reject(ctx context.Context, id, comment string, actor *models.JWTClaims) (*models.Incident, error) {
	if m.rejectErr != nil {
		return nil, m.rejectErr
	}
	return m.getResp, nil
}

func (m *incidentServiceMock) Edit(ctx context.Context, id string, req dto.UpdateIncidentRequest, actor *models.JWTClaims) (*models.Incident, error) {
	return m.getResp, nil
}

func (m *incidentServiceMock) MoveToBin(ctx context.Context, id string, req dto.BinRequest, actor *models.JWTClaims) error {
	return nil
}

func (m *incidentServiceMock) Recover(ctx context.Context, id string, actor *models.JWTClaims) (*models.Incident, error) {
	return m.getResp, nil
}

type exporterMock struct {
	result *service.ExportResult
	err    error
}

func (m *exporterMock) Export(ctx context.Context, query dto.IncidentQuery, format service.ExportFormat, actor *models.JWTClaims) (*service.ExportResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func testContext(t *testing.T, method, target string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader([]byte{})
	} else {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{
		UserID:   "user-1",
		Role:     models.RoleSupervisor,
		FullName: "Laura Ortiz",
	})
	return c, w
}

func TestIncidentHandlerCreate(t *testing.T) {
	mock := &incidentServiceMock{createResp: &models.Incident{
		ID:    "inc-1",
		State: models.StatePendingManager,
	}}
	h := NewIncidentHandler(mock, nil)

	body, _ := json.Marshal(dto.CreateIncidentRequest{
		WorkerID:      "w-100",
		WorkerName:    "Carlos Mena",
		SubtypeName:   "Overtime",
		EffectiveFrom: "2026-02-01",
		EffectiveTo:   "2026-02-01",
	})
	c, w := testContext(t, http.MethodPost, "/incidents", body)

	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestIncidentHandlerCreateInvalidBody(t *testing.T) {
	h := NewIncidentHandler(&incidentServiceMock{}, nil)
	c, w := testContext(t, http.MethodPost, "/incidents", []byte(`not json`))

	h.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIncidentHandlerCreateConflict(t *testing.T) {
	mock := &incidentServiceMock{createErr: appErrors.Clone(appErrors.ErrConflict, "an equivalent active incident already exists")}
	h := NewIncidentHandler(mock, nil)

	body, _ := json.Marshal(dto.CreateIncidentRequest{
		WorkerID:      "w-100",
		WorkerName:    "Carlos Mena",
		SubtypeName:   "Overtime",
		EffectiveFrom: "2026-02-01",
		EffectiveTo:   "2026-02-01",
	})
	c, w := testContext(t, http.MethodPost, "/incidents", body)

	h.Create(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestIncidentHandlerListParsesQuery(t *testing.T) {
	mock := &incidentServiceMock{}
	h := NewIncidentHandler(mock, nil)

	c, w := testContext(t, http.MethodGet, "/incidents?state=pending_manager,%20pending_reviewer&worker_id=w-100&limit=25&offset=50&deleted=true", nil)

	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.IncidentState{models.StatePendingManager, models.StatePendingReviewer}, mock.listQuery.States)
	assert.Equal(t, "w-100", mock.listQuery.WorkerID)
	assert.Equal(t, 25, mock.listQuery.Limit)
	assert.Equal(t, 50, mock.listQuery.Offset)
	assert.True(t, mock.listQuery.DeletedOnly)
}

func TestIncidentHandlerGetNotFound(t *testing.T) {
	mock := &incidentServiceMock{getErr: appErrors.ErrNotFound}
	h := NewIncidentHandler(mock, nil)

	c, w := testContext(t, http.MethodGet, "/incidents/inc-404", nil)
	c.Params = gin.Params{{Key: "id", Value: "inc-404"}}

	h.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIncidentHandlerTransitionInvalid(t *testing.T) {
	mock := &incidentServiceMock{transErr: appErrors.Clone(appErrors.ErrInvalidTransition, "cannot move incident from APPROVED to REJECTED")}
	h := NewIncidentHandler(mock, nil)

	body, _ := json.Marshal(dto.TransitionRequest{RequestedState: models.StateRejected})
	c, w := testContext(t, http.MethodPost, "/incidents/inc-1/transition", body)
	c.Params = gin.Params{{Key: "id", Value: "inc-1"}}

	h.Transition(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIncidentHandlerRejectInvalidBody(t *testing.T) {
	h := NewIncidentHandler(&incidentServiceMock{}, nil)

	c, w := testContext(t, http.MethodPost, "/incidents/inc-1/reject", []byte(`{`))
	c.Params = gin.Params{{Key: "id", Value: "inc-1"}}

	h.Reject(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIncidentHandlerExport(t *testing.T) {
	exporter := &exporterMock{result: &service.ExportResult{
		FileName:    "incidents-20260201-120000.csv",
		ContentType: "text/csv",
		Content:     []byte("Worker ID,Worker\n"),
	}}
	h := NewIncidentHandler(&incidentServiceMock{}, exporter)

	c, w := testContext(t, http.MethodGet, "/incidents/export?format=csv", nil)

	h.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "incidents-20260201-120000.csv")
	assert.Contains(t, w.Body.String(), "Worker ID")
}

func TestIncidentHandlerExportNotConfigured(t *testing.T) {
	h := NewIncidentHandler(&incidentServiceMock{}, nil)

	c, w := testContext(t, http.MethodGet, "/incidents/export", nil)

	h.Export(c)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
