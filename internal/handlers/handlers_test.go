package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/cel"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/correlation"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/evaluator"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/models"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/repository"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/service"
)

// mockRepository is a minimal mock of repository.Repository for handler tests.
type mockRepository struct {
	getIncidentByIDFunc func(ctx context.Context, id string) (*models.Incident, error)
	listIncidentsFunc   func(ctx context.Context, req *models.ListIncidentsRequest) ([]*models.Incident, int, error)
	approveIncidentFunc func(ctx context.Context, id string) error
	resolveIncidentFunc func(ctx context.Context, id string) error
	searchAlertsFunc    func(ctx context.Context, node cel.Node, orderBy string, limit int) ([]*models.Alert, error)
}

func (m *mockRepository) FindActiveIncident(ctx context.Context, ruleID, fingerprint string, timeframeSeconds int) (*models.Incident, error) {
	return nil, nil
}
func (m *mockRepository) GetOrCreateCandidate(ctx context.Context, rule *models.Rule, fingerprint string, alertTimestamp time.Time) (*models.Incident, bool, error) {
	return nil, false, nil
}
func (m *mockRepository) AppendAlert(ctx context.Context, incidentID string, alert *models.Alert) (*models.Incident, error) {
	return nil, nil
}
func (m *mockRepository) MemberEvents(ctx context.Context, incidentID string) ([]evaluator.Context, error) {
	return nil, nil
}
func (m *mockRepository) MemberFingerprintStates(ctx context.Context, incidentID string) ([]correlation.FingerprintState, error) {
	return nil, nil
}
func (m *mockRepository) Promote(ctx context.Context, incidentID string, name string) error { return nil }
func (m *mockRepository) Resolve(ctx context.Context, incidentID string) error              { return nil }
func (m *mockRepository) FindPriorResolved(ctx context.Context, ruleID, fingerprint string) (*string, error) {
	return nil, nil
}

func (m *mockRepository) GetIncidentByID(ctx context.Context, id string) (*models.Incident, error) {
	if m.getIncidentByIDFunc != nil {
		return m.getIncidentByIDFunc(ctx, id)
	}
	return nil, repository.ErrIncidentNotFound
}
func (m *mockRepository) ListIncidents(ctx context.Context, req *models.ListIncidentsRequest) ([]*models.Incident, int, error) {
	if m.listIncidentsFunc != nil {
		return m.listIncidentsFunc(ctx, req)
	}
	return nil, 0, nil
}
func (m *mockRepository) ApproveIncident(ctx context.Context, id string) error {
	if m.approveIncidentFunc != nil {
		return m.approveIncidentFunc(ctx, id)
	}
	return nil
}
func (m *mockRepository) ResolveIncident(ctx context.Context, id string) error {
	if m.resolveIncidentFunc != nil {
		return m.resolveIncidentFunc(ctx, id)
	}
	return nil
}
func (m *mockRepository) SearchAlerts(ctx context.Context, node cel.Node, orderBy string, limit int) ([]*models.Alert, error) {
	if m.searchAlertsFunc != nil {
		return m.searchAlertsFunc(ctx, node, orderBy, limit)
	}
	return nil, nil
}
func (m *mockRepository) Close() error { return nil }

func TestHandler_HealthCheck(t *testing.T) {
	h := NewHandler(service.NewService(&mockRepository{}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.HealthCheck(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response["status"])
}

func TestHandler_GetIncident(t *testing.T) {
	repo := &mockRepository{
		getIncidentByIDFunc: func(ctx context.Context, id string) (*models.Incident, error) {
			return &models.Incident{ID: id, Status: models.IncidentStatusFiring}, nil
		},
	}
	h := NewHandler(service.NewService(repo))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents/inc-1", nil)
	w := httptest.NewRecorder()
	h.GetIncident(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got models.Incident
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "inc-1", got.ID)
}

func TestHandler_GetIncident_NotFound(t *testing.T) {
	h := NewHandler(service.NewService(&mockRepository{}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents/missing", nil)
	w := httptest.NewRecorder()
	h.GetIncident(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_GetIncident_WrongMethod(t *testing.T) {
	h := NewHandler(service.NewService(&mockRepository{}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/incidents/inc-1", nil)
	w := httptest.NewRecorder()
	h.GetIncident(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandler_GetIncident_MissingID(t *testing.T) {
	h := NewHandler(service.NewService(&mockRepository{}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents/", nil)
	w := httptest.NewRecorder()
	h.GetIncident(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_ListIncidents(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		queryParams    string
		setupMock      func(*mockRepository)
		expectedStatus int
	}{
		{
			name:        "successful list with defaults",
			method:      http.MethodGet,
			queryParams: "",
			setupMock: func(m *mockRepository) {
				m.listIncidentsFunc = func(ctx context.Context, req *models.ListIncidentsRequest) ([]*models.Incident, int, error) {
					return []*models.Incident{{ID: "inc-1"}, {ID: "inc-2"}}, 2, nil
				}
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:        "list with status filter",
			method:      http.MethodGet,
			queryParams: "?status=FIRING&page=2&limit=10",
			setupMock: func(m *mockRepository) {
				m.listIncidentsFunc = func(ctx context.Context, req *models.ListIncidentsRequest) ([]*models.Incident, int, error) {
					assert.Equal(t, "FIRING", req.Status)
					assert.Equal(t, 2, req.Page)
					assert.Equal(t, 10, req.Limit)
					return []*models.Incident{}, 0, nil
				}
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "method not allowed",
			method:         http.MethodPost,
			queryParams:    "",
			setupMock:      func(m *mockRepository) {},
			expectedStatus: http.StatusMethodNotAllowed,
		},
		{
			name:        "repository error",
			method:      http.MethodGet,
			queryParams: "",
			setupMock: func(m *mockRepository) {
				m.listIncidentsFunc = func(ctx context.Context, req *models.ListIncidentsRequest) ([]*models.Incident, int, error) {
					return nil, 0, assertError
				}
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockRepository{}
			tt.setupMock(repo)
			h := NewHandler(service.NewService(repo))

			req := httptest.NewRequest(tt.method, "/api/v1/incidents"+tt.queryParams, nil)
			w := httptest.NewRecorder()

			h.ListIncidents(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus == http.StatusOK {
				var response models.ListIncidentsResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			}
		})
	}
}

func TestHandler_ApproveIncident(t *testing.T) {
	approved := false
	repo := &mockRepository{
		approveIncidentFunc: func(ctx context.Context, id string) error {
			approved = true
			assert.Equal(t, "inc-1", id)
			return nil
		},
		getIncidentByIDFunc: func(ctx context.Context, id string) (*models.Incident, error) {
			return &models.Incident{ID: id, IsCandidate: false}, nil
		},
	}
	h := NewHandler(service.NewService(repo))

	req := httptest.NewRequest(http.MethodPut, "/api/v1/incidents/inc-1/approve", nil)
	w := httptest.NewRecorder()
	h.ApproveIncident(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, approved)

	var got models.Incident
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.False(t, got.IsCandidate)
}

func TestHandler_ApproveIncident_WrongMethod(t *testing.T) {
	h := NewHandler(service.NewService(&mockRepository{}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/incidents/inc-1/approve", nil)
	w := httptest.NewRecorder()
	h.ApproveIncident(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandler_ResolveIncident(t *testing.T) {
	repo := &mockRepository{
		getIncidentByIDFunc: func(ctx context.Context, id string) (*models.Incident, error) {
			return &models.Incident{ID: id, Status: models.IncidentStatusResolved}, nil
		},
	}
	h := NewHandler(service.NewService(repo))

	req := httptest.NewRequest(http.MethodPut, "/api/v1/incidents/inc-1/resolve", nil)
	w := httptest.NewRecorder()
	h.ResolveIncident(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got models.Incident
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.IncidentStatusResolved, got.Status)
}

func TestHandler_ResolveIncident_NotFound(t *testing.T) {
	h := NewHandler(service.NewService(&mockRepository{}))

	req := httptest.NewRequest(http.MethodPut, "/api/v1/incidents/missing/resolve", nil)
	w := httptest.NewRecorder()
	h.ResolveIncident(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandler_SearchAlerts(t *testing.T) {
	repo := &mockRepository{
		searchAlertsFunc: func(ctx context.Context, node cel.Node, orderBy string, limit int) ([]*models.Alert, error) {
			assert.Equal(t, "timestamp", orderBy)
			assert.Equal(t, 10, limit)
			return []*models.Alert{{ID: "a1", Fingerprint: "fp-1"}}, nil
		},
	}
	h := NewHandler(service.NewService(repo))

	req := httptest.NewRequest(http.MethodGet, `/api/v1/alerts?cel=severity+==+"critical"&order_by=timestamp&limit=10`, nil)
	w := httptest.NewRecorder()
	h.SearchAlerts(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var response map[string][]*models.Alert
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Len(t, response["alerts"], 1)
	assert.Equal(t, "a1", response["alerts"][0].ID)
}

func TestHandler_SearchAlerts_MissingFilter(t *testing.T) {
	h := NewHandler(service.NewService(&mockRepository{}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	w := httptest.NewRecorder()
	h.SearchAlerts(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_SearchAlerts_InvalidFilter(t *testing.T) {
	h := NewHandler(service.NewService(&mockRepository{}))

	req := httptest.NewRequest(http.MethodGet, `/api/v1/alerts?cel=severity+==`, nil)
	w := httptest.NewRecorder()
	h.SearchAlerts(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_SearchAlerts_WrongMethod(t *testing.T) {
	h := NewHandler(service.NewService(&mockRepository{}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", nil)
	w := httptest.NewRecorder()
	h.SearchAlerts(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

var assertError = &mockError{"database error"}

type mockError struct{ msg string }

func (e *mockError) Error() string { return e.msg }
