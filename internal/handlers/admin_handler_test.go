package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdrennan/bulwark/internal/handlers"
	"github.com/mdrennan/bulwark/internal/models"
)

// mockAlertManager implements handlers.AlertManager for testing
type mockAlertManager struct {
	ListAlertsFunc   func(ctx context.Context, filter models.AlertFilter) ([]*models.SecurityAlert, error)
	GetAlertFunc     func(ctx context.Context, id uuid.UUID) (*models.SecurityAlert, error)
	ResolveAlertFunc func(ctx context.Context, id uuid.UUID, resolvedBy string, notes *string) (*models.SecurityAlert, error)
}

func (m *mockAlertManager) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.SecurityAlert, error) {
	return m.ListAlertsFunc(ctx, filter)
}

func (m *mockAlertManager) GetAlert(ctx context.Context, id uuid.UUID) (*models.SecurityAlert, error) {
	return m.GetAlertFunc(ctx, id)
}

func (m *mockAlertManager) ResolveAlert(ctx context.Context, id uuid.UUID, resolvedBy string, notes *string) (*models.SecurityAlert, error) {
	return m.ResolveAlertFunc(ctx, id, resolvedBy, notes)
}

type mockReputationChecker struct {
	score int
}

func (m *mockReputationChecker) CheckIPReputation(ctx context.Context, ip string) int {
	return m.score
}

type mockLockdownManager struct {
	ActiveLockdownFunc func(ctx context.Context, ip string) (*models.Lockdown, error)
	UnblockIPFunc      func(ctx context.Context, ip string) error
}

func (m *mockLockdownManager) ActiveLockdown(ctx context.Context, ip string) (*models.Lockdown, error) {
	return m.ActiveLockdownFunc(ctx, ip)
}

func (m *mockLockdownManager) UnblockIP(ctx context.Context, ip string) error {
	return m.UnblockIPFunc(ctx, ip)
}

// withURLParam injects a chi route parameter into the request context
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func newHandler(alerts *mockAlertManager, rep *mockReputationChecker, locks *mockLockdownManager) *handlers.AdminHandler {
	if alerts == nil {
		alerts = &mockAlertManager{}
	}
	if rep == nil {
		rep = &mockReputationChecker{}
	}
	if locks == nil {
		locks = &mockLockdownManager{}
	}
	return handlers.NewAdminHandler(alerts, rep, locks)
}

func TestListAlerts_AppliesFilters(t *testing.T) {
	var captured models.AlertFilter
	mock := &mockAlertManager{
		ListAlertsFunc: func(ctx context.Context, filter models.AlertFilter) ([]*models.SecurityAlert, error) {
			captured = filter
			return []*models.SecurityAlert{
				{ID: uuid.New(), Type: models.AlertTypeAutoLockdown, Severity: models.SeverityCritical},
			}, nil
		},
	}
	h := newHandler(mock, nil, nil)

	req := httptest.NewRequest("GET", "/admin/alerts?type=auto_lockdown&severity=critical&resolved=false&limit=10", nil)
	w := httptest.NewRecorder()
	h.ListAlerts(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, models.AlertTypeAutoLockdown, captured.Type)
	assert.Equal(t, models.SeverityCritical, captured.Severity)
	require.NotNil(t, captured.Resolved)
	assert.False(t, *captured.Resolved)
	assert.Equal(t, 10, captured.Limit)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestListAlerts_InvalidResolvedParam_Returns400(t *testing.T) {
	h := newHandler(nil, nil, nil)

	req := httptest.NewRequest("GET", "/admin/alerts?resolved=maybe", nil)
	w := httptest.NewRecorder()
	h.ListAlerts(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestGetAlert_NotFound_Returns404(t *testing.T) {
	mock := &mockAlertManager{
		GetAlertFunc: func(ctx context.Context, id uuid.UUID) (*models.SecurityAlert, error) {
			return nil, models.ErrNotFound
		},
	}
	h := newHandler(mock, nil, nil)

	req := withURLParam(httptest.NewRequest("GET", "/admin/alerts/x", nil), "id", uuid.NewString())
	w := httptest.NewRecorder()
	h.GetAlert(w, req)

	assert.Equal(t, 404, w.Code)
}

func TestResolveAlert_Success_Returns200(t *testing.T) {
	id := uuid.New()
	mock := &mockAlertManager{
		ResolveAlertFunc: func(ctx context.Context, gotID uuid.UUID, resolvedBy string, notes *string) (*models.SecurityAlert, error) {
			assert.Equal(t, id, gotID)
			assert.Equal(t, "ops@example.com", resolvedBy)
			now := time.Now()
			return &models.SecurityAlert{
				ID:         id,
				Resolved:   true,
				ResolvedBy: &resolvedBy,
				ResolvedAt: &now,
			}, nil
		},
	}
	h := newHandler(mock, nil, nil)

	body := strings.NewReader(`{"resolved_by": "ops@example.com"}`)
	req := withURLParam(httptest.NewRequest("POST", "/admin/alerts/x/resolve", body), "id", id.String())
	w := httptest.NewRecorder()
	h.ResolveAlert(w, req)

	assert.Equal(t, 200, w.Code)

	var resp struct {
		Resolved bool `json:"resolved"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Resolved)
}

func TestResolveAlert_MissingResolvedBy_Returns400(t *testing.T) {
	h := newHandler(nil, nil, nil)

	body := strings.NewReader(`{"notes": "looked into it"}`)
	req := withURLParam(httptest.NewRequest("POST", "/admin/alerts/x/resolve", body), "id", uuid.NewString())
	w := httptest.NewRecorder()
	h.ResolveAlert(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestResolveAlert_InvalidID_Returns400(t *testing.T) {
	h := newHandler(nil, nil, nil)

	body := strings.NewReader(`{"resolved_by": "ops"}`)
	req := withURLParam(httptest.NewRequest("POST", "/admin/alerts/x/resolve", body), "id", "not-a-uuid")
	w := httptest.NewRecorder()
	h.ResolveAlert(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestGetReputation_ReturnsScore(t *testing.T) {
	h := newHandler(nil, &mockReputationChecker{score: 35}, nil)

	req := withURLParam(httptest.NewRequest("GET", "/admin/reputation/x", nil), "ip", "203.0.113.4")
	w := httptest.NewRecorder()
	h.GetReputation(w, req)

	assert.Equal(t, 200, w.Code)

	var resp struct {
		IPAddress string `json:"ip_address"`
		Score     int    `json:"score"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "203.0.113.4", resp.IPAddress)
	assert.Equal(t, 35, resp.Score)
}

func TestGetReputation_InvalidIP_Returns400(t *testing.T) {
	h := newHandler(nil, nil, nil)

	req := withURLParam(httptest.NewRequest("GET", "/admin/reputation/x", nil), "ip", "not-an-ip")
	w := httptest.NewRecorder()
	h.GetReputation(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestGetLockdown_Active_Returns200(t *testing.T) {
	locks := &mockLockdownManager{
		ActiveLockdownFunc: func(ctx context.Context, ip string) (*models.Lockdown, error) {
			return &models.Lockdown{
				ID:        uuid.New(),
				IPAddress: ip,
				Reason:    "credential_stuffing",
				Score:     85,
			}, nil
		},
	}
	h := newHandler(nil, nil, locks)

	req := withURLParam(httptest.NewRequest("GET", "/admin/lockdowns/x", nil), "ip", "203.0.113.4")
	w := httptest.NewRecorder()
	h.GetLockdown(w, req)

	assert.Equal(t, 200, w.Code)

	var resp models.Lockdown
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "203.0.113.4", resp.IPAddress)
	assert.Equal(t, 85, resp.Score)
}

func TestGetLockdown_None_Returns404(t *testing.T) {
	locks := &mockLockdownManager{
		ActiveLockdownFunc: func(ctx context.Context, ip string) (*models.Lockdown, error) {
			return nil, models.ErrNotFound
		},
	}
	h := newHandler(nil, nil, locks)

	req := withURLParam(httptest.NewRequest("GET", "/admin/lockdowns/x", nil), "ip", "203.0.113.4")
	w := httptest.NewRecorder()
	h.GetLockdown(w, req)

	assert.Equal(t, 404, w.Code)
}

func TestReleaseLockdown_Returns204(t *testing.T) {
	released := ""
	locks := &mockLockdownManager{
		UnblockIPFunc: func(ctx context.Context, ip string) error {
			released = ip
			return nil
		},
	}
	h := newHandler(nil, nil, locks)

	req := withURLParam(httptest.NewRequest("DELETE", "/admin/lockdowns/x", nil), "ip", "203.0.113.4")
	w := httptest.NewRecorder()
	h.ReleaseLockdown(w, req)

	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "203.0.113.4", released)
}
