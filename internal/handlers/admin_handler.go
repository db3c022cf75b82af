package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mdrennan/bulwark/internal/models"
	pkghttp "github.com/mdrennan/bulwark/pkg/http"
)

const maxResolveBodyBytes = 4 << 10

// AlertManager defines the alert operations exposed over the admin API.
type AlertManager interface {
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.SecurityAlert, error)
	GetAlert(ctx context.Context, id uuid.UUID) (*models.SecurityAlert, error)
	ResolveAlert(ctx context.Context, id uuid.UUID, resolvedBy string, notes *string) (*models.SecurityAlert, error)
}

// ReputationChecker scores an IP from its recent alert history.
type ReputationChecker interface {
	CheckIPReputation(ctx context.Context, ip string) int
}

// LockdownManager exposes active lockdown inspection and release.
type LockdownManager interface {
	ActiveLockdown(ctx context.Context, ip string) (*models.Lockdown, error)
	UnblockIP(ctx context.Context, ip string) error
}

// AdminHandler handles the admin API HTTP requests.
type AdminHandler struct {
	alerts     AlertManager
	reputation ReputationChecker
	lockdowns  LockdownManager
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(alerts AlertManager, reputation ReputationChecker, lockdowns LockdownManager) *AdminHandler {
	return &AdminHandler{
		alerts:     alerts,
		reputation: reputation,
		lockdowns:  lockdowns,
	}
}

// alertResponse is the wire form of a persisted alert
type alertResponse struct {
	ID          uuid.UUID            `json:"id"`
	Type        string               `json:"alert_type"`
	Severity    string               `json:"severity"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Metadata    models.AlertMetadata `json:"metadata,omitempty"`
	IPAddress   *string              `json:"ip_address,omitempty"`
	Email       *string              `json:"email,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	Resolved    bool                 `json:"resolved"`
	ResolvedBy  *string              `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time           `json:"resolved_at,omitempty"`
	Notes       *string              `json:"notes,omitempty"`
}

func toAlertResponse(a *models.SecurityAlert) alertResponse {
	return alertResponse{
		ID:          a.ID,
		Type:        a.Type,
		Severity:    a.Severity,
		Title:       a.Title,
		Description: a.Description,
		Metadata:    a.Metadata,
		IPAddress:   a.IPAddress,
		Email:       a.Email,
		CreatedAt:   a.CreatedAt,
		Resolved:    a.Resolved,
		ResolvedBy:  a.ResolvedBy,
		ResolvedAt:  a.ResolvedAt,
		Notes:       a.Notes,
	}
}

// ListAlerts handles GET /admin/alerts
// Supports ?type=, ?severity=, ?resolved=, ?since=, ?until= (RFC3339),
// ?limit= and ?offset=.
func (h *AdminHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.AlertFilter{
		Type:     q.Get("type"),
		Severity: q.Get("severity"),
	}

	if v := q.Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			pkghttp.WriteBadRequest(w, "resolved must be true or false")
			return
		}
		filter.Resolved = &resolved
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			pkghttp.WriteBadRequest(w, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = &ts
	}
	if v := q.Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			pkghttp.WriteBadRequest(w, "until must be an RFC3339 timestamp")
			return
		}
		filter.Until = &ts
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Offset = n
		}
	}

	alerts, err := h.alerts.ListAlerts(r.Context(), filter)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to retrieve alerts")
		return
	}

	out := make([]alertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, toAlertResponse(a))
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": out,
		"count":  len(out),
	})
}

// GetAlert handles GET /admin/alerts/{id}
func (h *AdminHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "invalid alert id")
		return
	}

	alert, err := h.alerts.GetAlert(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "alert not found")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to retrieve alert")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toAlertResponse(alert))
}

// ResolveAlertRequest is the payload for POST /admin/alerts/{id}/resolve
type ResolveAlertRequest struct {
	ResolvedBy string  `json:"resolved_by" validate:"required,max=255"`
	Notes      *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// ResolveAlert handles POST /admin/alerts/{id}/resolve. Resolving an
// already-resolved alert is a no-op and returns the alert unchanged.
func (h *AdminHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "invalid alert id")
		return
	}

	var req ResolveAlertRequest
	if err := pkghttp.DecodeJSON(w, r, &req, maxResolveBodyBytes); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	alert, err := h.alerts.ResolveAlert(r.Context(), id, req.ResolvedBy, req.Notes)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "alert not found")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to resolve alert")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toAlertResponse(alert))
}

// GetReputation handles GET /admin/reputation/{ip}
func (h *AdminHandler) GetReputation(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if err := validate.Var(ip, "required,ip"); err != nil {
		pkghttp.WriteBadRequest(w, "invalid IP address")
		return
	}

	score := h.reputation.CheckIPReputation(r.Context(), ip)

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ip_address": ip,
		"score":      score,
	})
}

// GetLockdown handles GET /admin/lockdowns/{ip}
func (h *AdminHandler) GetLockdown(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if err := validate.Var(ip, "required,ip"); err != nil {
		pkghttp.WriteBadRequest(w, "invalid IP address")
		return
	}

	lockdown, err := h.lockdowns.ActiveLockdown(r.Context(), ip)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "no active lockdown for this IP")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to retrieve lockdown")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, lockdown)
}

// ReleaseLockdown handles DELETE /admin/lockdowns/{ip}
func (h *AdminHandler) ReleaseLockdown(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if err := validate.Var(ip, "required,ip"); err != nil {
		pkghttp.WriteBadRequest(w, "invalid IP address")
		return
	}

	if err := h.lockdowns.UnblockIP(r.Context(), ip); err != nil {
		pkghttp.WriteInternalError(w, "Failed to release lockdown")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
