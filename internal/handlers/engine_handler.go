package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/mdrennan/bulwark/internal/models"
	pkghttp "github.com/mdrennan/bulwark/pkg/http"
)

const maxEngineBodyBytes = 16 << 10

// RateLimitEngine is the decision surface exposed to trusted callers.
type RateLimitEngine interface {
	CheckRateLimit(ctx context.Context, key models.RateLimitKey) (models.RateLimitResult, error)
	RecordAttempt(ctx context.Context, key models.RateLimitKey, outcome models.AttemptOutcome, attemptCtx models.AttemptContext) error
}

// BreachDetector scores reported security events.
type BreachDetector interface {
	DetectBreach(ctx context.Context, eventType models.BreachEventType, breachCtx models.BreachContext) models.BreachResult
	IsIPBlocked(ctx context.Context, ip string) bool
}

// EngineHandler exposes the decision engine to host applications that
// consult it as a sidecar instead of embedding the middleware.
type EngineHandler struct {
	limiter RateLimitEngine
	breach  BreachDetector
}

// NewEngineHandler creates a new EngineHandler.
func NewEngineHandler(limiter RateLimitEngine, breach BreachDetector) *EngineHandler {
	return &EngineHandler{limiter: limiter, breach: breach}
}

// CheckRequest asks for a rate limit decision for one attempt
type CheckRequest struct {
	Action string `json:"action" validate:"required"`
	IP     string `json:"ip" validate:"required,ip"`
	Email  string `json:"email,omitempty" validate:"omitempty,email"`
}

// CheckResponse is the engine's decision
type CheckResponse struct {
	Allowed            bool  `json:"allowed"`
	Blocked            bool  `json:"blocked"`
	Remaining          int   `json:"remaining"`
	RetryAfterSeconds  int   `json:"retry_after_seconds,omitempty"`
	ProgressiveDelayMs int64 `json:"progressive_delay_ms,omitempty"`
	TotalHits          int   `json:"total_hits"`
	SuspiciousActivity bool  `json:"suspicious_activity"`
}

// keysFromRequest builds the per-IP key and, when an email is supplied, the
// per-email key as well. Both histories must be consulted together: one IP
// cycling through addresses and one address cycling through IPs each stay
// under the other key's counter.
func keysFromRequest(action models.Action, ip, email string) []models.RateLimitKey {
	keys := []models.RateLimitKey{{Kind: models.KeyKindIP, Value: ip, Action: action}}
	if email != "" {
		keys = append(keys, models.RateLimitKey{Kind: models.KeyKindEmail, Value: email, Action: action})
	}
	return keys
}

// Check handles POST /v1/check
func (h *EngineHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := pkghttp.DecodeJSON(w, r, &req, maxEngineBodyBytes); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	action := models.Action(req.Action)

	if h.breach.IsIPBlocked(r.Context(), req.IP) {
		pkghttp.WriteJSON(w, http.StatusOK, CheckResponse{Allowed: false, Blocked: true})
		return
	}

	// The stricter history wins on every field of the combined decision
	resp := CheckResponse{Allowed: true}
	for i, key := range keysFromRequest(action, req.IP, req.Email) {
		result, err := h.limiter.CheckRateLimit(r.Context(), key)
		if err != nil {
			pkghttp.WriteBadRequest(w, "unknown action or malformed key")
			return
		}

		if !result.Allowed {
			resp.Allowed = false
		}
		if result.SuspiciousActivity {
			resp.SuspiciousActivity = true
		}
		if i == 0 || result.Remaining < resp.Remaining {
			resp.Remaining = result.Remaining
		}
		if ra := int(result.RetryAfter / time.Second); ra > resp.RetryAfterSeconds {
			resp.RetryAfterSeconds = ra
		}
		if d := result.ProgressiveDelay.Milliseconds(); d > resp.ProgressiveDelayMs {
			resp.ProgressiveDelayMs = d
		}
		if result.TotalHits > resp.TotalHits {
			resp.TotalHits = result.TotalHits
		}
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// RecordAttemptRequest reports the outcome of one attempt
type RecordAttemptRequest struct {
	Action    string `json:"action" validate:"required"`
	IP        string `json:"ip" validate:"required,ip"`
	Email     string `json:"email,omitempty" validate:"omitempty,email"`
	Outcome   string `json:"outcome" validate:"required,oneof=success failure"`
	UserAgent string `json:"user_agent,omitempty"`
}

// RecordAttempt handles POST /v1/attempts
func (h *EngineHandler) RecordAttempt(w http.ResponseWriter, r *http.Request) {
	var req RecordAttemptRequest
	if err := pkghttp.DecodeJSON(w, r, &req, maxEngineBodyBytes); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	// Each ledger stores the counterpart identifier as its secondary: the IP
	// history counts distinct emails, the email history counts distinct IPs.
	for _, key := range keysFromRequest(models.Action(req.Action), req.IP, req.Email) {
		attemptCtx := models.AttemptContext{
			SecondaryID: req.Email,
			UserAgent:   req.UserAgent,
		}
		if key.Kind == models.KeyKindEmail {
			attemptCtx.SecondaryID = req.IP
		}

		if err := h.limiter.RecordAttempt(r.Context(), key, models.AttemptOutcome(req.Outcome), attemptCtx); err != nil {
			pkghttp.WriteBadRequest(w, "unknown action or malformed key")
			return
		}
	}

	w.WriteHeader(http.StatusAccepted)
}

// ReportEventRequest reports an observed security event for scoring
type ReportEventRequest struct {
	EventType    string `json:"event_type" validate:"required,oneof=repeated_failed_auth credential_stuffing injection_attempt data_exfiltration_pattern anomalous_traffic"`
	IP           string `json:"ip" validate:"required,ip"`
	UserID       string `json:"user_id,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
	AttemptCount int    `json:"attempt_count" validate:"gte=0"`
	PayloadSize  int    `json:"payload_size" validate:"gte=0"`
	Endpoint     string `json:"endpoint,omitempty" validate:"omitempty,max=512"`
}

// ReportEventResponse carries the scoring outcome
type ReportEventResponse struct {
	BreachDetected    bool `json:"breach_detected"`
	LockdownTriggered bool `json:"lockdown_triggered"`
	Score             int  `json:"score"`
}

// ReportEvent handles POST /v1/events
func (h *EngineHandler) ReportEvent(w http.ResponseWriter, r *http.Request) {
	var req ReportEventRequest
	if err := pkghttp.DecodeJSON(w, r, &req, maxEngineBodyBytes); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result := h.breach.DetectBreach(r.Context(), models.BreachEventType(req.EventType), models.BreachContext{
		IPAddress:    req.IP,
		UserID:       req.UserID,
		UserAgent:    req.UserAgent,
		AttemptCount: req.AttemptCount,
		PayloadSize:  req.PayloadSize,
		Endpoint:     req.Endpoint,
	})

	pkghttp.WriteJSON(w, http.StatusOK, ReportEventResponse{
		BreachDetected:    result.BreachDetected,
		LockdownTriggered: result.LockdownTriggered,
		Score:             result.Score,
	})
}
