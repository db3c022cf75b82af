package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mdrennan/bulwark/internal/models"
	"github.com/mdrennan/bulwark/internal/store"
)

const ipBlockKeyPrefix = "ipblock:"

// baseWeights assigns each event type its starting contribution
var baseWeights = map[models.BreachEventType]int{
	models.BreachRepeatedFailedAuth: 30,
	models.BreachCredentialStuffing: 35,
	models.BreachInjectionAttempt:   45,
	models.BreachDataExfiltration:   40,
	models.BreachAnomalousTraffic:   20,
}

// suspiciousAgentMarkers flag tooling user agents
var suspiciousAgentMarkers = []string{"curl", "wget", "python", "bot", "scanner", "sqlmap", "nikto"}

// AccountLocker is the external account collaborator
type AccountLocker interface {
	SetAccountLocked(ctx context.Context, userID string) error
	IsAccountLocked(ctx context.Context, userID string) (bool, error)
}

// AlertNotifier receives lockdown alerts for asynchronous admin delivery.
// Enqueue must never block; it reports whether the alert was accepted.
type AlertNotifier interface {
	Enqueue(alert *models.SecurityAlert) bool
}

// BreachConfig holds the scoring thresholds and lockdown TTL
type BreachConfig struct {
	DetectionThreshold   int
	LockdownThreshold    int
	LockdownTTL          time.Duration
	PayloadSizeThreshold int
}

// BreachService computes weighted threat scores for named security events
// and owns the lockdown state machine: Normal -> Flagged -> Locked. The
// transition into Locked requires a deliberate threshold crossing; the
// transition out is never implicit.
type BreachService struct {
	kv         store.KV
	reputation *ReputationService
	alertSvc   *AlertService
	accounts   AccountLocker
	notifier   AlertNotifier
	config     BreachConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewBreachService creates a new BreachService. accounts and notifier may
// be nil; now may be nil to use the wall clock.
func NewBreachService(kv store.KV, reputation *ReputationService, alertSvc *AlertService, accounts AccountLocker, notifier AlertNotifier, config BreachConfig, logger *slog.Logger, now func() time.Time) *BreachService {
	if now == nil {
		now = time.Now
	}
	return &BreachService{
		kv:         kv,
		reputation: reputation,
		alertSvc:   alertSvc,
		accounts:   accounts,
		notifier:   notifier,
		config:     config,
		logger:     logger,
		now:        now,
	}
}

// DetectBreach scores one security event and, when the score crosses the
// lockdown threshold, applies the lockdown sequence.
func (s *BreachService) DetectBreach(ctx context.Context, eventType models.BreachEventType, breachCtx models.BreachContext) models.BreachResult {
	score := s.score(ctx, eventType, breachCtx)

	result := models.BreachResult{
		Score:             score,
		BreachDetected:    score >= s.config.DetectionThreshold,
		LockdownTriggered: score >= s.config.LockdownThreshold,
	}

	if result.LockdownTriggered {
		s.triggerLockdown(ctx, eventType, breachCtx, score)
		return result
	}

	if result.BreachDetected {
		s.logger.Warn("breach detected below lockdown threshold",
			slog.String("event_type", string(eventType)),
			slog.String("ip_address", breachCtx.IPAddress),
			slog.Int("score", score))
		s.alertSvc.CreateAlert(ctx, models.AlertTypeBreachDetected, models.SeverityHigh,
			"Potential breach detected",
			"A security event scored above the detection threshold.",
			models.AlertMetadata{
				"event_type": string(eventType),
				"score":      score,
				"endpoint":   breachCtx.Endpoint,
			}, optional(breachCtx.IPAddress), nil)
	}

	return result
}

// score accumulates contributions from the signals present in the context,
// clamped to [0, 100]
func (s *BreachService) score(ctx context.Context, eventType models.BreachEventType, breachCtx models.BreachContext) int {
	score := baseWeights[eventType]

	switch {
	case breachCtx.AttemptCount >= 20:
		score += 25
	case breachCtx.AttemptCount >= 10:
		score += 15
	case breachCtx.AttemptCount >= 5:
		score += 8
	}

	if breachCtx.IPAddress != "" && s.reputation != nil {
		// A quarter of the 0-100 reputation score feeds in, so a known-bad
		// IP contributes up to 25 points
		score += s.reputation.CheckIPReputation(ctx, breachCtx.IPAddress) / 4
	}

	if suspiciousUserAgent(breachCtx.UserAgent) {
		score += 10
	}

	if s.config.PayloadSizeThreshold > 0 && breachCtx.PayloadSize > s.config.PayloadSizeThreshold {
		score += 10
	}

	return models.ClampScore(score)
}

// triggerLockdown runs the lockdown sequence. Each step is independently
// safe to retry; a failure in a later step never undoes an earlier one, and
// nothing here is retried synchronously inside the request path.
func (s *BreachService) triggerLockdown(ctx context.Context, eventType models.BreachEventType, breachCtx models.BreachContext, score int) {
	lockdown := models.Lockdown{
		ID:          uuid.New(),
		IPAddress:   breachCtx.IPAddress,
		UserID:      breachCtx.UserID,
		Reason:      string(eventType),
		Score:       score,
		TriggeredAt: s.now(),
		ExpiresAt:   s.now().Add(s.config.LockdownTTL),
	}

	// 1. Durable IP-block marker, written before the caller can respond
	if err := s.writeBlockMarker(ctx, lockdown); err != nil {
		s.logger.Error("failed to write ip block marker; leaving re-detection to the next evaluation cycle",
			slog.String("ip_address", breachCtx.IPAddress),
			slog.Any("error", err))
	}

	// 2. Best-effort account lock
	if breachCtx.UserID != "" && s.accounts != nil {
		if err := s.accounts.SetAccountLocked(ctx, breachCtx.UserID); err != nil {
			s.logger.Error("failed to lock account during lockdown",
				slog.String("user_id", breachCtx.UserID),
				slog.Any("error", err))
		}
	}

	// 3. Critical alert; persistence failures are swallowed by the service
	metadata := models.AlertMetadata{
		"event_type":  string(eventType),
		"score":       score,
		"lockdown_id": lockdown.ID.String(),
		"expires_at":  lockdown.ExpiresAt.Format(time.RFC3339),
	}
	if breachCtx.UserID != "" {
		metadata["user_id"] = breachCtx.UserID
	}
	alertID := s.alertSvc.CreateAlert(ctx, models.AlertTypeAutoLockdown, models.SeverityCritical,
		"Automatic lockdown triggered",
		"Breach score crossed the lockdown threshold; the source IP has been blocked.",
		metadata, optional(breachCtx.IPAddress), nil)

	s.logger.Warn("lockdown triggered",
		slog.String("ip_address", breachCtx.IPAddress),
		slog.String("event_type", string(eventType)),
		slog.Int("score", score),
		slog.Time("expires_at", lockdown.ExpiresAt))

	// 4. Async admin notification; a failure here never undoes steps 1-3
	if s.notifier != nil {
		notice := &models.SecurityAlert{
			ID:          alertID,
			Type:        models.AlertTypeAutoLockdown,
			Severity:    models.SeverityCritical,
			Title:       "Automatic lockdown triggered",
			Description: "IP " + breachCtx.IPAddress + " was blocked after a breach score of " + strconv.Itoa(score) + ".",
			Metadata:    metadata,
			IPAddress:   optional(breachCtx.IPAddress),
			CreatedAt:   s.now(),
		}
		if !s.notifier.Enqueue(notice) {
			s.logger.Warn("notification queue full, dropping lockdown notice",
				slog.String("ip_address", breachCtx.IPAddress))
		}
	}
}

func (s *BreachService) writeBlockMarker(ctx context.Context, lockdown models.Lockdown) error {
	data, err := json.Marshal(lockdown)
	if err != nil {
		return err
	}
	return s.kv.SetWithTTL(ctx, ipBlockKeyPrefix+lockdown.IPAddress, data, s.config.LockdownTTL)
}

// IsIPBlocked reports whether an active lockdown marker exists for ip.
// Store errors fail OPEN, matching the rate limiter's availability policy:
// a degraded embedded store must not take down every request.
func (s *BreachService) IsIPBlocked(ctx context.Context, ip string) bool {
	_, err := s.kv.Get(ctx, ipBlockKeyPrefix+ip)
	if err == nil {
		return true
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("ip block check failed, failing open",
			slog.String("ip_address", ip),
			slog.Any("error", err))
	}
	return false
}

// ActiveLockdown returns the lockdown marker for ip, or ErrNotFound
func (s *BreachService) ActiveLockdown(ctx context.Context, ip string) (*models.Lockdown, error) {
	data, err := s.kv.Get(ctx, ipBlockKeyPrefix+ip)
	if err != nil {
		return nil, err
	}

	var lockdown models.Lockdown
	if err := json.Unmarshal(data, &lockdown); err != nil {
		return nil, models.ErrNotFound
	}
	return &lockdown, nil
}

// UnblockIP removes the lockdown marker for ip. This and TTL expiry are the
// only ways out of the Locked state.
func (s *BreachService) UnblockIP(ctx context.Context, ip string) error {
	if err := s.kv.Delete(ctx, ipBlockKeyPrefix+ip); err != nil {
		return err
	}

	s.logger.Info("ip unblocked by administrator", slog.String("ip_address", ip))
	return nil
}

func suspiciousUserAgent(agent string) bool {
	if agent == "" {
		return true
	}
	lower := strings.ToLower(agent)
	for _, marker := range suspiciousAgentMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
