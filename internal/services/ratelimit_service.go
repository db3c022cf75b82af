package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/mdrennan/bulwark/internal/models"
	pkglogger "github.com/mdrennan/bulwark/pkg/logger"
)

// AttemptLedger defines the interface for the bounded attempt history
type AttemptLedger interface {
	Append(ctx context.Context, key string, record models.AttemptRecord, window time.Duration) error
	Window(ctx context.Context, key string, window time.Duration) ([]models.AttemptRecord, error)
}

// RateLimitService implements the sliding-window evaluator and the abuse
// heuristic scorer over a shared attempt ledger.
type RateLimitService struct {
	ledger   AttemptLedger
	policies models.PolicySet
	alertSvc *AlertService
	logger   *slog.Logger
	now      func() time.Time
}

// NewRateLimitService creates a new RateLimitService. alerts may be nil for
// callers that handle alerting themselves. now may be nil to use the wall
// clock.
func NewRateLimitService(ledger AttemptLedger, policies models.PolicySet, alerts *AlertService, logger *slog.Logger, now func() time.Time) *RateLimitService {
	if now == nil {
		now = time.Now
	}
	return &RateLimitService{
		ledger:   ledger,
		policies: policies,
		alertSvc: alerts,
		logger:   logger,
		now:      now,
	}
}

// CheckRateLimit evaluates the attempt history for key against its action's
// policy. Backing-store failures fail OPEN: rate limiting must never become
// a denial-of-service vector triggered by infrastructure hiccups.
func (s *RateLimitService) CheckRateLimit(ctx context.Context, key models.RateLimitKey) (models.RateLimitResult, error) {
	if err := key.Validate(); err != nil {
		return models.RateLimitResult{}, err
	}

	ap, err := s.policies.Get(key.Action)
	if err != nil {
		return models.RateLimitResult{}, err
	}
	policy := ap.Policy

	records, err := s.ledger.Window(ctx, key.String(), policy.Window)
	if err != nil {
		s.logger.Error("rate limit check failed, failing open",
			pkglogger.SanitizedKey(string(key.Kind), key.Value),
			slog.String("action", string(key.Action)),
			slog.Any("error", err))
		return models.RateLimitResult{Allowed: true, Remaining: policy.MaxAttempts - 1}, nil
	}

	n := len(records)
	result := models.RateLimitResult{
		Allowed:          n < policy.MaxAttempts,
		Remaining:        remaining(policy.MaxAttempts, n),
		ProgressiveDelay: policy.DelayFor(n),
		TotalHits:        n,
	}
	if !result.Allowed {
		result.RetryAfter = policy.Lockout
	}

	stats := suspicionStats(records)
	if suspicious(stats, ap.Thresholds) {
		// The heuristic overrides the raw counter: a low-and-slow scraper
		// with many distinct identifiers stays under maxAttempts but not
		// under these thresholds
		result.SuspiciousActivity = true
		if result.Allowed {
			result.Allowed = false
			result.RetryAfter = policy.Lockout
			s.requestSuspicionAlert(key, stats)
			return result, nil
		}
	}
	if !result.Allowed {
		s.requestLimitAlert(key, n)
	}

	return result, nil
}

// RecordAttempt appends one attempt to the ledger for key
func (s *RateLimitService) RecordAttempt(ctx context.Context, key models.RateLimitKey, outcome models.AttemptOutcome, attemptCtx models.AttemptContext) error {
	if err := key.Validate(); err != nil {
		return err
	}

	ap, err := s.policies.Get(key.Action)
	if err != nil {
		return err
	}

	record := models.AttemptRecord{
		Timestamp:   s.now(),
		Key:         key.String(),
		SecondaryID: attemptCtx.SecondaryID,
		Outcome:     outcome,
		UserAgent:   attemptCtx.UserAgent,
	}

	if err := s.ledger.Append(ctx, key.String(), record, ap.Policy.Window); err != nil {
		s.logger.Error("failed to record attempt",
			pkglogger.SanitizedKey(string(key.Kind), key.Value),
			slog.String("action", string(key.Action)),
			slog.Any("error", err))
		return err
	}

	return nil
}

// remaining computes how many further attempts the caller has after this one
func remaining(maxAttempts, n int) int {
	r := maxAttempts - n - 1
	if r < 0 {
		return 0
	}
	return r
}

// suspicionStats aggregates what the heuristic scorer inspects in the window
func suspicionStats(records []models.AttemptRecord) models.SuspicionStats {
	unique := make(map[string]struct{})
	failed := 0
	for _, r := range records {
		if r.SecondaryID != "" {
			unique[r.SecondaryID] = struct{}{}
		}
		if r.Failed() {
			failed++
		}
	}
	return models.SuspicionStats{
		TotalAttempts:        len(records),
		UniqueSecondaryCount: len(unique),
		FailedCount:          failed,
	}
}

// suspicious applies the three heuristic triggers
func suspicious(stats models.SuspicionStats, t models.SuspicionThresholds) bool {
	if stats.TotalAttempts > t.MaxAttemptsPerWindow {
		return true
	}
	if stats.UniqueSecondaryCount > t.MaxUniqueSecondaryPerWindow {
		return true
	}
	if float64(stats.FailedCount) > float64(stats.TotalAttempts)*t.MaxFailureRatio {
		return true
	}
	return false
}

func (s *RateLimitService) requestSuspicionAlert(key models.RateLimitKey, stats models.SuspicionStats) {
	if s.alertSvc == nil {
		return
	}

	metadata := models.AlertMetadata{
		"attempts":         stats.TotalAttempts,
		"unique_secondary": stats.UniqueSecondaryCount,
		"failed":           stats.FailedCount,
		"action":           string(key.Action),
	}

	// Fire-and-forget: the request path never waits on alert persistence
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.alertSvc.CreateAlert(ctx, models.AlertTypeSuspiciousActivity, models.SeverityHigh,
			"Suspicious activity pattern detected",
			"Windowed attempt history crossed a suspicion threshold.",
			metadata, keyIP(key), keyEmail(key))
	}()
}

func (s *RateLimitService) requestLimitAlert(key models.RateLimitKey, attempts int) {
	if s.alertSvc == nil {
		return
	}

	alertType := models.AlertTypeEmailRateLimit
	if key.Kind == models.KeyKindIP && key.Action == models.ActionRegistration {
		alertType = models.AlertTypeIPRegistrationLimit
	} else if key.Kind == models.KeyKindIP || key.Kind == models.KeyKindComposite {
		alertType = models.AlertTypeSuspiciousActivity
	}

	metadata := models.AlertMetadata{
		"attempts": attempts,
		"action":   string(key.Action),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.alertSvc.CreateAlert(ctx, alertType, models.SeverityMedium,
			"Rate limit exceeded",
			"An attempt history exceeded its configured limit.",
			metadata, keyIP(key), keyEmail(key))
	}()
}

func keyIP(key models.RateLimitKey) *string {
	if key.Kind == models.KeyKindIP || key.Kind == models.KeyKindComposite {
		v := key.Value
		return &v
	}
	return nil
}

func keyEmail(key models.RateLimitKey) *string {
	if key.Kind == models.KeyKindEmail {
		v := key.Value
		return &v
	}
	return nil
}
