package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/mdrennan/bulwark/internal/models"
	"github.com/mdrennan/bulwark/internal/store"
)

const (
	reputationKeyPrefix = "reputation:"

	// alertLookback is how far back the recompute looks for per-IP alerts
	alertLookback = 7 * 24 * time.Hour

	pointsPerAlert    = 10
	pointsPerCritical = 15
)

// AlertCounter supplies the historical alert counts the recompute uses
type AlertCounter interface {
	CountByIPSince(ctx context.Context, ip string, since time.Time) (total int, critical int, err error)
}

// ReputationService is a cache-aside store of a 0-100 badness score per IP.
// It owns its TTL and clock explicitly so staleness is testable.
type ReputationService struct {
	kv     store.KV
	alerts AlertCounter
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewReputationService creates a new ReputationService. now may be nil to
// use the wall clock.
func NewReputationService(kv store.KV, alerts AlertCounter, ttl time.Duration, logger *slog.Logger, now func() time.Time) *ReputationService {
	if now == nil {
		now = time.Now
	}
	return &ReputationService{kv: kv, alerts: alerts, ttl: ttl, logger: logger, now: now}
}

// CheckIPReputation returns the cached score for ip, recomputing when the
// entry is absent or stale. It never returns an error: this feeds a
// security decision path that must degrade gracefully, so a failed
// recompute falls back to the last known score, or neutral 0.
func (s *ReputationService) CheckIPReputation(ctx context.Context, ip string) int {
	cached, ok := s.cached(ctx, ip)
	if ok && !cached.Stale(s.now()) {
		return cached.Score
	}

	score, err := s.recompute(ctx, ip)
	if err != nil {
		s.logger.Error("reputation recompute failed",
			slog.String("ip_address", ip),
			slog.Any("error", err))
		if ok {
			return cached.Score
		}
		return 0
	}

	entry := models.ReputationEntry{
		IPAddress:   ip,
		Score:       score,
		Source:      models.ReputationSourceAlertHistory,
		LastChecked: s.now(),
		TTL:         s.ttl,
	}
	s.write(ctx, entry)

	return score
}

func (s *ReputationService) cached(ctx context.Context, ip string) (models.ReputationEntry, bool) {
	data, err := s.kv.Get(ctx, reputationKeyPrefix+ip)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("reputation cache read failed",
				slog.String("ip_address", ip),
				slog.Any("error", err))
		}
		return models.ReputationEntry{}, false
	}

	var entry models.ReputationEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return models.ReputationEntry{}, false
	}
	return entry, true
}

func (s *ReputationService) recompute(ctx context.Context, ip string) (int, error) {
	since := s.now().Add(-alertLookback)
	total, critical, err := s.alerts.CountByIPSince(ctx, ip, since)
	if err != nil {
		return 0, err
	}

	return models.ClampScore(total*pointsPerAlert + critical*pointsPerCritical), nil
}

func (s *ReputationService) write(ctx context.Context, entry models.ReputationEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	// Cache TTL is doubled so a stale-but-present entry survives long enough
	// to serve as the fallback when a later recompute fails
	if err := s.kv.SetWithTTL(ctx, reputationKeyPrefix+entry.IPAddress, data, 2*entry.TTL); err != nil {
		s.logger.Error("reputation cache write failed",
			slog.String("ip_address", entry.IPAddress),
			slog.Any("error", err))
	}
}
