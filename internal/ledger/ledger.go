// Package ledger keeps the append-only, time-bounded attempt history that
// the sliding-window evaluator and the heuristic scorer read.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/mdrennan/bulwark/internal/models"
	"github.com/mdrennan/bulwark/internal/store"
)

const (
	keyPrefix = "attempts:"

	// maxEntries bounds memory per key; oldest entries drop first
	maxEntries = 100

	// ttlBuffer keeps records slightly past the window so a read racing
	// the expiry still sees a consistent history
	ttlBuffer = 5 * time.Minute
)

// Ledger records and reads bounded attempt histories keyed by IP, normalized
// secondary identifier, or a composite of both.
type Ledger struct {
	kv     store.KV
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Ledger. now may be nil to use the wall clock.
func New(kv store.KV, logger *slog.Logger, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{kv: kv, logger: logger, now: now}
}

// Append adds a record to the history for key, prunes entries that fell out
// of the window, truncates to the size cap keeping the most recent entries,
// and persists with a TTL slightly larger than the window.
func (l *Ledger) Append(ctx context.Context, key string, record models.AttemptRecord, window time.Duration) error {
	if key == "" {
		return models.ErrInvalidKey
	}

	records, err := l.load(ctx, key)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}

	records = append(records, record)
	records = pruneWindow(records, l.now().Add(-window))
	if len(records) > maxEntries {
		records = records[len(records)-maxEntries:]
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal attempt history: %w", err)
	}

	return l.kv.SetWithTTL(ctx, keyPrefix+key, data, window+ttlBuffer)
}

// Window returns the records for key that fall inside the active window.
// A key with no history returns an empty slice, not an error.
func (l *Ledger) Window(ctx context.Context, key string, window time.Duration) ([]models.AttemptRecord, error) {
	if key == "" {
		return nil, models.ErrInvalidKey
	}

	records, err := l.load(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		return []models.AttemptRecord{}, nil
	}
	if err != nil {
		return nil, err
	}

	return pruneWindow(records, l.now().Add(-window)), nil
}

func (l *Ledger) load(ctx context.Context, key string) ([]models.AttemptRecord, error) {
	data, err := l.kv.Get(ctx, keyPrefix+key)
	if err != nil {
		return nil, err
	}

	var records []models.AttemptRecord
	if err := json.Unmarshal(data, &records); err != nil {
		// A corrupt entry is treated as absent rather than poisoning the key
		l.logger.Error("discarding corrupt attempt history",
			slog.String("key", key),
			slog.Any("error", err))
		return nil, models.ErrNotFound
	}

	return records, nil
}

// pruneWindow drops records at or before cutoff. It is the single place the
// "is this timestamp too old" decision is made.
func pruneWindow(records []models.AttemptRecord, cutoff time.Time) []models.AttemptRecord {
	kept := make([]models.AttemptRecord, 0, len(records))
	for _, r := range records {
		if r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}
	return kept
}
