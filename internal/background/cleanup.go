package background

import (
	"context"
	"log/slog"
	"time"
)

// AlertPurger removes alerts past the retention window
type AlertPurger interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// StoreCompactor reclaims space in the key-value store
type StoreCompactor interface {
	RunGC() error
}

// CleanupManager periodically purges expired alerts and compacts the
// key-value store. Attempt ledgers and lockdown markers expire on their own
// TTLs and need no sweeping here.
type CleanupManager struct {
	alerts    AlertPurger
	kv        StoreCompactor
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	stopCh    chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(alerts AlertPurger, kv StoreCompactor, retention, interval time.Duration, logger *slog.Logger) *CleanupManager {
	return &CleanupManager{
		alerts:    alerts,
		kv:        kv,
		retention: retention,
		interval:  interval,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-cm.retention)
	rowsDeleted, err := cm.alerts.DeleteExpired(cleanupCtx, cutoff)
	if err != nil {
		cm.logger.Error("failed to purge expired alerts", slog.Any("error", err))
	} else if rowsDeleted > 0 {
		cm.logger.Info("expired alerts purged", slog.Int64("rows_deleted", rowsDeleted))
	}

	if cm.kv != nil {
		if err := cm.kv.RunGC(); err != nil {
			cm.logger.Error("key-value store compaction failed", slog.Any("error", err))
		}
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
