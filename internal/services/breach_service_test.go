package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdrennan/bulwark/internal/models"
	"github.com/mdrennan/bulwark/internal/services"
	"github.com/mdrennan/bulwark/internal/store"
)

type captureNotifier struct {
	mu     sync.Mutex
	accept bool
	sent   []*models.SecurityAlert
}

func (n *captureNotifier) Enqueue(alert *models.SecurityAlert) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.accept {
		return false
	}
	n.sent = append(n.sent, alert)
	return true
}

type errKV struct{}

func (errKV) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, models.ErrStoreUnavailable
}

func (errKV) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return models.ErrStoreUnavailable
}

func (errKV) Delete(ctx context.Context, key string) error {
	return models.ErrStoreUnavailable
}

type breachFixture struct {
	svc      *services.BreachService
	kv       *store.BadgerStore
	accounts *store.AccountLockStore
	repo     *mockAlertRepo
	notifier *captureNotifier
	created  *[]*models.SecurityAlert
}

func newBreachFixture(t *testing.T) *breachFixture {
	t.Helper()

	kv, err := store.Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	var created []*models.SecurityAlert
	var mu sync.Mutex
	repo := &mockAlertRepo{
		createFunc: func(ctx context.Context, alert *models.SecurityAlert) (*models.SecurityAlert, error) {
			mu.Lock()
			defer mu.Unlock()
			created = append(created, alert)
			return alert, nil
		},
	}

	accounts := store.NewAccountLockStore(kv, time.Hour, nil)
	notifier := &captureNotifier{accept: true}

	svc := services.NewBreachService(
		kv,
		nil,
		services.NewAlertService(repo, discardLogger()),
		accounts,
		notifier,
		services.BreachConfig{
			DetectionThreshold:   50,
			LockdownThreshold:    80,
			LockdownTTL:          time.Hour,
			PayloadSizeThreshold: 1000,
		},
		discardLogger(),
		nil,
	)

	return &breachFixture{svc: svc, kv: kv, accounts: accounts, repo: repo, notifier: notifier, created: &created}
}

func TestDetectBreach_BelowDetectionThreshold(t *testing.T) {
	f := newBreachFixture(t)
	ctx := context.Background()

	result := f.svc.DetectBreach(ctx, models.BreachAnomalousTraffic, models.BreachContext{
		IPAddress: "203.0.113.4",
		UserAgent: "Mozilla/5.0",
	})

	assert.Equal(t, 20, result.Score)
	assert.False(t, result.BreachDetected)
	assert.False(t, result.LockdownTriggered)
	assert.False(t, f.svc.IsIPBlocked(ctx, "203.0.113.4"))
	assert.Empty(t, *f.created)
}

func TestDetectBreach_DetectionWithoutLockdown(t *testing.T) {
	f := newBreachFixture(t)
	ctx := context.Background()

	// 45 base + 15 for the attempt bucket = 60: detected, below lockdown
	result := f.svc.DetectBreach(ctx, models.BreachInjectionAttempt, models.BreachContext{
		IPAddress:    "203.0.113.4",
		UserAgent:    "Mozilla/5.0",
		AttemptCount: 10,
	})

	assert.Equal(t, 60, result.Score)
	assert.True(t, result.BreachDetected)
	assert.False(t, result.LockdownTriggered)
	assert.False(t, f.svc.IsIPBlocked(ctx, "203.0.113.4"))

	require.Len(t, *f.created, 1)
	assert.Equal(t, models.AlertTypeBreachDetected, (*f.created)[0].Type)
	assert.Equal(t, models.SeverityHigh, (*f.created)[0].Severity)
}

func TestDetectBreach_LockdownSequence(t *testing.T) {
	f := newBreachFixture(t)
	ctx := context.Background()

	// 35 base + 25 attempts + 10 tooling agent + 10 oversized payload = 80
	result := f.svc.DetectBreach(ctx, models.BreachCredentialStuffing, models.BreachContext{
		IPAddress:    "203.0.113.4",
		UserID:       "user-9",
		UserAgent:    "curl/8.0",
		AttemptCount: 20,
		PayloadSize:  5000,
	})

	assert.Equal(t, 80, result.Score)
	assert.True(t, result.BreachDetected)
	assert.True(t, result.LockdownTriggered)

	// Durable IP block
	assert.True(t, f.svc.IsIPBlocked(ctx, "203.0.113.4"))
	lockdown, err := f.svc.ActiveLockdown(ctx, "203.0.113.4")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.4", lockdown.IPAddress)
	assert.Equal(t, string(models.BreachCredentialStuffing), lockdown.Reason)
	assert.Equal(t, 80, lockdown.Score)

	// Account lock
	locked, err := f.accounts.IsAccountLocked(ctx, "user-9")
	require.NoError(t, err)
	assert.True(t, locked)

	// Critical alert
	require.Len(t, *f.created, 1)
	assert.Equal(t, models.AlertTypeAutoLockdown, (*f.created)[0].Type)
	assert.Equal(t, models.SeverityCritical, (*f.created)[0].Severity)

	// Admin notification
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, models.AlertTypeAutoLockdown, f.notifier.sent[0].Type)
}

func TestDetectBreach_ScoreClamped(t *testing.T) {
	f := newBreachFixture(t)

	result := f.svc.DetectBreach(context.Background(), models.BreachInjectionAttempt, models.BreachContext{
		IPAddress:    "203.0.113.4",
		UserAgent:    "sqlmap/1.7",
		AttemptCount: 50,
		PayloadSize:  1_000_000,
	})

	assert.LessOrEqual(t, result.Score, 100)
	assert.True(t, result.LockdownTriggered)
}

func TestDetectBreach_DroppedNotificationKeepsLockdown(t *testing.T) {
	f := newBreachFixture(t)
	f.notifier.accept = false
	ctx := context.Background()

	result := f.svc.DetectBreach(ctx, models.BreachCredentialStuffing, models.BreachContext{
		IPAddress:    "203.0.113.4",
		UserAgent:    "curl/8.0",
		AttemptCount: 20,
		PayloadSize:  5000,
	})

	require.True(t, result.LockdownTriggered)

	// The dropped notification never undoes the block or the alert
	assert.True(t, f.svc.IsIPBlocked(ctx, "203.0.113.4"))
	assert.Len(t, *f.created, 1)
}

func TestIsIPBlocked_FailsOpenOnStoreError(t *testing.T) {
	svc := services.NewBreachService(
		errKV{},
		nil,
		services.NewAlertService(&mockAlertRepo{}, discardLogger()),
		nil,
		nil,
		services.BreachConfig{DetectionThreshold: 50, LockdownThreshold: 80, LockdownTTL: time.Hour},
		discardLogger(),
		nil,
	)

	assert.False(t, svc.IsIPBlocked(context.Background(), "203.0.113.4"))
}

func TestUnblockIP_RemovesMarker(t *testing.T) {
	f := newBreachFixture(t)
	ctx := context.Background()

	f.svc.DetectBreach(ctx, models.BreachCredentialStuffing, models.BreachContext{
		IPAddress:    "203.0.113.4",
		UserAgent:    "curl/8.0",
		AttemptCount: 20,
		PayloadSize:  5000,
	})
	require.True(t, f.svc.IsIPBlocked(ctx, "203.0.113.4"))

	require.NoError(t, f.svc.UnblockIP(ctx, "203.0.113.4"))
	assert.False(t, f.svc.IsIPBlocked(ctx, "203.0.113.4"))

	_, err := f.svc.ActiveLockdown(ctx, "203.0.113.4")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
