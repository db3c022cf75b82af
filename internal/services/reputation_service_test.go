package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdrennan/bulwark/internal/services"
	"github.com/mdrennan/bulwark/internal/store"
)

type mockAlertCounter struct {
	total    int
	critical int
	err      error
	calls    int
}

func (m *mockAlertCounter) CountByIPSince(ctx context.Context, ip string, since time.Time) (int, int, error) {
	m.calls++
	return m.total, m.critical, m.err
}

func newReputationFixture(t *testing.T, counter *mockAlertCounter, now *time.Time) *services.ReputationService {
	t.Helper()
	kv, err := store.Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	clock := func() time.Time { return *now }
	return services.NewReputationService(kv, counter, time.Hour, discardLogger(), clock)
}

func TestCheckIPReputation_ComputesFromAlertHistory(t *testing.T) {
	now := time.Now()
	counter := &mockAlertCounter{total: 3, critical: 1}
	svc := newReputationFixture(t, counter, &now)

	// 3 alerts x 10 + 1 critical x 15
	score := svc.CheckIPReputation(context.Background(), "203.0.113.4")
	assert.Equal(t, 45, score)
	assert.Equal(t, 1, counter.calls)
}

func TestCheckIPReputation_ServesFromCacheWhileFresh(t *testing.T) {
	now := time.Now()
	counter := &mockAlertCounter{total: 2}
	svc := newReputationFixture(t, counter, &now)
	ctx := context.Background()

	first := svc.CheckIPReputation(ctx, "203.0.113.4")
	second := svc.CheckIPReputation(ctx, "203.0.113.4")

	assert.Equal(t, first, second)
	assert.Equal(t, 1, counter.calls)
}

func TestCheckIPReputation_RecomputesAfterTTL(t *testing.T) {
	now := time.Now()
	counter := &mockAlertCounter{total: 2}
	svc := newReputationFixture(t, counter, &now)
	ctx := context.Background()

	assert.Equal(t, 20, svc.CheckIPReputation(ctx, "203.0.113.4"))

	counter.total = 5
	now = now.Add(61 * time.Minute)

	assert.Equal(t, 50, svc.CheckIPReputation(ctx, "203.0.113.4"))
	assert.Equal(t, 2, counter.calls)
}

func TestCheckIPReputation_FallsBackToStaleScoreOnRecomputeFailure(t *testing.T) {
	now := time.Now()
	counter := &mockAlertCounter{total: 4}
	svc := newReputationFixture(t, counter, &now)
	ctx := context.Background()

	assert.Equal(t, 40, svc.CheckIPReputation(ctx, "203.0.113.4"))

	counter.err = assert.AnError
	now = now.Add(61 * time.Minute)

	// Stale entry is better than nothing when the recompute source is down
	assert.Equal(t, 40, svc.CheckIPReputation(ctx, "203.0.113.4"))
}

func TestCheckIPReputation_UnknownIPWithFailedRecompute(t *testing.T) {
	now := time.Now()
	counter := &mockAlertCounter{err: assert.AnError}
	svc := newReputationFixture(t, counter, &now)

	assert.Equal(t, 0, svc.CheckIPReputation(context.Background(), "203.0.113.99"))
}

func TestCheckIPReputation_ScoreClamped(t *testing.T) {
	now := time.Now()
	counter := &mockAlertCounter{total: 50, critical: 10}
	svc := newReputationFixture(t, counter, &now)

	assert.Equal(t, 100, svc.CheckIPReputation(context.Background(), "203.0.113.4"))
}
