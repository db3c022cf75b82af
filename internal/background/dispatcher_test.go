package background

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdrennan/bulwark/internal/models"
)

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []*models.SecurityAlert
	delay time.Duration
}

func (n *recordingNotifier) Notify(ctx context.Context, alert *models.SecurityAlert) error {
	if n.delay > 0 {
		time.Sleep(n.delay)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, alert)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestDispatcher_DeliversQueuedAlerts(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(notifier, 8, time.Second, testLogger())

	go d.Start(context.Background())

	require.True(t, d.Enqueue(&models.SecurityAlert{Type: models.AlertTypeAutoLockdown}))
	require.True(t, d.Enqueue(&models.SecurityAlert{Type: models.AlertTypeBreachDetected}))

	require.Eventually(t, func() bool {
		return notifier.count() == 2
	}, 2*time.Second, 10*time.Millisecond)

	d.Stop()
}

func TestDispatcher_EnqueueNeverBlocksWhenFull(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(notifier, 2, time.Second, testLogger())

	// Worker not started: the queue fills and further enqueues are refused
	assert.True(t, d.Enqueue(&models.SecurityAlert{}))
	assert.True(t, d.Enqueue(&models.SecurityAlert{}))
	assert.False(t, d.Enqueue(&models.SecurityAlert{}))
}

func TestDispatcher_StopDrainsQueue(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(notifier, 8, time.Second, testLogger())

	for i := 0; i < 5; i++ {
		require.True(t, d.Enqueue(&models.SecurityAlert{}))
	}

	go d.Start(context.Background())
	d.Stop()

	assert.Equal(t, 5, notifier.count())
}

func TestDispatcher_ContextCancelStopsWorker(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(notifier, 8, time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}
