package background

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPurger struct {
	calls   atomic.Int32
	cutoffs chan time.Time
}

func (p *countingPurger) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	p.calls.Add(1)
	select {
	case p.cutoffs <- cutoff:
	default:
	}
	return 3, nil
}

type countingCompactor struct {
	calls atomic.Int32
}

func (c *countingCompactor) RunGC() error {
	c.calls.Add(1)
	return nil
}

func TestCleanupManager_RunsImmediatelyAndStops(t *testing.T) {
	purger := &countingPurger{cutoffs: make(chan time.Time, 1)}
	compactor := &countingCompactor{}
	cm := NewCleanupManager(purger, compactor, 30*24*time.Hour, time.Hour, testLogger())

	done := make(chan struct{})
	go func() {
		cm.Start(context.Background())
		close(done)
	}()

	// First pass runs without waiting for the ticker
	select {
	case cutoff := <-purger.cutoffs:
		assert.WithinDuration(t, time.Now().Add(-30*24*time.Hour), cutoff, time.Minute)
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup did not run on startup")
	}

	cm.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup manager did not stop")
	}

	assert.Equal(t, int32(1), purger.calls.Load())
	assert.Equal(t, int32(1), compactor.calls.Load())
}

func TestCleanupManager_TicksOnInterval(t *testing.T) {
	purger := &countingPurger{cutoffs: make(chan time.Time, 8)}
	cm := NewCleanupManager(purger, nil, time.Hour, 20*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cm.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return purger.calls.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
