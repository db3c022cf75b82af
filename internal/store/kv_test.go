package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdrennan/bulwark/internal/models"
	"github.com/mdrennan/bulwark/internal/store"
)

func newTestStore(t *testing.T) *store.BadgerStore {
	t.Helper()
	kv, err := store.Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestBadgerStoreSetGet(t *testing.T) {
	kv := newTestStore(t)
	ctx := context.Background()

	err := kv.SetWithTTL(ctx, "attempts:ip:10.0.0.1", []byte(`{"n":1}`), time.Minute)
	require.NoError(t, err)

	value, err := kv.Get(ctx, "attempts:ip:10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"n":1}`), value)
}

func TestBadgerStoreGet_MissingKey(t *testing.T) {
	kv := newTestStore(t)

	_, err := kv.Get(context.Background(), "attempts:ip:10.0.0.2")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestBadgerStoreDelete(t *testing.T) {
	kv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, kv.SetWithTTL(ctx, "ipblock:10.0.0.3", []byte("x"), time.Hour))
	require.NoError(t, kv.Delete(ctx, "ipblock:10.0.0.3"))

	_, err := kv.Get(ctx, "ipblock:10.0.0.3")
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Deleting an absent key is a no-op
	assert.NoError(t, kv.Delete(ctx, "ipblock:10.0.0.3"))
}

func TestBadgerStoreTTLExpiry(t *testing.T) {
	kv := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, kv.SetWithTTL(ctx, "reputation:10.0.0.4", []byte("50"), 50*time.Millisecond))

	time.Sleep(150 * time.Millisecond)

	_, err := kv.Get(ctx, "reputation:10.0.0.4")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestBadgerStoreCancelledContext(t *testing.T) {
	kv := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := kv.Get(ctx, "anything")
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)

	err = kv.SetWithTTL(ctx, "anything", []byte("v"), time.Minute)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}
