// Package store wraps the embedded key-value store backing the attempt
// ledger, lockdown markers, and reputation cache.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/mdrennan/bulwark/internal/models"
)

// KV is the minimal key-value surface the engine depends on. Every call
// carries a context so callers can bound it with a short timeout.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// BadgerStore implements KV on BadgerDB. Entries expire at the storage
// layer via Badger's native TTL, so window pruning never depends on a
// cleanup job having run.
type BadgerStore struct {
	db *badger.DB
}

// Open opens (or creates) a Badger database at path. An empty path opens
// an in-memory store, used by tests.
func Open(path string, logger *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open key-value store: %w", err)
	}

	if logger != nil {
		logger.Info("key-value store opened", slog.String("path", path), slog.Bool("in_memory", path == ""))
	}

	return &BadgerStore{db: db}, nil
}

// Get returns the value for key, models.ErrNotFound if absent or expired,
// or models.ErrStoreUnavailable on storage faults.
func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %q: %v", models.ErrStoreUnavailable, key, err)
	}

	return value, nil
}

// SetWithTTL writes key with an expiry. A non-positive ttl writes without one.
func (s *BadgerStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("%w: set %q: %v", models.ErrStoreUnavailable, key, err)
	}

	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: delete %q: %v", models.ErrStoreUnavailable, key, err)
	}

	return nil
}

// RunGC reclaims value log space. Badger returns ErrNoRewrite when there
// is nothing to collect; that is not a fault.
func (s *BadgerStore) RunGC() error {
	err := s.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return err
	}
	return nil
}

// Close flushes and closes the underlying database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
