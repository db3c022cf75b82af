package store

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"

	"github.com/mdrennan/bulwark/internal/models"
)

const accountLockPrefix = "acctlock:"

// accountLockRecord mirrors the lockdown marker shape for account-level locks
type accountLockRecord struct {
	UserID   string    `json:"user_id"`
	LockedAt time.Time `json:"locked_at"`
}

// AccountLockStore keeps account-level lock markers in the KV store. Locks
// expire with the same TTL as IP lockdowns.
type AccountLockStore struct {
	kv  KV
	ttl time.Duration
	now func() time.Time
}

// NewAccountLockStore creates an AccountLockStore over kv with the given
// lock TTL.
func NewAccountLockStore(kv KV, ttl time.Duration, now func() time.Time) *AccountLockStore {
	if now == nil {
		now = time.Now
	}
	return &AccountLockStore{kv: kv, ttl: ttl, now: now}
}

// SetAccountLocked writes a lock marker for userID
func (s *AccountLockStore) SetAccountLocked(ctx context.Context, userID string) error {
	if userID == "" {
		return models.ErrBadRequest
	}

	payload, err := json.Marshal(accountLockRecord{
		UserID:   userID,
		LockedAt: s.now(),
	})
	if err != nil {
		return err
	}

	return s.kv.SetWithTTL(ctx, accountLockPrefix+userID, payload, s.ttl)
}

// IsAccountLocked reports whether an unexpired lock marker exists for userID
func (s *AccountLockStore) IsAccountLocked(ctx context.Context, userID string) (bool, error) {
	_, err := s.kv.Get(ctx, accountLockPrefix+userID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UnlockAccount removes the lock marker for userID
func (s *AccountLockStore) UnlockAccount(ctx context.Context, userID string) error {
	return s.kv.Delete(ctx, accountLockPrefix+userID)
}
