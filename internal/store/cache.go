package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"campusledger/internal/ledger"
)

// LedgerCache keeps computed ledger histories in Redis so the student
// history page does not recompute on every view. Entries are invalidated
// when a payment lands.
type LedgerCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLedgerCache creates a cache with the given entry TTL.
func NewLedgerCache(client *redis.Client, ttl time.Duration) *LedgerCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LedgerCache{client: client, ttl: ttl}
}

func historyKey(studentID string) string {
	return "ledger:history:" + studentID
}

// Get returns the cached history for a student, or nil on miss. Cache
// errors degrade to a miss; the caller recomputes.
func (c *LedgerCache) Get(ctx context.Context, studentID string) (*ledger.History, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	raw, err := c.client.Get(ctx, historyKey(studentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var h ledger.History
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, nil
	}
	return &h, nil
}

// Set stores a computed history.
func (c *LedgerCache) Set(ctx context.Context, studentID string, h ledger.History) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, historyKey(studentID), raw, c.ttl).Err()
}

// Invalidate drops the cached history after a new payment.
func (c *LedgerCache) Invalidate(ctx context.Context, studentID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, historyKey(studentID)).Err()
}
