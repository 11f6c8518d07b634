package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"idsync/internal/webhook/models"
)

const fingerprintKeyPrefix = "idsync:event:"

// RedisStore keeps the ledger in Redis. SET NX gives the same exactly-once
// reservation guarantee as the Postgres uniqueness constraint; retention is
// enforced by key TTL instead of a sweeper.
//
// It is a deployment alternative for installations that want the ledger off
// the primary database. Note it cannot participate in the apply transaction,
// so a crash between reservation and apply can swallow one legitimate retry
// until the TTL expires - the Postgres ledger does not have this gap.
type RedisStore struct {
	client    redis.Cmdable
	retention time.Duration
}

// NewRedis constructs a Redis-backed ledger with the given retention TTL.
func NewRedis(client redis.Cmdable, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &RedisStore{client: client, retention: retention}
}

func (s *RedisStore) Reserve(ctx context.Context, rec models.ProcessedEvent) (bool, error) {
	ok, err := s.client.SetNX(ctx, fingerprintKeyPrefix+rec.Fingerprint, rec.UserID.String(), s.retention).Result()
	if err != nil {
		return false, fmt.Errorf("reserve event in redis: %w", err)
	}
	return ok, nil
}

// DeleteOlderThan is a no-op for Redis; expiry is handled by key TTLs.
func (s *RedisStore) DeleteOlderThan(context.Context, time.Time) (int, error) {
	return 0, nil
}
