package calls

import (
	"context"
	"time"

	"callbridge/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Quota gates how many live calls a user may hold at once.
type Quota interface {
	Acquire(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string) error
}

const quotaKeyPrefix = "callbridge:quota:calls:"

// RedisQuota counts live calls per user in Redis so the cap holds across
// worker processes. Slots expire on their own, which keeps a crashed worker
// from pinning a user at their limit forever.
type RedisQuota struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisQuota(rdb *redis.Client, limit int, ttl time.Duration) *RedisQuota {
	if limit <= 0 {
		limit = 3
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisQuota{rdb: rdb, limit: limit, ttl: ttl}
}

func (q *RedisQuota) Acquire(ctx context.Context, userID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, q.rdb, quotaKeyPrefix+userID, q.limit, q.ttl)
}

func (q *RedisQuota) Release(ctx context.Context, userID string) error {
	return utils.ReleaseConcurrencyCap(ctx, q.rdb, quotaKeyPrefix+userID)
}

// MemoryQuota is an in-process Quota for tests.
type MemoryQuota struct {
	limit int
	held  map[string]int
}

func NewMemoryQuota(limit int) *MemoryQuota {
	return &MemoryQuota{limit: limit, held: make(map[string]int)}
}

func (q *MemoryQuota) Acquire(_ context.Context, userID string) (bool, error) {
	if q.held[userID] >= q.limit {
		return false, nil
	}
	q.held[userID]++
	return true, nil
}

func (q *MemoryQuota) Release(_ context.Context, userID string) error {
	if q.held[userID] > 0 {
		q.held[userID]--
	}
	return nil
}

func (q *MemoryQuota) Held(userID string) int { return q.held[userID] }
