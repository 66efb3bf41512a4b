// Package idempotency deduplicates concurrent processing of the same
// transaction id. The guard is the fast path; the unique index on
// transaction_id and the already-completed checks in the services remain
// the hard guarantee.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard grants at most one in-flight processing slot per key within its TTL.
type Guard interface {
	// Acquire returns false when the key is already being processed.
	Acquire(ctx context.Context, key string) (bool, error)
	// Release frees the key so a later retry can re-enter (it will then
	// short-circuit on the committed state instead).
	Release(ctx context.Context, key string) error
}

const keyPrefix = "idem:"

type redisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard builds a Redis-backed guard. The TTL bounds how long a
// crashed holder can block retries.
func NewRedisGuard(client *redis.Client, ttl time.Duration) Guard {
	return &redisGuard{client: client, ttl: ttl}
}

func (g *redisGuard) Acquire(ctx context.Context, key string) (bool, error) {
	return g.client.SetNX(ctx, keyPrefix+key, 1, g.ttl).Result()
}

func (g *redisGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, keyPrefix+key).Err()
}

type memoryGuard struct {
	mu   sync.Mutex
	held map[string]time.Time
	ttl  time.Duration
}

// NewMemoryGuard is a single-process guard for tests and local runs.
func NewMemoryGuard(ttl time.Duration) Guard {
	return &memoryGuard{held: make(map[string]time.Time), ttl: ttl}
}

func (g *memoryGuard) Acquire(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if expires, ok := g.held[key]; ok && time.Now().Before(expires) {
		return false, nil
	}
	g.held[key] = time.Now().Add(g.ttl)
	return true, nil
}

func (g *memoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, key)
	return nil
}
