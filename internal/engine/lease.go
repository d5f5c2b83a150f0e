package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Lease guarantees at-most-one in-flight dispatch per order id, including
// across overlapping cycles. Acquire returns false when another worker holds
// the order.
type Lease interface {
	Acquire(ctx context.Context, orderID string) (bool, error)
	Release(ctx context.Context, orderID string)
}

// MemoryLease is the single-process lease.
type MemoryLease struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryLease() *MemoryLease {
	return &MemoryLease{held: map[string]bool{}}
}

func (l *MemoryLease) Acquire(ctx context.Context, orderID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[orderID] {
		return false, nil
	}
	l.held[orderID] = true
	return true, nil
}

func (l *MemoryLease) Release(ctx context.Context, orderID string) {
	l.mu.Lock()
	delete(l.held, orderID)
	l.mu.Unlock()
}

// RedisLease extends the guarantee across replicas using SET NX with a TTL.
// The TTL bounds how long a crashed worker can block an order.
type RedisLease struct {
	rdb *redis.Client
	ttl time.Duration
	mu  sync.Mutex
	tok map[string]string
}

func NewRedisLease(rdb *redis.Client, ttl time.Duration) *RedisLease {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLease{rdb: rdb, ttl: ttl, tok: map[string]string{}}
}

func (l *RedisLease) key(orderID string) string { return "lease:order:" + orderID }

func (l *RedisLease) Acquire(ctx context.Context, orderID string) (bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key(orderID), token, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	l.mu.Lock()
	l.tok[orderID] = token
	l.mu.Unlock()
	return true, nil
}

// releaseScript deletes the lease only when still owned, so a worker that
// outlived its TTL cannot release a lease re-acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (l *RedisLease) Release(ctx context.Context, orderID string) {
	l.mu.Lock()
	token := l.tok[orderID]
	delete(l.tok, orderID)
	l.mu.Unlock()
	if token == "" {
		return
	}
	_ = releaseScript.Run(ctx, l.rdb, []string{l.key(orderID)}, token).Err()
}
