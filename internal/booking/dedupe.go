package booking

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers which payment transaction ids were already seen so a
// redelivered confirmation is not applied twice.
type Deduper interface {
	// Claim returns true the first time id is seen within the TTL.
	Claim(ctx context.Context, id string) (bool, error)
	// Forget drops id so a later delivery is processed again.
	Forget(ctx context.Context, id string) error
}

// DedupeKeyPrefix namespaces transaction ids in Redis.
const DedupeKeyPrefix = "seatlock:txn:"

// RedisDeduper claims ids with SETNX so duplicate suppression survives
// restarts and is shared between instances.
type RedisDeduper struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisDeduper(rdb redis.Cmdable, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, id string) (bool, error) {
	return d.rdb.SetNX(ctx, DedupeKeyPrefix+id, "1", d.ttl).Result()
}

func (d *RedisDeduper) Forget(ctx context.Context, id string) error {
	return d.rdb.Del(ctx, DedupeKeyPrefix+id).Err()
}

// MemoryDeduper is the single-process fallback used when Redis is not
// configured.
type MemoryDeduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

func (d *MemoryDeduper) Claim(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[id]; ok {
		return false, nil
	}
	d.seen[id] = now.Add(d.ttl)
	return true, nil
}

func (d *MemoryDeduper) Forget(_ context.Context, id string) error {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
	return nil
}
