package requestlimit

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RedisBurstLimiter is a GCRA limiter shared by all instances through Redis.
type RedisBurstLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

func NewRedisBurstLimiter(rdb redis.UniversalClient, perMinute int) *RedisBurstLimiter {
	return &RedisBurstLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		limit:   redis_rate.PerMinute(perMinute),
	}
}

func (b *RedisBurstLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := b.limiter.Allow(ctx, key, b.limit)
	if err != nil {
		return false, 0, err
	}
	return res.Allowed > 0, res.RetryAfter, nil
}

func (b *RedisBurstLimiter) Reset(ctx context.Context, key string) error {
	return b.limiter.Reset(ctx, key)
}

// LocalBurstLimiter keeps one token bucket per key in process. Idle buckets
// are evicted after ten minutes.
type LocalBurstLimiter struct {
	mu        sync.Mutex
	buckets   *expirable.LRU[string, *rate.Limiter]
	perMinute int
}

func NewLocalBurstLimiter(perMinute int) *LocalBurstLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	return &LocalBurstLimiter{
		buckets:   expirable.NewLRU[string, *rate.Limiter](10_000, nil, 10*time.Minute),
		perMinute: perMinute,
	}
}

func (b *LocalBurstLimiter) bucket(key string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok := b.buckets.Get(key); ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(time.Minute/time.Duration(b.perMinute)), b.perMinute)
	b.buckets.Add(key, l)
	return l
}

func (b *LocalBurstLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	r := b.bucket(key).Reserve()
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return false, d, nil
	}
	return true, 0, nil
}

func (b *LocalBurstLimiter) Reset(_ context.Context, key string) error {
	b.buckets.Remove(key)
	return nil
}
