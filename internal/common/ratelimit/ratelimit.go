// Package ratelimit throttles callers by key, either across instances with
// a redis fixed window or per process with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coderunner/internal/common/cache"
	appErr "coderunner/pkg/errors"

	"golang.org/x/time/rate"
)

// Limiter admits or rejects one event for key.
type Limiter interface {
	Allow(ctx context.Context, key string) error
}

// FixedWindow enforces at most max events per window using redis counters.
type FixedWindow struct {
	cache        cache.BasicOps
	max          int
	window       time.Duration
	redisTimeout time.Duration
}

// NewFixedWindow creates a redis-backed limiter.
func NewFixedWindow(cacheClient cache.BasicOps, max int, window, redisTimeout time.Duration) *FixedWindow {
	if redisTimeout <= 0 {
		redisTimeout = 200 * time.Millisecond
	}
	return &FixedWindow{cache: cacheClient, max: max, window: window, redisTimeout: redisTimeout}
}

func (l *FixedWindow) Allow(ctx context.Context, key string) error {
	if l.cache == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if l.max <= 0 {
		return nil
	}

	ctxCache, cancel := context.WithTimeout(ctx, l.redisTimeout)
	defer cancel()

	acquired, err := l.cache.SetNX(ctxCache, key, 1, l.window)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	var count int64
	if acquired {
		count = 1
	} else {
		count, err = l.cache.Incr(ctxCache, key)
		if err != nil {
			return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
		}
		// A key that lost its TTL would block the caller forever.
		ttl, ttlErr := l.cache.TTL(ctxCache, key)
		if ttlErr == nil && ttl <= 0 {
			_ = l.cache.Expire(ctxCache, key, l.window)
		}
	}
	if int(count) > l.max {
		return appErr.New(appErr.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}

// Local keeps one token bucket per key in memory.
type Local struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	swept   time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocal allows max events per window with bursts up to max.
func NewLocal(max int, window time.Duration) *Local {
	if window <= 0 {
		window = time.Minute
	}
	return &Local{
		limit:   rate.Limit(float64(max) / window.Seconds()),
		burst:   max,
		idleTTL: 2 * window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (l *Local) Allow(_ context.Context, key string) error {
	if l.burst <= 0 {
		return nil
	}
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.sweepLocked(now)
	allowed := b.limiter.AllowN(now, 1)
	l.mu.Unlock()

	if !allowed {
		return appErr.New(appErr.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}

// sweepLocked drops buckets idle long enough to have refilled.
func (l *Local) sweepLocked(now time.Time) {
	if now.Sub(l.swept) < l.idleTTL {
		return
	}
	l.swept = now
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleTTL {
			delete(l.buckets, key)
		}
	}
}

// Len returns the number of tracked keys.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
