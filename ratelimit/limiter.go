// Package ratelimit implements per-provider call pacing, generalized
// from telemetry's single-interval RateLimiter (one global last-call
// timestamp gating a single action)
// into a keyed limiter that tracks one min-interval gate per provider
// name plus a daily request counter that resets at local midnight.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the result of an Acquire call.
type Decision struct {
	Allowed        bool
	Wait           time.Duration
	QuotaExhausted bool
}

type bucket struct {
	mu             sync.Mutex
	lastCall       time.Time
	requestsToday  int64
	dayBucketStart time.Time
}

// Limiter gates calls per provider name with a configurable minimum
// interval between successive calls and a daily quota.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time

	minInterval func(providerName string) time.Duration
	dailyQuota  func(providerName string) int64
}

// Config supplies per-provider pacing parameters. Both functions may
// return zero to mean "no limit" for that axis.
type Config struct {
	MinInterval func(providerName string) time.Duration
	DailyQuota  func(providerName string) int64
	Now         func() time.Time
}

// New constructs a Limiter. A nil MinInterval defaults every provider to
// one second between calls; a nil DailyQuota means unlimited.
func New(cfg Config) *Limiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MinInterval == nil {
		cfg.MinInterval = func(string) time.Duration { return time.Second }
	}
	if cfg.DailyQuota == nil {
		cfg.DailyQuota = func(string) int64 { return 0 }
	}
	return &Limiter{
		buckets:     make(map[string]*bucket),
		now:         cfg.Now,
		minInterval: cfg.MinInterval,
		dailyQuota:  cfg.DailyQuota,
	}
}

func (l *Limiter) bucketFor(name string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[name]
	if !ok {
		b = &bucket{dayBucketStart: l.now()}
		l.buckets[name] = b
	}
	return b
}

// Acquire reports whether a call to providerName may proceed now. If
// not, Decision.Wait holds the minimum duration the caller should sleep
// before retrying (the Fallback Dispatcher sleeps up to its own
// max_wait and otherwise treats this as a failure for this name).
func (l *Limiter) Acquire(ctx context.Context, providerName string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	b := l.bucketFor(providerName)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	y1, m1, d1 := b.dayBucketStart.Date()
	y2, m2, d2 := now.Date()
	if y1 != y2 || m1 != m2 || d1 != d2 {
		b.requestsToday = 0
		b.dayBucketStart = now
	}

	quota := l.dailyQuota(providerName)
	if quota > 0 && b.requestsToday >= quota {
		return Decision{Allowed: false, QuotaExhausted: true}, nil
	}

	interval := l.minInterval(providerName)
	if interval <= 0 {
		b.lastCall = now
		b.requestsToday++
		return Decision{Allowed: true}, nil
	}

	elapsed := now.Sub(b.lastCall)
	if b.lastCall.IsZero() || elapsed >= interval {
		b.lastCall = now
		b.requestsToday++
		return Decision{Allowed: true}, nil
	}

	return Decision{Allowed: false, Wait: interval - elapsed}, nil
}
