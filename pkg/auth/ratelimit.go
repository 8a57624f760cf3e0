package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter decides whether an identity may make another request.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// Limiter is an in-process token bucket per subject and tier. A tier's
// bucket holds a minute's worth of requests and refills continuously.
type Limiter struct {
	tiers      map[string]int
	defaultRPM int
	idleAfter  time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a Limiter. tiers maps a service tier to requests per
// minute; other tiers get defaultRPM. Zero or negative means unlimited.
func NewLimiter(tiers map[string]int, defaultRPM int) *Limiter {
	return &Limiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		idleAfter:  10 * time.Minute,
		buckets:    make(map[string]*bucket),
		now:        time.Now,
	}
}

// Allow takes one token from the identity's bucket.
func (l *Limiter) Allow(_ context.Context, identity *Identity) error {
	tier := identity.ServiceTier
	if tier == "" {
		tier = "default"
	}
	rpm, ok := l.tiers[tier]
	if !ok {
		rpm = l.defaultRPM
	}
	if rpm <= 0 {
		return nil
	}

	key := identity.Subject + ":" + tier
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		l.prune(now)
		b = &bucket{lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	if !b.lim.AllowN(now, 1) {
		return ErrTooManyRequests
	}
	return nil
}

// prune drops buckets idle long enough to be full again.
func (l *Limiter) prune(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleAfter {
			delete(l.buckets, key)
		}
	}
}
