// Package tokenbucket rate-limits chat traffic with one shared global bucket
// plus one lazily created bucket per user. A message costs one token from the
// global bucket and one from the user's bucket; if either is empty the check
// is denied together with an estimate of when the next token arrives.
//
// Buckets refill at Refill tokens per Interval up to Capacity. Per-user
// buckets that have sat full and untouched for longer than MaxIdle are purged
// by Cleanup, which Run calls periodically.
package tokenbucket

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Scope names which bucket denied a request.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeUser   Scope = "user"
)

// Bucket sizes one bucket: Capacity tokens, refilled at Refill per Interval.
type Bucket struct {
	Capacity int
	Refill   int
	Interval time.Duration
}

func (b Bucket) normalized() Bucket {
	if b.Capacity <= 0 {
		b.Capacity = 1
	}
	if b.Refill <= 0 {
		b.Refill = 1
	}
	if b.Interval <= 0 {
		b.Interval = time.Second
	}
	return b
}

func (b Bucket) limiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(b.Interval/time.Duration(b.Refill)), b.Capacity)
}

// Config sizes the shared global bucket and the per-user buckets. The global
// bucket should be a multiple of the per-user one; it is drained by the
// whole channel.
type Config struct {
	Global  Bucket
	PerUser Bucket
	MaxIdle time.Duration // purge full per-user buckets idle this long
}

// DefaultConfig allows short bursts while keeping sustained traffic around
// one command per second per user and twenty per second channel-wide.
func DefaultConfig() Config {
	return Config{
		Global:  Bucket{Capacity: 100, Refill: 20, Interval: time.Second},
		PerUser: Bucket{Capacity: 10, Refill: 1, Interval: time.Second},
		MaxIdle: 15 * time.Minute,
	}
}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	Scope      Scope         // which bucket denied; empty when allowed
	RetryAfter time.Duration // time until the denying bucket refills
}

// RetryAfterSeconds returns the denial's retry hint in whole seconds,
// rounded up so "try again in 0s" never appears while still blocked.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed || d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

type entry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter owns the global bucket and the per-user buckets.
// Safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	global *rate.Limiter
	users  map[string]*entry
	now    func() time.Time

	allowed uint64
	denied  uint64
}

// LimiterStats is a snapshot of limiter activity.
type LimiterStats struct {
	Allowed     uint64
	Denied      uint64
	ActiveUsers int
}

// New creates a Limiter. Zero or negative bucket fields fall back to sane
// minimums.
func New(cfg Config) *Limiter {
	cfg.Global = cfg.Global.normalized()
	cfg.PerUser = cfg.PerUser.normalized()
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 15 * time.Minute
	}
	return &Limiter{
		cfg:    cfg,
		global: cfg.Global.limiter(),
		users:  make(map[string]*entry),
		now:    time.Now,
	}
}

// Allow consumes one token from the global bucket and one from userID's
// bucket. The global bucket is checked first and is shared by every user, so
// heavy traffic from one user can exhaust it for everyone; that trade-off is
// inherited from the engine's original contract. A token taken from the
// global bucket is not refunded when the user bucket then denies.
func (l *Limiter) Allow(userID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if ok, wait := take(l.global, now); !ok {
		l.denied++
		return Decision{Scope: ScopeGlobal, RetryAfter: wait}
	}

	e, exists := l.users[userID]
	if !exists {
		e = &entry{lim: l.cfg.PerUser.limiter()}
		l.users[userID] = e
	}
	e.lastSeen = now

	if ok, wait := take(e.lim, now); !ok {
		l.denied++
		return Decision{Scope: ScopeUser, RetryAfter: wait}
	}
	l.allowed++
	return Decision{Allowed: true}
}

// take attempts to draw one token at now, reporting the wait until the next
// token when the bucket is empty. A failed reservation is cancelled so it
// does not consume future tokens.
func take(lim *rate.Limiter, now time.Time) (bool, time.Duration) {
	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Duration(math.MaxInt64)
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// Cleanup removes per-user buckets that are full again and have not been
// touched for MaxIdle. Returns the number of buckets removed.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, e := range l.users {
		if now.Sub(e.lastSeen) <= l.cfg.MaxIdle {
			continue
		}
		if e.lim.TokensAt(now) >= float64(l.cfg.PerUser.Capacity) {
			delete(l.users, id)
			removed++
		}
	}
	return removed
}

// Run periodically calls Cleanup until ctx is done. Call from the host's
// lifecycle, typically as a goroutine next to the cooldown cleaner.
func (l *Limiter) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

// Stats returns a snapshot of limiter activity.
func (l *Limiter) Stats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LimiterStats{
		Allowed:     l.allowed,
		Denied:      l.denied,
		ActiveUsers: len(l.users),
	}
}
