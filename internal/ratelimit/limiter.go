// Package ratelimit throttles callers with one token bucket per key.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdleTTL is how long an untouched bucket survives a Sweep.
const DefaultIdleTTL = 10 * time.Minute

// Result describes one admission decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out per-key token buckets refilled at rps up to burst.
type Limiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	buckets map[string]*entry
}

func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*entry),
	}
}

// Allow spends one token from key's bucket if available at now.
func (l *Limiter) Allow(key string, now time.Time) Result {
	l.mu.Lock()
	e, ok := l.buckets[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	res := Result{Limit: l.burst}
	r := e.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		res.RetryAfter = delay
		res.ResetAt = now.Add(delay)
		return res
	}

	res.Allowed = true
	tokens := e.limiter.TokensAt(now)
	res.Remaining = int(math.Max(0, math.Floor(tokens)))
	missing := float64(l.burst) - tokens
	if missing > 0 && l.rps > 0 {
		res.ResetAt = now.Add(time.Duration(missing / float64(l.rps) * float64(time.Second)))
	} else {
		res.ResetAt = now
	}
	return res
}

// Sweep drops buckets idle longer than ttl and returns how many remain.
func (l *Limiter) Sweep(now time.Time, ttl time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.buckets {
		if now.Sub(e.lastSeen) > ttl {
			delete(l.buckets, key)
		}
	}
	return len(l.buckets)
}
