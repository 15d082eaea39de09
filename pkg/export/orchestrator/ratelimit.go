package orchestrator

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ownerLimiter holds a create rate limiter and the last time it was used.
type ownerLimiter struct {
	limiter  *rate.Limiter
	perMin   int
	lastSeen time.Time
}

// createLimiter manages per-owner token buckets for job creation. The
// per-minute allowance comes from the owner's permissions on every call,
// so tier changes take effect on the next request.
type createLimiter struct {
	mu        sync.Mutex
	owners    map[string]*ownerLimiter
	idle      time.Duration
	lastSweep time.Time
}

func newCreateLimiter() *createLimiter {
	return &createLimiter{
		owners: make(map[string]*ownerLimiter),
		idle:   10 * time.Minute,
	}
}

// allow consumes one token for owner. perMinute <= 0 disables the limit.
func (l *createLimiter) allow(owner string, perMinute int, now time.Time) bool {
	if perMinute <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > l.idle {
		l.evictLocked(now)
		l.lastSweep = now
	}

	o, ok := l.owners[owner]
	if !ok || o.perMin != perMinute {
		o = &ownerLimiter{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
			perMin:  perMinute,
		}
		l.owners[owner] = o
	}
	o.lastSeen = now
	return o.limiter.AllowN(now, 1)
}

// evictLocked removes limiters not used within the idle window and returns
// how many were removed. Caller holds l.mu.
func (l *createLimiter) evictLocked(now time.Time) int {
	cutoff := now.Add(-l.idle)
	removed := 0
	for owner, o := range l.owners {
		if o.lastSeen.Before(cutoff) {
			delete(l.owners, owner)
			removed++
		}
	}
	return removed
}
