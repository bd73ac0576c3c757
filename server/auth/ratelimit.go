package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hrygo/valet/ports"
)

// RateLimiter keeps one token bucket per remote address. Buckets idle
// past the eviction window are dropped by Cleanup so the table stays
// bounded.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idleFor time.Duration
	clock   ports.Clock
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows ratePerSecond sustained requests with the given
// burst per client address.
func NewRateLimiter(ratePerSecond float64, burst int, clock ports.Clock) *RateLimiter {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(ratePerSecond),
		burst:   burst,
		idleFor: 10 * time.Minute,
		clock:   clock,
	}
}

// Allow reports whether the client may proceed, and if not, how long to
// wait before retrying.
func (r *RateLimiter) Allow(addr string) (bool, time.Duration) {
	r.mu.Lock()
	b, ok := r.buckets[addr]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.buckets[addr] = b
	}
	b.lastSeen = r.clock.Now()
	r.mu.Unlock()

	if b.limiter.Allow() {
		return true, 0
	}
	// Conservative hint: one token's worth of waiting.
	return false, time.Duration(float64(time.Second) / float64(r.limit))
}

// Cleanup evicts buckets idle past the window and returns how many were
// dropped.
func (r *RateLimiter) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.clock.Now().Add(-r.idleFor)
	dropped := 0
	for addr, b := range r.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(r.buckets, addr)
			dropped++
		}
	}
	return dropped
}

// Size returns the current bucket count.
func (r *RateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}
