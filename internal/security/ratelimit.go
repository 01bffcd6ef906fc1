package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a minimum interval between accepted sends on one
// input surface. Purely wall-clock based, reset only by process restart.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a limiter that admits one send per minInterval.
func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Every(minInterval), 1)}
}

// CanProceed consumes the slot when open. Returns false when called again
// before the interval has elapsed.
func (r *RateLimiter) CanProceed() bool {
	return r.limiter.Allow()
}

// RemainingTime reports how long until the gate reopens, for user feedback.
func (r *RateLimiter) RemainingTime() time.Duration {
	reservation := r.limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	return delay
}

// LimiterRegistry hands out one RateLimiter per input surface (session id,
// image generation, ...). Entries live for the process lifetime.
type LimiterRegistry struct {
	mu       sync.Mutex
	interval time.Duration
	limiters map[string]*RateLimiter
}

// NewLimiterRegistry builds a registry with a shared minimum interval.
func NewLimiterRegistry(minInterval time.Duration) *LimiterRegistry {
	return &LimiterRegistry{
		interval: minInterval,
		limiters: make(map[string]*RateLimiter),
	}
}

// Get returns the limiter for a surface, creating it on first use.
func (g *LimiterRegistry) Get(surface string) *RateLimiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	limiter, ok := g.limiters[surface]
	if !ok {
		limiter = NewRateLimiter(g.interval)
		g.limiters[surface] = limiter
	}
	return limiter
}
