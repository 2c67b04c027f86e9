package service

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterRegistry manages one rate limiter per account.
type RateLimiterRegistry struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiterRegistry creates a registry. A non-positive rps disables limiting.
func NewRateLimiterRegistry(rps float64, burst int) *RateLimiterRegistry {
	if burst <= 0 {
		burst = int(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &RateLimiterRegistry{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Allow consumes one token from the account's budget.
func (r *RateLimiterRegistry) Allow(account string) bool {
	return r.getOrCreate(account).Allow()
}

func (r *RateLimiterRegistry) getOrCreate(account string) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[account]
	r.mu.RUnlock()
	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := r.limiters[account]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(r.limit, r.burst)
	r.limiters[account] = limiter
	return limiter
}

func (r *RateLimiterRegistry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}
