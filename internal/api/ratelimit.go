package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// AskLimiter holds one token bucket per principal. A nil limiter admits
// every request.
type AskLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewAskLimiter returns nil when perMinute is not positive.
func NewAskLimiter(perMinute, burst int) *AskLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &AskLimiter{
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
		limiters: map[string]*rate.Limiter{},
	}
}

func (l *AskLimiter) Allow(principal string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.limiters[principal]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[principal] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
