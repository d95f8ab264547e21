package providers

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket limiter shared by the worker loop so that
// concurrent job invocations against one provider stay under its RPS.
type RateLimiter struct {
	mu sync.Mutex

	rps    float64
	tokens float64
	last   time.Time

	totalConsumed int64
	totalWaited   time.Duration
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	TokensAvailable int           `json:"tokens_available"`
	RPS             float64       `json:"rps"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
}

// NewRateLimiter creates a limiter allowing rps requests per second.
func NewRateLimiter(rps float64) *RateLimiter {
	if rps <= 0 {
		rps = 1.0
	}
	return &RateLimiter{
		rps:    rps,
		tokens: rps,
		last:   time.Now(),
	}
}

// Wait blocks until a token is available or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()

		if r.tokens >= 1.0 {
			r.tokens--
			r.totalConsumed++
			r.mu.Unlock()
			return nil
		}

		needed := 1.0 - r.tokens
		wait := time.Duration(needed / r.rps * float64(time.Second))
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			r.mu.Lock()
			r.totalWaited += wait
			r.mu.Unlock()
		}
	}
}

// TryConsume attempts to consume a token without blocking.
func (r *RateLimiter) TryConsume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens >= 1.0 {
		r.tokens--
		r.totalConsumed++
		return true
	}
	return false
}

// Status returns current limiter status.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	return RateLimiterStatus{
		TokensAvailable: int(r.tokens),
		RPS:             r.rps,
		TotalConsumed:   r.totalConsumed,
		TotalWaited:     r.totalWaited,
	}
}

// refill adds tokens based on elapsed time. Must be called with lock held.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.last).Seconds()
	r.last = now

	r.tokens += elapsed * r.rps
	if r.tokens > r.rps {
		r.tokens = r.rps
	}
}
