package ratelimit

import (
	"context"
	"sync"
	"time"
)

type Limiter interface {
	Wait(ctx context.Context) error
	SetMinDelay(d time.Duration)
}

// GapLimiter enforces a minimum gap between consecutive requests against a
// single shared watermark. It bounds the minimum spacing, not a sustained
// rate; callers issue requests sequentially, never concurrently.
type GapLimiter struct {
	minDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
}

func NewGapLimiter(minDelay time.Duration) *GapLimiter {
	return &GapLimiter{
		minDelay: minDelay,
	}
}

func (r *GapLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Since(r.lastAction)

	if elapsed < r.minDelay {
		waitTime := r.minDelay - elapsed

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}

	r.lastAction = time.Now()
	return nil
}

func (r *GapLimiter) SetMinDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.minDelay = d
}
