// Package ratelimit provides a per-account, per-exchange weighted rate
// limiter over golang.org/x/time/rate. Every adapter call is weighted (a
// placeOrder costs more tokens than a markPrice poll) and accounted for
// against the account's bucket, so a single noisy account cannot starve the
// shared per-process request budget.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per account key.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[int64]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// New creates a Limiter where each account gets its own bucket refilling at
// rps tokens/second with the given burst capacity.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[int64]*rate.Limiter),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

func (l *Limiter) bucketFor(accountID int64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[accountID]
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets[accountID] = b
	}
	return b
}

// Wait blocks until weight tokens are available for accountID, or ctx is
// cancelled. A placeOrder call typically costs weight=5; a markPrice poll
// costs weight=1.
func (l *Limiter) Wait(ctx context.Context, accountID int64, weight int) error {
	b := l.bucketFor(accountID)
	return b.WaitN(ctx, weight)
}

// Allow reports, without blocking, whether weight tokens are currently
// available for accountID.
func (l *Limiter) Allow(accountID int64, weight int) bool {
	b := l.bucketFor(accountID)
	return b.AllowN(time.Now(), weight)
}
