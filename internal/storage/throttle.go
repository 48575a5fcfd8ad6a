package storage

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// defaultBytesPerQuotaSecond bounds how fast, relative to an account's
// total quota, it may push or pull fragment bytes through the shared KV
// handle — a tenth of quota per second. Grounded in the teacher's
// internal/agent/throttle.go, which paces uploads the same way: a
// token-bucket limiter sized off of a configured budget.
const defaultBytesPerQuotaSecond = 10

// limiterRegistry hands out one *rate.Limiter per account, lazily, so a
// single account's bulk transfer cannot starve every other account's
// access to the façade.
type limiterRegistry struct {
	mu       sync.Mutex
	limiters map[uint64]*rate.Limiter
}

func newLimiterRegistry() *limiterRegistry {
	return &limiterRegistry{limiters: make(map[uint64]*rate.Limiter)}
}

func (r *limiterRegistry) forAccount(unsID uint64, quota uint64) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[unsID]; ok {
		return l
	}
	bytesPerSec := quota / defaultBytesPerQuotaSecond
	if bytesPerSec < 1<<16 {
		bytesPerSec = 1 << 16 // 64KB/s floor for very small quotas
	}
	// Burst must comfortably exceed any single fragment so WaitN never
	// rejects a legal-sized write outright; floor it well above the
	// largest fragment the protocol is expected to carry.
	burst := int(bytesPerSec)
	const minBurst = 8 << 20 // 8MB
	if burst < minBurst {
		burst = minBurst
	}
	l := rate.NewLimiter(rate.Limit(bytesPerSec), burst)
	r.limiters[unsID] = l
	return l
}

// wait blocks until n bytes' worth of budget is available for unsID, or
// ctx is canceled.
func (r *limiterRegistry) wait(ctx context.Context, unsID uint64, quota uint64, n int) error {
	if n <= 0 {
		return nil
	}
	l := r.forAccount(unsID, quota)
	return l.WaitN(ctx, n)
}
