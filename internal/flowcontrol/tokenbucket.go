package flowcontrol

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// TokenBucket is a per-key rate.Limiter-backed Controller, letting a
// connector module shape throughput per loader name without the core
// depending on it (§4.3: "pluggable, default is no-op"). Its Release is a
// no-op, so it limits the rate of calls, not how many run at once.
// Grounded on the rate.Limiter idiom used elsewhere in the pack for
// per-caller API throttling.
type TokenBucket struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewTokenBucket builds a Controller granting limit tokens/sec with the
// given burst, independently per key.
func NewTokenBucket(limit rate.Limit, burst int) *TokenBucket {
	return &TokenBucket{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (c *TokenBucket) limiterFor(key string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[key]
	if !ok {
		l = rate.NewLimiter(c.limit, c.burst)
		c.limiters[key] = l
	}
	return l
}

func (c *TokenBucket) Acquire(ctx context.Context, key string) (Release, error) {
	l := c.limiterFor(key)
	if err := l.Wait(ctx); err != nil {
		return nil, fmt.Errorf("flowcontrol: acquire %q: %w", key, err)
	}
	return func() {}, nil
}
