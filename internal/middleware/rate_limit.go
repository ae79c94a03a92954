package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/controlroom/internal/apierrors"
)

// RateLimiter implements a token bucket rate limiter with hourly refill.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	cleanup time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	tokens     float64
	limit      float64 // max tokens (requests per hour)
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a new rate limiter. Stop releases its cleanup
// goroutine.
func NewRateLimiter() *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		cleanup: 10 * time.Minute,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// Allow checks if a request is allowed and consumes a token.
func (rl *RateLimiter) Allow(key string, limit int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{
			tokens:     float64(limit),
			limit:      float64(limit),
			refillRate: float64(limit) / 3600.0,
			lastRefill: now,
		}
		rl.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.limit {
		b.tokens = b.limit
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Remaining returns remaining tokens for a key.
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if b, exists := rl.buckets[key]; exists {
		return int(b.tokens)
	}
	return 0
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := rl.now().Add(-rl.cleanup)
			for key, b := range rl.buckets {
				if b.lastRefill.Before(cutoff) {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// RateLimitByIP limits each client IP to requestsPerHour. A non-positive
// limit disables the check.
func RateLimitByIP(rl *RateLimiter, requestsPerHour int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if requestsPerHour <= 0 {
			c.Next()
			return
		}
		key := c.FullPath() + "|ip:" + c.ClientIP()

		allowed := rl.Allow(key, requestsPerHour)
		c.Header("X-RateLimit-Limit", strconv.Itoa(requestsPerHour))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining(key)))
		if !allowed {
			c.Header("Retry-After", "60")
			apierrors.Error(c, apierrors.CodeRateLimited)
			return
		}

		c.Next()
	}
}
