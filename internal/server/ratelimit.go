package server

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/seismic-bv/seismic/internal/config"
	"github.com/seismic-bv/seismic/internal/errors"
	"github.com/seismic-bv/seismic/internal/logging"
)

const (
	bucketExpiry    = 10 * time.Minute
	cleanupInterval = 5 * time.Minute
)

// RateLimiter implements token bucket rate limiting per client key
type RateLimiter struct {
	buckets     map[string]*TokenBucket
	bucketMutex sync.RWMutex
	config      config.RateLimitConfig
	logger      logging.Logger
	now         func() time.Time
	stopOnce    sync.Once
	stop        chan struct{}
}

// TokenBucket represents a token bucket for rate limiting
type TokenBucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per minute
	lastRefill time.Time
	lastAccess time.Time
	mutex      sync.Mutex
}

// RateLimitResult represents the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// NewRateLimiter creates a rate limiter and starts its bucket cleanup.
func NewRateLimiter(cfg config.RateLimitConfig, logger logging.Logger) *RateLimiter {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	rl := &RateLimiter{
		buckets: make(map[string]*TokenBucket),
		config:  cfg,
		logger:  logger.WithComponent("rate_limiter"),
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	go rl.cleanupExpiredBuckets()

	return rl
}

// Check consumes a token for key, usually the client IP.
func (rl *RateLimiter) Check(key string) RateLimitResult {
	if !rl.config.Enabled {
		return RateLimitResult{Allowed: true, Remaining: rl.config.Burst}
	}

	now := rl.now()
	return rl.getBucket(key, now).consume(now)
}

func (rl *RateLimiter) getBucket(key string, now time.Time) *TokenBucket {
	rl.bucketMutex.RLock()
	bucket, exists := rl.buckets[key]
	rl.bucketMutex.RUnlock()

	if exists {
		return bucket
	}

	rl.bucketMutex.Lock()
	defer rl.bucketMutex.Unlock()

	if bucket, exists := rl.buckets[key]; exists {
		return bucket
	}

	bucket = &TokenBucket{
		tokens:     float64(rl.config.Burst),
		capacity:   float64(rl.config.Burst),
		refillRate: float64(rl.config.RequestsPerMinute),
		lastRefill: now,
		lastAccess: now,
	}
	rl.buckets[key] = bucket
	return bucket
}

func (tb *TokenBucket) consume(now time.Time) RateLimitResult {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.refill(now)
	tb.lastAccess = now

	if tb.tokens >= 1 {
		tb.tokens--
		return RateLimitResult{Allowed: true, Remaining: int(tb.tokens)}
	}

	missing := 1 - tb.tokens
	retryAfter := time.Duration(missing / tb.refillRate * float64(time.Minute))

	return RateLimitResult{Allowed: false, Remaining: 0, RetryAfter: retryAfter}
}

func (tb *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 {
		return
	}

	tb.tokens += elapsed.Minutes() * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

func (rl *RateLimiter) cleanupExpiredBuckets() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.performCleanup(rl.now())
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) performCleanup(now time.Time) {
	rl.bucketMutex.Lock()
	defer rl.bucketMutex.Unlock()

	for key, bucket := range rl.buckets {
		bucket.mutex.Lock()
		expired := now.Sub(bucket.lastAccess) > bucketExpiry
		bucket.mutex.Unlock()
		if expired {
			delete(rl.buckets, key)
		}
	}
}

// Stop ends the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// ActiveBuckets returns the number of tracked clients
func (rl *RateLimiter) ActiveBuckets() int {
	rl.bucketMutex.RLock()
	defer rl.bucketMutex.RUnlock()
	return len(rl.buckets)
}

// RateLimitMiddleware rejects requests over the limit with 429.
func RateLimitMiddleware(limiter *RateLimiter, clientIP func(*http.Request) string, onLimited func(*http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			result := limiter.Check(ip)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerMinute))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			if !result.Allowed {
				seconds := int(result.RetryAfter.Round(time.Second) / time.Second)
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))

				limiter.logger.Warn(r.Context(),
					errors.NewSecurityError(errors.ErrCodeRateLimited, "rate limit exceeded"),
					"Rate limit exceeded",
					"client_ip", ip,
					"path", r.URL.Path,
					"method", r.Method)
				if onLimited != nil {
					onLimited(r)
				}

				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
