package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
	}
}

// Limiter decides whether one more request for key may proceed. retryAfter
// is in whole seconds and only meaningful when allowed is false.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter int, err error)
}

// tokenBucket implements a token bucket rate limiter.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) take() (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	return false, retryAfterSeconds(b.tokens, b.refillRate)
}

func retryAfterSeconds(tokens, rate float64) int {
	if rate <= 0 {
		return 1
	}
	return int((1-tokens)/rate) + 1
}

// MemoryLimiter keeps one token bucket per key in process memory. Counts are
// lost on restart and not shared between replicas; RedisLimiter is the
// shared variant.
type MemoryLimiter struct {
	buckets map[string]*tokenBucket
	mu      sync.RWMutex
	config  RateLimitConfig
}

func NewMemoryLimiter(cfg RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*tokenBucket),
		config:  cfg,
	}
}

func (s *MemoryLimiter) bucket(key string) *tokenBucket {
	s.mu.RLock()
	bucket, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return bucket
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok := s.buckets[key]; ok {
		return bucket
	}
	bucket = newTokenBucket(s.config.RequestsPerSecond, s.config.BurstSize)
	s.buckets[key] = bucket
	return bucket
}

func (s *MemoryLimiter) Allow(_ context.Context, key string) (bool, int, error) {
	ok, retry := s.bucket(key).take()
	return ok, retry, nil
}

// LimitOptions configures Limit.
type LimitOptions struct {
	// Prefix namespaces the per-client key ("verify:" + ip).
	Prefix string
	// HeaderLimit is reported in X-RateLimit-Limit.
	HeaderLimit float64
	// Message is returned with the 429.
	Message string
	Logger  zerolog.Logger
}

// Limit rejects requests with 429 once the limiter refuses the client's IP.
// Limiter errors are logged and the request is let through.
func Limit(l Limiter, opts LimitOptions) echo.MiddlewareFunc {
	msg := opts.Message
	if msg == "" {
		msg = "rate limit exceeded"
	}
	limitHeader := strconv.FormatFloat(opts.HeaderLimit, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method == http.MethodOptions {
				return next(c)
			}

			key := opts.Prefix + c.RealIP()
			allowed, retryAfter, err := l.Allow(c.Request().Context(), key)
			if err != nil {
				opts.Logger.Warn().Err(err).
					Str("request_id", RequestIDFrom(c)).
					Msg("rate limiter unavailable, allowing request")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)
			if !allowed {
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, msg)
			}
			return next(c)
		}
	}
}

// RateLimit returns an in-memory per-IP rate limiting middleware.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return Limit(NewMemoryLimiter(cfg), LimitOptions{
		HeaderLimit: cfg.RequestsPerSecond,
		Logger:      zerolog.Nop(),
	})
}
