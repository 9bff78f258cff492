package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig configures a per-client token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// LoginRateLimitConfig throttles credential endpoints: a burst of 10
// attempts, then one every 6 seconds.
func LoginRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 1.0 / 6, BurstSize: 10}
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

type rateLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

func newRateLimiter(cfg RateLimitConfig, now func() time.Time) *rateLimiter {
	return &rateLimiter{cfg: cfg, now: now, buckets: make(map[string]*tokenBucket)}
}

// take consumes a token for key. When none is available it returns the
// number of seconds until the next one.
func (l *rateLimiter) take(key string) (bool, int) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: float64(l.cfg.BurstSize), lastRefill: l.now()}
		l.buckets[key] = b
	}
	l.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	b.tokens = math.Min(float64(l.cfg.BurstSize), b.tokens+now.Sub(b.lastRefill).Seconds()*l.cfg.RequestsPerSecond)
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if l.cfg.RequestsPerSecond <= 0 {
		return false, 1
	}
	return false, int(math.Ceil((1 - b.tokens) / l.cfg.RequestsPerSecond))
}

// RateLimit limits requests per client IP and route.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return rateLimit(newRateLimiter(cfg, time.Now))
}

func rateLimit(l *rateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP() + " " + c.Request().URL.Path
			if ok, retry := l.take(key); !ok {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
			}
			return next(c)
		}
	}
}
