package middleware

import (
	"context"
	"fmt"
	"time"

	"codejudger/internal/common/cache"
	"codejudger/pkg/errors"
	"codejudger/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// RateLimitPolicy caps requests per client IP and per route in a fixed window.
// A zero max disables that check.
type RateLimitPolicy struct {
	Window   time.Duration `yaml:"window"`
	IPMax    int           `yaml:"ipMax"`
	RouteMax int           `yaml:"routeMax"`
}

// Enabled reports whether any limit is configured.
func (p RateLimitPolicy) Enabled() bool {
	return p.IPMax > 0 || p.RouteMax > 0
}

// RateLimiter enforces fixed-window limits using Redis counters.
type RateLimiter struct {
	cache        cache.BasicOps
	prefix       string
	window       time.Duration
	redisTimeout time.Duration
}

func NewRateLimiter(cacheClient cache.BasicOps, prefix string, window, redisTimeout time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if redisTimeout <= 0 {
		redisTimeout = time.Second
	}
	return &RateLimiter{cache: cacheClient, prefix: prefix, window: window, redisTimeout: redisTimeout}
}

// Allow counts one hit on key and fails with TooManyRequests past max.
func (l *RateLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if l.cache == nil {
		return errors.New(errors.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if max <= 0 {
		return nil
	}
	if window <= 0 {
		window = l.window
	}
	key = l.prefix + key

	ctxCache, cancel := context.WithTimeout(ctx, l.redisTimeout)
	defer cancel()

	acquired, err := l.cache.SetNX(ctxCache, key, 1, window)
	if err != nil {
		return errors.Wrapf(err, errors.CacheError, "rate limit check failed")
	}
	var count int64
	if acquired {
		count = 1
	} else {
		count, err = l.cache.Incr(ctxCache, key)
		if err != nil {
			return errors.Wrapf(err, errors.CacheError, "rate limit check failed")
		}
		// A counter without expiry would block the client forever.
		if ttl, ttlErr := l.cache.TTL(ctxCache, key); ttlErr == nil && ttl < 0 {
			_ = l.cache.Expire(ctxCache, key, window)
		}
	}
	if count > int64(max) {
		return errors.New(errors.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}

// RateLimitMiddleware applies policy to the routes it guards.
func RateLimitMiddleware(limiter *RateLimiter, routeKey string, policy RateLimitPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || !policy.Enabled() {
			c.Next()
			return
		}
		if policy.IPMax > 0 {
			key := fmt.Sprintf("ip:%s:%s", c.ClientIP(), routeKey)
			if err := limiter.Allow(c.Request.Context(), key, policy.IPMax, policy.Window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}
		if policy.RouteMax > 0 {
			key := fmt.Sprintf("route:%s", routeKey)
			if err := limiter.Allow(c.Request.Context(), key, policy.RouteMax, policy.Window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}
		c.Next()
	}
}
