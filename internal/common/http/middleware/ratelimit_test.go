package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codejudger/internal/common/cache"
	"codejudger/internal/common/http/middleware"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
)

func newLimitedRouter(t *testing.T, policy middleware.RateLimitPolicy) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	cfg := cache.DefaultRedisConfig()
	cfg.URL = "redis://" + mr.Addr() + "/0"
	redisCache, err := cache.NewRedisCacheWithConfig(cfg)
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { _ = redisCache.Close() })

	limiter := middleware.NewRateLimiter(redisCache, "judge:rate:", time.Minute, time.Second)
	router := gin.New()
	router.POST("/submit", middleware.RateLimitMiddleware(limiter, "submit", policy), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})
	return router, mr
}

func hit(router *gin.Engine, ip string) int {
	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	req.RemoteAddr = ip + ":1234"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimitPerIP(t *testing.T) {
	t.Parallel()
	router, mr := newLimitedRouter(t, middleware.RateLimitPolicy{IPMax: 2})

	for i := 0; i < 2; i++ {
		if code := hit(router, "10.0.0.1"); code != http.StatusAccepted {
			t.Fatalf("hit %d = %d", i, code)
		}
	}
	if code := hit(router, "10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("third hit = %d", code)
	}
	if code := hit(router, "10.0.0.2"); code != http.StatusAccepted {
		t.Fatalf("other ip = %d", code)
	}
	if ttl := mr.TTL("judge:rate:ip:10.0.0.1:submit"); ttl <= 0 {
		t.Fatalf("counter has no expiry: %v", ttl)
	}

	mr.FastForward(time.Minute + time.Second)
	if code := hit(router, "10.0.0.1"); code != http.StatusAccepted {
		t.Fatalf("after window = %d", code)
	}
}

func TestRateLimitPerRoute(t *testing.T) {
	t.Parallel()
	router, _ := newLimitedRouter(t, middleware.RateLimitPolicy{RouteMax: 1})
	if code := hit(router, "10.0.0.1"); code != http.StatusAccepted {
		t.Fatalf("first = %d", code)
	}
	if code := hit(router, "10.0.0.2"); code != http.StatusTooManyRequests {
		t.Fatalf("route cap not enforced: %d", code)
	}
}

func TestRateLimitDisabledPassesThrough(t *testing.T) {
	t.Parallel()
	router, mr := newLimitedRouter(t, middleware.RateLimitPolicy{})
	for i := 0; i < 5; i++ {
		if code := hit(router, "10.0.0.1"); code != http.StatusAccepted {
			t.Fatalf("hit %d = %d", i, code)
		}
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("disabled limiter wrote keys: %v", mr.Keys())
	}
}
