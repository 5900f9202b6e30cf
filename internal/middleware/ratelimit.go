package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/courierhq/dispatch-api/internal/handler"
)

// courierRateLimiter throttles per authenticated courier. Location pings
// are the hot path it protects; keys fall back to client IP for
// unauthenticated routes.
type courierRateLimiter struct {
	sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

func NewCourierRateLimiter(limit int, window time.Duration) *courierRateLimiter {
	return &courierRateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

func (rl *courierRateLimiter) cleanup() {
	rl.Lock()
	defer rl.Unlock()

	now := time.Now()
	for key, times := range rl.requests {
		var valid []time.Time
		for _, t := range times {
			if now.Sub(t) <= rl.window {
				valid = append(valid, t)
			}
		}
		if len(valid) == 0 {
			delete(rl.requests, key)
		} else {
			rl.requests[key] = valid
		}
	}
}

func (rl *courierRateLimiter) RateLimit() gin.HandlerFunc {
	go func() {
		for {
			time.Sleep(rl.window)
			rl.cleanup()
		}
	}()

	return func(c *gin.Context) {
		key := c.GetString(ContextCourierID)
		if key == "" {
			key = c.ClientIP()
		}

		rl.Lock()
		now := time.Now()
		times := rl.requests[key]

		var valid []time.Time
		for _, t := range times {
			if now.Sub(t) <= rl.window {
				valid = append(valid, t)
			}
		}

		if len(valid) >= rl.limit {
			rl.Unlock()
			c.JSON(http.StatusTooManyRequests, handler.NewErrorResponse("rate limit exceeded"))
			c.Abort()
			return
		}

		rl.requests[key] = append(valid, now)
		rl.Unlock()

		c.Next()
	}
}
