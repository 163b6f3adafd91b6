package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig configures the distributed rate limiter
type RateLimitConfig struct {
	// Requests allowed per window
	Requests int
	// Window duration
	Window time.Duration
}

// skipPaths are paths exempt from rate limiting
var skipPaths = []string{
	"/health",
	"/metrics",
	"/ready",
}

// DistributedRateLimit implements Redis-backed rate limiting using a
// fixed-window counter keyed by client IP. If Redis is unavailable, it
// fails open (allows the request).
func DistributedRateLimit(redisClient *redis.Client, cfg RateLimitConfig, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, sp := range skipPaths {
			if path == sp {
				c.Next()
				return
			}
		}

		if redisClient == nil {
			c.Next()
			return
		}

		windowEpoch := time.Now().Unix() / int64(cfg.Window.Seconds())
		key := fmt.Sprintf("ratelimit:ip:%s:%d", c.ClientIP(), windowEpoch)

		ctx, cancel := context.WithTimeout(c.Request.Context(), 200*time.Millisecond)
		defer cancel()

		count, err := redisClient.Incr(ctx, key).Result()
		if err != nil {
			logger.Warn("rate limit check failed, allowing request", zap.Error(err))
			c.Next()
			return
		}
		if count == 1 {
			redisClient.Expire(ctx, key, cfg.Window)
		}

		if count > int64(cfg.Requests) {
			c.Header("Retry-After", fmt.Sprintf("%d", int(cfg.Window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}
