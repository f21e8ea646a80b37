package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// RateLimit caps requests per client IP using a redis counter: INCR the
// per-second key, set its expiry on first hit, reject once it exceeds qps.
func RateLimit(redisClient *redis.Client, qps int, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		key := "rate_limit:" + ip

		ctx := c.Request.Context()
		count, err := redisClient.Incr(ctx, key).Result()
		if err != nil {
			logger.Error().Err(err).Str("ip", ip).Msg("rate limiter unavailable")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal",
				"message": "rate limiter unavailable",
			})
			c.Abort()
			return
		}
		if count == 1 {
			redisClient.Expire(ctx, key, time.Second)
		}

		if count > int64(qps) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "too many requests, slow down",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
