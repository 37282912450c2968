package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/eventchain/config"
	"github.com/mmdatafocus/eventchain/middlewares"
	"github.com/redis/go-redis/v9"
)

// RateLimiter counts requests per business profile (or client IP) in fixed windows.
type RateLimiter struct {
	client func() *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: config.GetRedisDB,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware fails open while Redis is unavailable.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	client := rl.client()
	if client == nil {
		c.Next()
		return
	}
	key := "ratelimit:" + c.ClientIP()
	if profileId := strings.TrimSpace(c.GetHeader(middlewares.HeaderBusinessProfileId)); profileId != "" {
		key = "ratelimit:profile:" + profileId
	}

	ctx := c.Request.Context()
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		c.Next()
		return
	}
	if count == 1 {
		client.Expire(ctx, key, rl.window)
	}
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":   "RATE_LIMITED",
			"message": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}
	c.Next()
}
