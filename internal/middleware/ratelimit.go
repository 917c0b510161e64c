package middleware

import (
	"net/http"
	"time"

	"bursar/internal/cache"

	"github.com/gin-gonic/gin"
)

// RateLimit limits requests per client IP using the shared counter. The
// counter is redis-backed when configured, in-memory otherwise, so the
// limit is per-fleet or per-instance accordingly.
func RateLimit(counter cache.Counter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := counter.Incr("rl:"+c.ClientIP(), window)
		if err != nil {
			// Counting is advisory; a broken counter must not take the
			// wallet API down with it.
			c.Next()
			return
		}
		if n > limit {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
