package middleware

import (
	"fmt"

	"coderunner/internal/common/ratelimit"
	"coderunner/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// RateLimitMiddleware enforces a per client IP limit on one route.
func RateLimitMiddleware(limiter ratelimit.Limiter, routeKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		key := fmt.Sprintf("runner:rate:ip:%s:%s", c.ClientIP(), routeKey)
		if err := limiter.Allow(c.Request.Context(), key); err != nil {
			response.AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
