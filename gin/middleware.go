// Package ginthrottle adapts the admission gate to gin.
package ginthrottle

import (
	"fmt"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fujie/idp-throttle/pkg/throttle"
)

// Middleware returns a gin middleware applying the admission gate. The
// headers and the 429 payload match the net/http middleware.
func Middleware(gate throttle.Gatekeeper) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, err := gate.AllowRequest(c.Request)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", decision.Reset.Unix()))

		if !decision.Allowed {
			retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":             "temporarily_unavailable",
				"error_description": "Too many requests. Please try again later.",
				"retry_after":       retryAfter,
			})
			return
		}

		c.Next()
	}
}
