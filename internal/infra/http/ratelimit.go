package http

import (
	"net/http"
	"strconv"
	"time"

	"accesscontrol/internal/infra/ratelimit"

	"github.com/gin-gonic/gin"
)

func (s *Server) enforceRateLimit(c *gin.Context) {
	if s.rateLimiter == nil {
		c.Next()
		return
	}
	decision, err := s.rateLimiter.Allow(c.Request.Context(), requestScope(c).Key())
	if err != nil {
		if s.rateLimitFailClosed {
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
			c.Abort()
			return
		}
		c.Next()
		return
	}
	writeRateLimitHeaders(c, decision)
	if !decision.Allowed {
		writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
		c.Abort()
		return
	}
	c.Next()
}

// requestScope charges device routes and device-filtered feed reads,
// including the stream, to the device they name.
func requestScope(c *gin.Context) ratelimit.Scope {
	device := c.Param("device_id")
	if device == "" {
		device = c.Query("device_id")
	}
	return ratelimit.Scope{Route: c.FullPath(), Client: c.ClientIP(), Device: device}
}

func writeRateLimitHeaders(c *gin.Context, decision ratelimit.Decision) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if !decision.ResetAt.IsZero() {
		c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if !decision.Allowed {
			retryAfter := int64(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		}
	}
}
