package handler

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prperemyshlev/servicehub-auth/internal/domain"
	"github.com/prperemyshlev/servicehub-auth/internal/service"
)

// RateLimitMiddleware creates a rate limiting middleware. Limiter failures
// let the request through; the per-phone OTP policy still applies.
func RateLimitMiddleware(limiter service.Limiter, limit int, window time.Duration, keyFunc func(*gin.Context) string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := limiter.Allow(c.Request.Context(), keyFunc(c), limit, window)
		if err != nil {
			logger.Warn("Rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if !res.Allowed {
			abortWithError(c, logger, domain.NewTooManyAttempts(
				"Rate limit exceeded, please try again later", "ip-rate-limit", res.RetryAfter))
			return
		}

		c.Next()
	}
}

// IPBasedKey keys on the client IP as gin resolves it. Forwarding headers
// only count when the peer is one of the engine's trusted proxies.
func IPBasedKey(c *gin.Context) string {
	return c.ClientIP()
}

// RouteAndIPKey limits each endpoint separately per client IP
func RouteAndIPKey(c *gin.Context) string {
	return fmt.Sprintf("%s:%s", c.FullPath(), IPBasedKey(c))
}
