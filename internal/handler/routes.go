package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prperemyshlev/servicehub-auth/internal/domain"
	"github.com/prperemyshlev/servicehub-auth/internal/service"
)

// RateLimit configures the per-IP limit on the OTP endpoints. A nil
// Limiter disables it.
type RateLimit struct {
	Limiter  service.Limiter
	Requests int
	Window   time.Duration
}

// RegisterRoutes mounts the auth and identity routes of both roles on api.
func RegisterRoutes(api *gin.RouterGroup, h *AuthHandler, sessions service.SessionManager, rl RateLimit, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	limited := func(next gin.HandlerFunc) []gin.HandlerFunc {
		if rl.Limiter == nil {
			return []gin.HandlerFunc{next}
		}
		return []gin.HandlerFunc{
			RateLimitMiddleware(rl.Limiter, rl.Requests, rl.Window, RouteAndIPKey, logger),
			next,
		}
	}

	for _, role := range []domain.Role{domain.RoleConsumer, domain.RoleProvider} {
		auth := api.Group("/auth/" + string(role))
		{
			auth.POST("/send-otp", limited(h.SendOTP)...)
			auth.POST("/resend-otp", limited(h.ResendOTP)...)
			auth.POST("/get-otp-cooldown", h.GetOTPCooldown)
			auth.POST("/verify-otp", limited(h.VerifyOTP(role))...)
			auth.POST("/refresh", h.Refresh(role))
			auth.POST("/logout", h.Logout(role))
		}

		api.GET("/"+string(role)+"/me",
			AuthMiddleware(sessions, logger),
			RequireRole(role, logger),
			h.GetMe,
		)
	}
}
