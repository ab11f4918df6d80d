package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prperemyshlev/servicehub-auth/internal/domain"
	"github.com/prperemyshlev/servicehub-auth/internal/service"
)

const (
	ctxUserID  = "user_id"
	ctxAppType = "app_type"
	ctxClaims  = "claims"
)

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", domain.NewUnauthorized("Authorization header is required")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", domain.NewUnauthorized("Invalid authorization header format")
	}
	return parts[1], nil
}

// AuthMiddleware validates the access token and adds its claims to the context
func AuthMiddleware(sessions service.SessionManager, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			abortWithError(c, logger, err)
			return
		}

		claims, err := sessions.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			abortWithError(c, logger, err)
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxAppType, string(claims.AppType))
		c.Set(ctxClaims, claims)

		c.Next()
	}
}

// RequireRole rejects tokens scoped to a different application.
// Must run after AuthMiddleware.
func RequireRole(role domain.Role, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok || claims.AppType != role {
			abortWithError(c, logger, domain.NewUnauthorized("Token is not valid for this application"))
			return
		}
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by AuthMiddleware.
func ClaimsFrom(c *gin.Context) (*domain.TokenClaims, bool) {
	v, exists := c.Get(ctxClaims)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*domain.TokenClaims)
	return claims, ok
}
