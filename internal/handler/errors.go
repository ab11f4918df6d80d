package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prperemyshlev/servicehub-auth/internal/domain"
	"github.com/prperemyshlev/servicehub-auth/internal/dto"
)

const internalMessage = "An unexpected error occurred"

// StatusFor maps an error kind to its HTTP status and title.
func StatusFor(kind domain.Kind) (int, string) {
	switch kind {
	case domain.KindMissingParameter:
		return http.StatusBadRequest, "Bad Request"
	case domain.KindTooManyAttempts:
		return http.StatusTooManyRequests, "Too Many Requests"
	case domain.KindInvalidCredential, domain.KindUnauthorized:
		return http.StatusUnauthorized, "Unauthorized"
	case domain.KindResourceNotFound:
		return http.StatusNotFound, "Not Found"
	case domain.KindConflict:
		return http.StatusConflict, "Conflict"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

// abortWithError writes err as an ErrorResponse and stops the chain.
// Internal errors are logged and their details withheld from the client.
func abortWithError(c *gin.Context, logger *zap.Logger, err error) {
	de, ok := domain.AsError(err)
	if !ok {
		de = domain.NewInternal(internalMessage, err)
	}

	status, title := StatusFor(de.Kind)
	resp := dto.ErrorResponse{
		Error:   title,
		Code:    de.Kind.String(),
		Message: de.Message,
	}

	if de.Kind == domain.KindInternal {
		logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		resp.Message = internalMessage
	}

	if de.Kind == domain.KindTooManyAttempts && de.RetryAfter > 0 {
		resp.RetryAfter = de.RetryAfterSeconds()
		c.Header("Retry-After", strconv.FormatInt(resp.RetryAfter, 10))
	}

	c.AbortWithStatusJSON(status, resp)
}
