package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/prperemyshlev/servicehub-auth/internal/domain"
	"github.com/prperemyshlev/servicehub-auth/internal/dto"
	"github.com/prperemyshlev/servicehub-auth/internal/service"
)

const refreshCookie = "refresh_token"

// AuthHandler handles authentication requests
type AuthHandler struct {
	otp      service.OTPAuthService
	sessions service.SessionManager
	logger   *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(otp service.OTPAuthService, sessions service.SessionManager, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		otp:      otp,
		sessions: sessions,
		logger:   logger,
	}
}

func cookiePath(role domain.Role) string {
	return "/api/v1/auth/" + string(role)
}

// bindPhone reads the normalized phone of a PhoneRequest.
func bindPhone(c *gin.Context) (string, error) {
	var req dto.PhoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return "", bindError(err)
	}
	return req.Phone.String(), nil
}

// bindError reports the first field that failed validation, or a generic
// message when the body could not be decoded at all.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.NewMissingParameter("Invalid request body")
	}

	fe := verrs[0]
	switch {
	case fe.Field() == "Phone" && fe.Tag() == "e164":
		return domain.NewMissingParameter("Phone number must be in E.164 format")
	case fe.Field() == "Phone":
		return domain.NewMissingParameter("Phone number is required")
	default:
		return domain.NewMissingParameter("Phone, OTP, and App Type are required")
	}
}

// SendOTP handles code requests
// @Summary Send a one-time code
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.PhoneRequest true "Phone"
// @Success 200 {object} dto.SuccessResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 429 {object} dto.ErrorResponse
// @Router /auth/{role}/send-otp [post]
func (h *AuthHandler) SendOTP(c *gin.Context) {
	phone, err := bindPhone(c)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	res, err := h.otp.SendOTP(c.Request.Context(), phone)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: res.Message,
		Data:    dto.CooldownData{Cooldown: res.Cooldown},
	})
}

// ResendOTP handles repeated code requests for an existing session
// @Summary Resend a one-time code
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.PhoneRequest true "Phone"
// @Success 200 {object} dto.SuccessResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 429 {object} dto.ErrorResponse
// @Router /auth/{role}/resend-otp [post]
func (h *AuthHandler) ResendOTP(c *gin.Context) {
	phone, err := bindPhone(c)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	res, err := h.otp.ResendOTP(c.Request.Context(), phone)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: res.Message,
		Data:    dto.CooldownData{Cooldown: res.Cooldown},
	})
}

// GetOTPCooldown reports the seconds left before another code may be sent
// @Summary Remaining OTP cooldown
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.PhoneRequest true "Phone"
// @Success 200 {object} dto.SuccessResponse
// @Failure 400 {object} dto.ErrorResponse
// @Router /auth/{role}/get-otp-cooldown [post]
func (h *AuthHandler) GetOTPCooldown(c *gin.Context) {
	phone, err := bindPhone(c)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	cooldown, err := h.otp.GetCooldown(c.Request.Context(), phone)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: "OTP cooldown retrieved",
		Data:    dto.CooldownData{Cooldown: cooldown},
	})
}

// VerifyOTP returns a handler that verifies a code and signs the user in as role
// @Summary Verify a one-time code
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.VerifyOTPRequest true "Phone and code"
// @Success 200 {object} dto.SuccessResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Failure 429 {object} dto.ErrorResponse
// @Router /auth/{role}/verify-otp [post]
func (h *AuthHandler) VerifyOTP(role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dto.VerifyOTPRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, h.logger, bindError(err))
			return
		}

		res, err := h.otp.VerifyOTP(c.Request.Context(), req.Phone.String(), req.OTP, role)
		if err != nil {
			abortWithError(c, h.logger, err)
			return
		}

		c.SetCookie(refreshCookie, res.Tokens.RefreshToken, res.Tokens.RefreshExpiresIn, cookiePath(role), "", true, true)

		c.JSON(http.StatusOK, dto.SuccessResponse{
			Message: "OTP verified successfully",
			Data: dto.AuthData{
				Tokens: res.Tokens,
				User:   dto.NewUserResponse(res.User),
			},
		})
	}
}

// refreshTokenFrom takes the token from the body, falling back to the cookie.
func refreshTokenFrom(c *gin.Context) string {
	var req dto.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
		return req.RefreshToken
	}
	token, _ := c.Cookie(refreshCookie)
	return token
}

// Refresh returns a handler that rotates a refresh token of role
// @Summary Refresh tokens
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.RefreshTokenRequest true "Refresh token"
// @Success 200 {object} dto.SuccessResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /auth/{role}/refresh [post]
func (h *AuthHandler) Refresh(role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokens, err := h.sessions.Refresh(c.Request.Context(), role, refreshTokenFrom(c))
		if err != nil {
			abortWithError(c, h.logger, err)
			return
		}

		c.SetCookie(refreshCookie, tokens.RefreshToken, tokens.RefreshExpiresIn, cookiePath(role), "", true, true)

		c.JSON(http.StatusOK, dto.SuccessResponse{
			Message: "Token refreshed successfully",
			Data:    dto.TokensData{Tokens: tokens},
		})
	}
}

// Logout returns a handler that ends the caller's session for role
// @Summary Logout
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.RefreshTokenRequest true "Refresh token"
// @Success 200 {object} dto.SuccessResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /auth/{role}/logout [post]
func (h *AuthHandler) Logout(role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		access, _ := bearerToken(c)

		err := h.sessions.Logout(c.Request.Context(), role, refreshTokenFrom(c), access)
		if err != nil {
			abortWithError(c, h.logger, err)
			return
		}

		// Clear refresh token cookie
		c.SetCookie(refreshCookie, "", -1, cookiePath(role), "", true, true)

		c.JSON(http.StatusOK, dto.SuccessResponse{
			Message: "Logged out successfully",
		})
	}
}

// GetMe handles getting the current user profile
// @Summary Get current user profile
// @Tags users
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.SuccessResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /{role}/me [get]
func (h *AuthHandler) GetMe(c *gin.Context) {
	claims, ok := ClaimsFrom(c)
	if !ok {
		abortWithError(c, h.logger, domain.NewUnauthorized("User ID not found in context"))
		return
	}

	user, err := h.sessions.GetUser(c.Request.Context(), claims.UserID)
	if err != nil {
		abortWithError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: "User retrieved successfully",
		Data:    dto.NewUserResponse(user),
	})
}
