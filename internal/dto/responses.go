package dto

import (
	"time"

	"github.com/prperemyshlev/servicehub-auth/internal/domain"
)

// SuccessResponse represents a success response
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}

// CooldownData carries the seconds until another code may be requested
type CooldownData struct {
	Cooldown int64 `json:"cooldown"`
}

// AuthData is returned by verify-otp
type AuthData struct {
	Tokens *domain.TokenPair `json:"tokens"`
	User   UserResponse      `json:"user"`
}

// TokensData is returned by refresh
type TokensData struct {
	Tokens *domain.TokenPair `json:"tokens"`
}

// UserResponse represents a user response
type UserResponse struct {
	ID                    string        `json:"id"`
	ConsumerPhone         *string       `json:"consumer_phone,omitempty"`
	ConsumerEmail         *string       `json:"consumer_email,omitempty"`
	ConsumerPhoneVerified bool          `json:"consumer_phone_verified"`
	ProviderPhone         *string       `json:"provider_phone,omitempty"`
	ProviderEmail         *string       `json:"provider_email,omitempty"`
	ProviderPhoneVerified bool          `json:"provider_phone_verified"`
	ActiveRoles           []domain.Role `json:"active_roles"`
	CreatedAt             string        `json:"created_at"`
	UpdatedAt             string        `json:"updated_at"`
}

// NewUserResponse converts a domain user for output
func NewUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:                    u.ID,
		ConsumerPhone:         u.ConsumerPhone,
		ConsumerEmail:         u.ConsumerEmail,
		ConsumerPhoneVerified: u.ConsumerPhoneVerified,
		ProviderPhone:         u.ProviderPhone,
		ProviderEmail:         u.ProviderEmail,
		ProviderPhoneVerified: u.ProviderPhoneVerified,
		ActiveRoles:           u.ActiveRoles,
		CreatedAt:             u.CreatedAt.Format(time.RFC3339),
		UpdatedAt:             u.UpdatedAt.Format(time.RFC3339),
	}
}
