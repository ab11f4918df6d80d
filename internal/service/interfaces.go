package service

import (
	"context"
	"time"

	"github.com/prperemyshlev/servicehub-auth/internal/domain"
)

// OTPSendResult is returned by a successful send or resend.
type OTPSendResult struct {
	Message string `json:"-"`
	// Cooldown is the number of seconds before another code may be requested.
	Cooldown int64 `json:"cooldown"`
}

// AuthResult is returned by a successful verification.
type AuthResult struct {
	Tokens *domain.TokenPair `json:"tokens"`
	User   *domain.User      `json:"user"`
}

// OTPAuthService drives passcode issuance and verification
type OTPAuthService interface {
	SendOTP(ctx context.Context, phone string) (*OTPSendResult, error)
	ResendOTP(ctx context.Context, phone string) (*OTPSendResult, error)
	GetCooldown(ctx context.Context, phone string) (int64, error)
	VerifyOTP(ctx context.Context, phone, code string, role domain.Role) (*AuthResult, error)
}

// SessionManager issues, rotates and revokes role-scoped sessions
type SessionManager interface {
	Issue(ctx context.Context, user *domain.User, role domain.Role) (*domain.TokenPair, error)
	Refresh(ctx context.Context, role domain.Role, refreshToken string) (*domain.TokenPair, error)
	Logout(ctx context.Context, role domain.Role, refreshToken, accessToken string) error
	ValidateAccessToken(ctx context.Context, token string) (*domain.TokenClaims, error)
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// IdentityResolver maps a verified phone and role to the canonical user
type IdentityResolver interface {
	Resolve(ctx context.Context, phone string, role domain.Role) (*domain.User, error)
}

// TokenBlacklist records revoked access tokens by their jti
type TokenBlacklist interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}
