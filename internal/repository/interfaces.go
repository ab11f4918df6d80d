package repository

import (
	"context"
	"time"

	"github.com/prperemyshlev/servicehub-auth/internal/domain"
)

// OtpSessionChange is what an OtpSessionRepository.Apply callback asks to persist.
type OtpSessionChange struct {
	// Save replaces the stored session when non-nil.
	Save *domain.OtpSession
	// Delete removes the stored session. Ignored when Save is set.
	Delete bool
}

// OtpSessionFunc inspects the current session (nil if none) and decides the
// change. A returned error is passed back to the caller after the change has
// been committed.
type OtpSessionFunc func(current *domain.OtpSession) (OtpSessionChange, error)

// OtpSessionRepository stores one OTP session per phone. Apply runs the
// read-decide-write cycle for a phone atomically with respect to other Apply
// calls for the same phone.
type OtpSessionRepository interface {
	Get(ctx context.Context, phone string) (*domain.OtpSession, error)
	Apply(ctx context.Context, phone string, fn OtpSessionFunc) error
	DeleteStale(ctx context.Context, now time.Time, window time.Duration) (int64, error)
}

// UserRepository defines methods for user operations
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByPhone(ctx context.Context, role domain.Role, phone string) (*domain.User, error)
	// LinkRole fills role's empty phone slot on userID. It fails with
	// ErrConflict when the slot already holds a phone.
	LinkRole(ctx context.Context, userID string, role domain.Role, phone string, now time.Time) (*domain.User, error)
}

// TokenRepository stores at most one refresh token per (user, role).
type TokenRepository interface {
	Upsert(ctx context.Context, token *domain.RefreshToken) error
	GetByUserAndRole(ctx context.Context, userID string, role domain.Role) (*domain.RefreshToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)
	// Rotate replaces the token for (next.UserID, next.AppType) only if the
	// stored hash still equals oldHash; otherwise it returns ErrNotFound.
	Rotate(ctx context.Context, oldHash string, next *domain.RefreshToken) error
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
