package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"go.uber.org/zap"

	"github.com/prperemyshlev/servicehub-auth/internal/clock"
	"github.com/prperemyshlev/servicehub-auth/internal/domain"
	"github.com/prperemyshlev/servicehub-auth/internal/repository"
	"github.com/prperemyshlev/servicehub-auth/internal/utils"
)

const tokenTypeBearer = "Bearer"

// sessionService implements SessionManager
type sessionService struct {
	tokens    repository.TokenRepository
	users     repository.UserRepository
	manager   *utils.TokenManager
	blacklist TokenBlacklist
	clock     clock.Clock
	logger    *zap.Logger
	metrics   *Metrics
}

// NewSessionService creates a new session service. blacklist may be nil, in
// which case access tokens stay valid until they expire.
func NewSessionService(
	tokens repository.TokenRepository,
	users repository.UserRepository,
	manager *utils.TokenManager,
	blacklist TokenBlacklist,
	clk clock.Clock,
	logger *zap.Logger,
	metrics *Metrics,
) SessionManager {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &sessionService{
		tokens:    tokens,
		users:     users,
		manager:   manager,
		blacklist: blacklist,
		clock:     clk,
		logger:    logger,
		metrics:   metrics,
	}
}

// Issue mints a pair and makes its refresh token the only live session for
// (user, role). Any previous refresh token for that slot stops working.
func (s *sessionService) Issue(ctx context.Context, user *domain.User, role domain.Role) (*domain.TokenPair, error) {
	pair, record, err := s.mint(user.ID, role)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.Upsert(ctx, record); err != nil {
		return nil, domain.NewInternal("failed to store session", err)
	}

	s.metrics.SessionIssued(ctx, role)
	return pair, nil
}

func (s *sessionService) mint(userID string, role domain.Role) (*domain.TokenPair, *domain.RefreshToken, error) {
	access, _, err := s.manager.Sign(userID, role, domain.TokenAccess)
	if err != nil {
		return nil, nil, domain.NewInternal("failed to sign access token", err)
	}
	refresh, refreshClaims, err := s.manager.Sign(userID, role, domain.TokenRefresh)
	if err != nil {
		return nil, nil, domain.NewInternal("failed to sign refresh token", err)
	}

	pair := &domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        tokenTypeBearer,
		ExpiresIn:        int(s.manager.Expiry(domain.TokenAccess).Seconds()),
		RefreshExpiresIn: int(s.manager.Expiry(domain.TokenRefresh).Seconds()),
	}
	record := &domain.RefreshToken{
		ID:        refreshClaims.ID,
		UserID:    userID,
		AppType:   role,
		TokenHash: hashToken(refresh),
		CreatedAt: refreshClaims.IssuedAt,
		ExpiresAt: refreshClaims.ExpiresAt,
	}
	return pair, record, nil
}

// Refresh rotates a refresh token of the given role. The presented token must
// still be the stored one for its (user, role); a superseded token fails even
// when its signature and expiry are valid.
func (s *sessionService) Refresh(ctx context.Context, role domain.Role, refreshToken string) (*domain.TokenPair, error) {
	if refreshToken == "" {
		return nil, domain.NewMissingParameter("Refresh token is required")
	}

	claims, err := s.manager.Verify(refreshToken, domain.TokenRefresh)
	if err != nil {
		s.metrics.SessionRefresh(ctx, "invalid")
		return nil, domain.NewInvalidCredential(msgInvalidSession)
	}
	if claims.AppType != role {
		s.metrics.SessionRefresh(ctx, "not_found")
		return nil, domain.NewResourceNotFound(msgSessionNotFound)
	}

	presented := hashToken(refreshToken)

	stored, err := s.tokens.GetByUserAndRole(ctx, claims.UserID, claims.AppType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.SessionRefresh(ctx, "not_found")
			return nil, domain.NewResourceNotFound(msgSessionNotFound)
		}
		return nil, domain.NewInternal("failed to load session", err)
	}
	if subtle.ConstantTimeCompare([]byte(stored.TokenHash), []byte(presented)) != 1 {
		s.metrics.SessionRefresh(ctx, "stale")
		s.logger.Warn("Superseded refresh token presented",
			zap.String("user_id", claims.UserID),
			zap.String("role", string(claims.AppType)),
		)
		return nil, domain.NewResourceNotFound(msgSessionNotFound)
	}

	if _, err := s.users.GetByID(ctx, claims.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewResourceNotFound(msgUserNotFound)
		}
		return nil, domain.NewInternal("failed to load user", err)
	}

	pair, record, err := s.mint(claims.UserID, claims.AppType)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.Rotate(ctx, presented, record); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.SessionRefresh(ctx, "stale")
			return nil, domain.NewResourceNotFound(msgSessionNotFound)
		}
		return nil, domain.NewInternal("failed to rotate session", err)
	}

	s.metrics.SessionRefresh(ctx, "success")
	return pair, nil
}

// Logout deletes the role's session holding refreshToken. When accessToken
// belongs to the same session it is revoked for the rest of its lifetime.
func (s *sessionService) Logout(ctx context.Context, role domain.Role, refreshToken, accessToken string) error {
	if refreshToken == "" {
		return domain.NewMissingParameter("Refresh token is required")
	}

	hash := hashToken(refreshToken)

	stored, err := s.tokens.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NewInvalidCredential(msgNotLoggedIn)
		}
		return domain.NewInternal("failed to load session", err)
	}
	if stored.AppType != role {
		return domain.NewInvalidCredential(msgNotLoggedIn)
	}

	if err := s.tokens.DeleteByTokenHash(ctx, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NewInvalidCredential(msgNotLoggedIn)
		}
		return domain.NewInternal("failed to delete session", err)
	}

	if accessToken != "" && s.blacklist != nil {
		s.revokeAccess(ctx, accessToken, stored)
	}

	return nil
}

func (s *sessionService) revokeAccess(ctx context.Context, accessToken string, session *domain.RefreshToken) {
	claims, err := s.manager.Verify(accessToken, domain.TokenAccess)
	if err != nil || claims.UserID != session.UserID || claims.AppType != session.AppType {
		return
	}

	ttl := claims.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		return
	}

	if err := s.blacklist.Revoke(ctx, claims.ID, ttl); err != nil {
		s.logger.Warn("Failed to revoke access token", zap.String("user_id", claims.UserID), zap.Error(err))
	}
}

// ValidateAccessToken verifies an access token and checks the revocation list.
func (s *sessionService) ValidateAccessToken(ctx context.Context, token string) (*domain.TokenClaims, error) {
	claims, err := s.manager.Verify(token, domain.TokenAccess)
	if err != nil {
		return nil, domain.NewInvalidCredential("Invalid or expired token")
	}

	if s.blacklist != nil {
		revoked, err := s.blacklist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, domain.NewInternal("failed to check token revocation", err)
		}
		if revoked {
			return nil, domain.NewInvalidCredential("Token has been revoked")
		}
	}

	return claims, nil
}

// GetUser returns the canonical identity
func (s *sessionService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewResourceNotFound(msgUserNotFound)
		}
		return nil, domain.NewInternal("failed to load user", err)
	}
	return user, nil
}

// hashToken hashes a token using SHA256
func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
