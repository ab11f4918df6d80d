package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prperemyshlev/servicehub-auth/internal/clock"
	"github.com/prperemyshlev/servicehub-auth/internal/domain"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// claims is the wire payload of both token kinds.
type claims struct {
	AppType string `json:"app_type"`
	Type    string `json:"type"`
	jwt.RegisteredClaims
}

type signingKey struct {
	secret []byte
	expiry time.Duration
}

// TokenManager signs and verifies access and refresh tokens. Each kind has
// its own secret so a token of one kind never verifies as the other.
type TokenManager struct {
	access  signingKey
	refresh signingKey
	clock   clock.Clock
}

// NewTokenManager creates a new token manager
func NewTokenManager(accessSecret string, accessExpiry time.Duration, refreshSecret string, refreshExpiry time.Duration, clk clock.Clock) *TokenManager {
	if clk == nil {
		clk = clock.Real{}
	}
	return &TokenManager{
		access:  signingKey{secret: []byte(accessSecret), expiry: accessExpiry},
		refresh: signingKey{secret: []byte(refreshSecret), expiry: refreshExpiry},
		clock:   clk,
	}
}

func (m *TokenManager) key(kind domain.TokenKind) (signingKey, error) {
	switch kind {
	case domain.TokenAccess:
		return m.access, nil
	case domain.TokenRefresh:
		return m.refresh, nil
	}
	return signingKey{}, fmt.Errorf("unknown token kind %q", kind)
}

// Expiry returns the configured lifetime for kind.
func (m *TokenManager) Expiry(kind domain.TokenKind) time.Duration {
	k, err := m.key(kind)
	if err != nil {
		return 0
	}
	return k.expiry
}

// Sign issues a token of the given kind scoped to (userID, role).
func (m *TokenManager) Sign(userID string, role domain.Role, kind domain.TokenKind) (string, *domain.TokenClaims, error) {
	k, err := m.key(kind)
	if err != nil {
		return "", nil, err
	}

	now := m.clock.Now()
	c := claims{
		AppType: string(role),
		Type:    string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(k.expiry)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(k.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign %s token: %w", kind, err)
	}

	return signed, toDomain(&c), nil
}

// Verify checks signature, expiry and kind. Every failure is reported as
// ErrInvalidToken; no partial claims are returned.
func (m *TokenManager) Verify(tokenString string, kind domain.TokenKind) (*domain.TokenClaims, error) {
	k, err := m.key(kind)
	if err != nil {
		return nil, ErrInvalidToken
	}

	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c,
		func(token *jwt.Token) (interface{}, error) {
			return k.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if c.Type != string(kind) || c.Subject == "" || !domain.Role(c.AppType).Valid() {
		return nil, ErrInvalidToken
	}

	return toDomain(&c), nil
}

func toDomain(c *claims) *domain.TokenClaims {
	out := &domain.TokenClaims{
		UserID:  c.Subject,
		AppType: domain.Role(c.AppType),
		Kind:    domain.TokenKind(c.Type),
		ID:      c.ID,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time.UTC()
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time.UTC()
	}
	return out
}
