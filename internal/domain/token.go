package domain

import "time"

// TokenKind separates access tokens from refresh tokens.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// TokenClaims is the decoded payload of a verified token.
type TokenClaims struct {
	UserID    string    `json:"id"`
	AppType   Role      `json:"app_type"`
	Kind      TokenKind `json:"type"`
	ID        string    `json:"jti"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// TokenPair represents a pair of access and refresh tokens
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
}

// RefreshToken is the server-side session record for one (user, role) slot.
// Only the SHA-256 digest of the token is stored.
type RefreshToken struct {
	ID        string    `json:"id" db:"id" bson:"token_id"`
	UserID    string    `json:"user_id" db:"user_id" bson:"user_id"`
	AppType   Role      `json:"app_type" db:"app_type" bson:"app_type"`
	TokenHash string    `json:"-" db:"token_hash" bson:"token_hash"`
	CreatedAt time.Time `json:"created_at" db:"created_at" bson:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at" bson:"expires_at"`
}
