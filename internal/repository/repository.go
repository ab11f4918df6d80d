package repository

import (
	"github.com/prperemyshlev/servicehub-auth/pkg/database"
)

// Repositories holds all repository interfaces
type Repositories struct {
	User       UserRepository
	Token      TokenRepository
	OtpSession OtpSessionRepository
}

// NewRepositories creates the PostgreSQL repositories
func NewRepositories(db *database.Postgres) *Repositories {
	return &Repositories{
		User:       NewUserRepository(db),
		Token:      NewTokenRepository(db),
		OtpSession: NewOtpSessionRepository(db),
	}
}
