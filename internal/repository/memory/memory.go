// Package memory provides in-process implementations of the repository
// interfaces. They back the unit tests of the service and handler layers.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prperemyshlev/servicehub-auth/internal/domain"
	"github.com/prperemyshlev/servicehub-auth/internal/repository"
)

// NewRepositories returns empty in-memory repositories.
func NewRepositories() *repository.Repositories {
	return &repository.Repositories{
		User:       NewUserRepository(),
		Token:      NewTokenRepository(),
		OtpSession: NewOtpSessionRepository(),
	}
}

// OtpSessionRepository keeps sessions in a map. Apply holds a single lock for
// the whole cycle, which linearizes every phone.
type OtpSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.OtpSession
}

func NewOtpSessionRepository() *OtpSessionRepository {
	return &OtpSessionRepository{sessions: make(map[string]*domain.OtpSession)}
}

func (r *OtpSessionRepository) Get(_ context.Context, phone string) (*domain.OtpSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[phone]
	if !ok {
		return nil, fmt.Errorf("otp session not found: %w", repository.ErrNotFound)
	}
	return s.Clone(), nil
}

func (r *OtpSessionRepository) Apply(_ context.Context, phone string, fn repository.OtpSessionFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.sessions[phone]
	change, fnErr := fn(current.Clone())

	switch {
	case change.Save != nil:
		next := change.Save.Clone()
		next.Phone = phone
		next.Version = 1
		if current != nil {
			next.Version = current.Version + 1
		}
		r.sessions[phone] = next
	case change.Delete:
		delete(r.sessions, phone)
	}

	return fnErr
}

func (r *OtpSessionRepository) DeleteStale(_ context.Context, now time.Time, window time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for phone, s := range r.sessions {
		if s.ExpiresAt.After(now) || s.IsBlocked(now) {
			continue
		}
		if s.LastSentAt != nil && s.LastSentAt.After(now.Add(-window)) {
			continue
		}
		delete(r.sessions, phone)
		n++
	}
	return n, nil
}

// Put stores s as is. Tests use it to seed state.
func (r *OtpSessionRepository) Put(s *domain.OtpSession) {
	r.mu.Lock()
	r.sessions[s.Phone] = s.Clone()
	r.mu.Unlock()
}

func (r *OtpSessionRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// UserRepository keeps users keyed by id with a phone index per role.
type UserRepository struct {
	mu      sync.Mutex
	users   map[string]*domain.User
	byPhone map[domain.Role]map[string]string
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		users: make(map[string]*domain.User),
		byPhone: map[domain.Role]map[string]string{
			domain.RoleConsumer: {},
			domain.RoleProvider: {},
		},
	}
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	if u.ConsumerPhone != nil {
		p := *u.ConsumerPhone
		c.ConsumerPhone = &p
	}
	if u.ProviderPhone != nil {
		p := *u.ProviderPhone
		c.ProviderPhone = &p
	}
	if u.ConsumerEmail != nil {
		e := *u.ConsumerEmail
		c.ConsumerEmail = &e
	}
	if u.ProviderEmail != nil {
		e := *u.ProviderEmail
		c.ProviderEmail = &e
	}
	c.ActiveRoles = append([]domain.Role(nil), u.ActiveRoles...)
	return &c
}

func (r *UserRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, role := range []domain.Role{domain.RoleConsumer, domain.RoleProvider} {
		if p := user.PhoneFor(role); p != "" {
			if _, taken := r.byPhone[role][p]; taken {
				return fmt.Errorf("user phone already registered: %w", repository.ErrDuplicatePhone)
			}
		}
	}

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}

	r.users[user.ID] = cloneUser(user)
	for _, role := range []domain.Role{domain.RoleConsumer, domain.RoleProvider} {
		if p := user.PhoneFor(role); p != "" {
			r.byPhone[role][p] = user.ID
		}
	}
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("user with id %s not found: %w", id, repository.ErrNotFound)
	}
	return cloneUser(u), nil
}

func (r *UserRepository) GetByPhone(_ context.Context, role domain.Role, phone string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byPhone[role][phone]
	if !ok {
		return nil, fmt.Errorf("%s user not found: %w", role, repository.ErrNotFound)
	}
	return cloneUser(r.users[id]), nil
}

func (r *UserRepository) LinkRole(_ context.Context, userID string, role domain.Role, phone string, now time.Time) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return nil, fmt.Errorf("user with id %s not found: %w", userID, repository.ErrNotFound)
	}
	if u.PhoneFor(role) != "" {
		return nil, fmt.Errorf("%s slot already taken for user %s: %w", role, userID, repository.ErrConflict)
	}
	if _, taken := r.byPhone[role][phone]; taken {
		return nil, fmt.Errorf("phone already registered as %s: %w", role, repository.ErrDuplicatePhone)
	}

	p := phone
	if role == domain.RoleProvider {
		u.ProviderPhone = &p
		u.ProviderPhoneVerified = true
	} else {
		u.ConsumerPhone = &p
		u.ConsumerPhoneVerified = true
	}
	if !u.HasRole(role) {
		u.ActiveRoles = append(u.ActiveRoles, role)
	}
	u.UpdatedAt = now
	r.byPhone[role][phone] = userID

	return cloneUser(u), nil
}

func (r *UserRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

type tokenKey struct {
	userID string
	role   domain.Role
}

// TokenRepository keeps one refresh token per (user, role).
type TokenRepository struct {
	mu     sync.Mutex
	tokens map[tokenKey]domain.RefreshToken
}

func NewTokenRepository() *TokenRepository {
	return &TokenRepository{tokens: make(map[tokenKey]domain.RefreshToken)}
}

func (r *TokenRepository) Upsert(_ context.Context, token *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	r.tokens[tokenKey{token.UserID, token.AppType}] = *token
	return nil
}

func (r *TokenRepository) GetByUserAndRole(_ context.Context, userID string, role domain.Role) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[tokenKey{userID, role}]
	if !ok {
		return nil, fmt.Errorf("%s session for user %s not found: %w", role, userID, repository.ErrNotFound)
	}
	return &t, nil
}

func (r *TokenRepository) GetByTokenHash(_ context.Context, tokenHash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tokens {
		if t.TokenHash == tokenHash {
			t := t
			return &t, nil
		}
	}
	return nil, fmt.Errorf("token with hash not found: %w", repository.ErrNotFound)
}

func (r *TokenRepository) Rotate(_ context.Context, oldHash string, next *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tokenKey{next.UserID, next.AppType}
	cur, ok := r.tokens[key]
	if !ok || cur.TokenHash != oldHash {
		return fmt.Errorf("token to rotate not found: %w", repository.ErrNotFound)
	}
	if next.ID == "" {
		next.ID = uuid.New().String()
	}
	r.tokens[key] = *next
	return nil
}

func (r *TokenRepository) DeleteByTokenHash(_ context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, t := range r.tokens {
		if t.TokenHash == tokenHash {
			delete(r.tokens, k)
			return nil
		}
	}
	return fmt.Errorf("token with hash not found: %w", repository.ErrNotFound)
}

func (r *TokenRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for k, t := range r.tokens {
		if !t.ExpiresAt.After(now) {
			delete(r.tokens, k)
			n++
		}
	}
	return n, nil
}

func (r *TokenRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

var (
	_ repository.OtpSessionRepository = (*OtpSessionRepository)(nil)
	_ repository.UserRepository       = (*UserRepository)(nil)
	_ repository.TokenRepository      = (*TokenRepository)(nil)
)
