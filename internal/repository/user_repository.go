package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/prperemyshlev/servicehub-auth/internal/domain"
	"github.com/prperemyshlev/servicehub-auth/pkg/database"
)

const userColumns = `id, consumer_phone, consumer_email, consumer_phone_verified, consumer_email_verified,
	provider_phone, provider_email, provider_phone_verified, provider_email_verified,
	active_roles, created_at, updated_at`

// userRepository implements UserRepository interface
type userRepository struct {
	db *database.Postgres
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *database.Postgres) UserRepository {
	return &userRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	user := &domain.User{}
	var consumerPhone, consumerEmail, providerPhone, providerEmail sql.NullString
	var roles []string

	err := row.Scan(
		&user.ID,
		&consumerPhone,
		&consumerEmail,
		&user.ConsumerPhoneVerified,
		&user.ConsumerEmailVerified,
		&providerPhone,
		&providerEmail,
		&user.ProviderPhoneVerified,
		&user.ProviderEmailVerified,
		pq.Array(&roles),
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.ConsumerPhone = nullableString(consumerPhone)
	user.ConsumerEmail = nullableString(consumerEmail)
	user.ProviderPhone = nullableString(providerPhone)
	user.ProviderEmail = nullableString(providerEmail)
	user.ActiveRoles = make([]domain.Role, 0, len(roles))
	for _, r := range roles {
		user.ActiveRoles = append(user.ActiveRoles, domain.Role(r))
	}

	return user, nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func rolesToStrings(roles []domain.Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

// isPhoneUniqueViolation reports whether err is a unique_violation on one of the phone slots.
func isPhoneUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return false
	}
	return pqErr.Constraint == "users_consumer_phone_key" || pqErr.Constraint == "users_provider_phone_key"
}

// Create creates a new user in the database
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, consumer_phone, consumer_email, consumer_phone_verified, consumer_email_verified,
			provider_phone, provider_email, provider_phone_verified, provider_email_verified,
			active_roles, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	// Generate UUID if not provided
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

	_, err := r.db.DB.ExecContext(ctx, query,
		user.ID,
		user.ConsumerPhone,
		user.ConsumerEmail,
		user.ConsumerPhoneVerified,
		user.ConsumerEmailVerified,
		user.ProviderPhone,
		user.ProviderEmail,
		user.ProviderPhoneVerified,
		user.ProviderEmailVerified,
		pq.Array(rolesToStrings(user.ActiveRoles)),
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		if isPhoneUniqueViolation(err) {
			return fmt.Errorf("user phone already registered: %w", ErrDuplicatePhone)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by ID
func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user with id %s not found: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return user, nil
}

func phoneColumn(role domain.Role) string {
	if role == domain.RoleProvider {
		return "provider_phone"
	}
	return "consumer_phone"
}

// GetByPhone retrieves the user whose role slot holds phone
func (r *userRepository) GetByPhone(ctx context.Context, role domain.Role, phone string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + phoneColumn(role) + ` = $1`

	user, err := scanUser(r.db.DB.QueryRowContext(ctx, query, phone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s user not found: %w", role, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by phone: %w", err)
	}

	return user, nil
}

// LinkRole fills the empty role slot of an existing user in a single conditional update
func (r *userRepository) LinkRole(ctx context.Context, userID string, role domain.Role, phone string, now time.Time) (*domain.User, error) {
	col := phoneColumn(role)
	query := `
		UPDATE users
		SET ` + col + ` = $2,
			` + col + `_verified = TRUE,
			active_roles = CASE WHEN $3::text = ANY(active_roles) THEN active_roles ELSE array_append(active_roles, $3::text) END,
			updated_at = $4
		WHERE id = $1 AND ` + col + ` IS NULL
		RETURNING ` + userColumns

	user, err := scanUser(r.db.DB.QueryRowContext(ctx, query, userID, phone, string(role), now))
	if err == nil {
		return user, nil
	}

	if isPhoneUniqueViolation(err) {
		return nil, fmt.Errorf("phone already registered as %s: %w", role, ErrDuplicatePhone)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to link role: %w", err)
	}

	// Either the user is gone or the slot was filled in the meantime.
	if _, getErr := r.GetByID(ctx, userID); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%s slot already taken for user %s: %w", role, userID, ErrConflict)
}
