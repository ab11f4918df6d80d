package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prperemyshlev/servicehub-auth/internal/domain"
	"github.com/prperemyshlev/servicehub-auth/pkg/database"
)

const otpSessionColumns = `phone, otp_hash, expires_at, verify_attempts, send_count,
	first_sent_at, last_sent_at, blocked_until, version, created_at, updated_at`

// otpSessionRepository implements OtpSessionRepository on PostgreSQL
type otpSessionRepository struct {
	db *database.Postgres
}

// NewOtpSessionRepository creates a new OTP session repository
func NewOtpSessionRepository(db *database.Postgres) OtpSessionRepository {
	return &otpSessionRepository{db: db}
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getOtpSession(ctx context.Context, q queryRower, phone string) (*domain.OtpSession, error) {
	query := `SELECT ` + otpSessionColumns + ` FROM otp_sessions WHERE phone = $1`

	s := &domain.OtpSession{}
	var firstSentAt, lastSentAt, blockedUntil sql.NullTime

	err := q.QueryRowContext(ctx, query, phone).Scan(
		&s.Phone,
		&s.OtpHash,
		&s.ExpiresAt,
		&s.VerifyAttempts,
		&s.SendCount,
		&firstSentAt,
		&lastSentAt,
		&blockedUntil,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("otp session not found: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get otp session: %w", err)
	}

	s.FirstSentAt = nullableTime(firstSentAt)
	s.LastSentAt = nullableTime(lastSentAt)
	s.BlockedUntil = nullableTime(blockedUntil)

	return s, nil
}

func nullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// Get retrieves the session for phone
func (r *otpSessionRepository) Get(ctx context.Context, phone string) (*domain.OtpSession, error) {
	return getOtpSession(ctx, r.db.DB, phone)
}

// Apply serializes callers per phone with a transaction-scoped advisory lock.
// The lock is released on commit or rollback.
func (r *otpSessionRepository) Apply(ctx context.Context, phone string, fn OtpSessionFunc) error {
	tx, err := r.db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, phone); err != nil {
		return fmt.Errorf("failed to lock otp session: %w", err)
	}

	current, err := getOtpSession(ctx, tx, phone)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	change, fnErr := fn(current)

	switch {
	case change.Save != nil:
		if err := saveOtpSession(ctx, tx, current, change.Save); err != nil {
			return err
		}
	case change.Delete && current != nil:
		if _, err := tx.ExecContext(ctx, `DELETE FROM otp_sessions WHERE phone = $1`, phone); err != nil {
			return fmt.Errorf("failed to delete otp session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit otp session: %w", err)
	}

	return fnErr
}

func saveOtpSession(ctx context.Context, tx *sql.Tx, current, next *domain.OtpSession) error {
	query := `
		INSERT INTO otp_sessions (phone, otp_hash, expires_at, verify_attempts, send_count,
			first_sent_at, last_sent_at, blocked_until, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (phone) DO UPDATE
		SET otp_hash = EXCLUDED.otp_hash,
			expires_at = EXCLUDED.expires_at,
			verify_attempts = EXCLUDED.verify_attempts,
			send_count = EXCLUDED.send_count,
			first_sent_at = EXCLUDED.first_sent_at,
			last_sent_at = EXCLUDED.last_sent_at,
			blocked_until = EXCLUDED.blocked_until,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
	`

	next.Version = 1
	if current != nil {
		next.Version = current.Version + 1
	}

	now := time.Now().UTC()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = now
	}

	_, err := tx.ExecContext(ctx, query,
		next.Phone,
		next.OtpHash,
		next.ExpiresAt,
		next.VerifyAttempts,
		next.SendCount,
		next.FirstSentAt,
		next.LastSentAt,
		next.BlockedUntil,
		next.Version,
		next.CreatedAt,
		next.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save otp session: %w", err)
	}

	return nil
}

// DeleteStale removes sessions that carry no policy state any more: the code
// has expired, no block is active and nothing was sent within window.
func (r *otpSessionRepository) DeleteStale(ctx context.Context, now time.Time, window time.Duration) (int64, error) {
	query := `
		DELETE FROM otp_sessions
		WHERE expires_at <= $1
		  AND (blocked_until IS NULL OR blocked_until <= $1)
		  AND (last_sent_at IS NULL OR last_sent_at <= $2)
	`

	result, err := r.db.DB.ExecContext(ctx, query, now, now.Add(-window))
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale otp sessions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return n, nil
}
