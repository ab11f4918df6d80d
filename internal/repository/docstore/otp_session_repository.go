package docstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/prperemyshlev/servicehub-auth/internal/domain"
	"github.com/prperemyshlev/servicehub-auth/internal/repository"
)

const (
	maxApplyAttempts = 10
	applyBackoff     = 5 * time.Millisecond
)

var errVersionMismatch = errors.New("otp session version mismatch")

type otpSessionRepository struct {
	coll *mongo.Collection
}

// NewOtpSessionRepository creates a new OTP session repository
func NewOtpSessionRepository(db *mongo.Database) repository.OtpSessionRepository {
	return &otpSessionRepository{coll: db.Collection(otpSessionsCollection)}
}

func (r *otpSessionRepository) Get(ctx context.Context, phone string) (*domain.OtpSession, error) {
	var s domain.OtpSession
	err := r.coll.FindOne(ctx, bson.M{"_id": phone}).Decode(&s)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("otp session not found: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get otp session: %w", err)
	}
	return &s, nil
}

// Apply retries the read-decide-write cycle until the write lands on the
// version it read. fn may therefore run more than once. Retries back off
// linearly with jitter so contending writers spread out.
func (r *otpSessionRepository) Apply(ctx context.Context, phone string, fn repository.OtpSessionFunc) error {
	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, retryDelay(attempt)); err != nil {
				return err
			}
		}

		current, err := r.Get(ctx, phone)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		change, fnErr := fn(current.Clone())

		err = r.commit(ctx, phone, current, change)
		if errors.Is(err, errVersionMismatch) {
			continue
		}
		if err != nil {
			return err
		}
		return fnErr
	}

	return fmt.Errorf("otp session for %s: %w", phone, repository.ErrConcurrentUpdate)
}

func retryDelay(attempt int) time.Duration {
	base := time.Duration(attempt) * applyBackoff
	return base + rand.N(applyBackoff)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *otpSessionRepository) commit(ctx context.Context, phone string, current *domain.OtpSession, change repository.OtpSessionChange) error {
	switch {
	case change.Save != nil:
		next := change.Save
		next.Phone = phone
		if next.UpdatedAt.IsZero() {
			next.UpdatedAt = time.Now().UTC()
		}

		if current == nil {
			next.Version = 1
			if next.CreatedAt.IsZero() {
				next.CreatedAt = next.UpdatedAt
			}
			if _, err := r.coll.InsertOne(ctx, next); err != nil {
				if mongo.IsDuplicateKeyError(err) {
					return errVersionMismatch
				}
				return fmt.Errorf("failed to insert otp session: %w", err)
			}
			return nil
		}

		next.Version = current.Version + 1
		res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": phone, "version": current.Version}, next)
		if err != nil {
			return fmt.Errorf("failed to replace otp session: %w", err)
		}
		if res.MatchedCount == 0 {
			return errVersionMismatch
		}
		return nil

	case change.Delete && current != nil:
		res, err := r.coll.DeleteOne(ctx, bson.M{"_id": phone, "version": current.Version})
		if err != nil {
			return fmt.Errorf("failed to delete otp session: %w", err)
		}
		if res.DeletedCount == 0 {
			return errVersionMismatch
		}
	}

	return nil
}

func (r *otpSessionRepository) DeleteStale(ctx context.Context, now time.Time, window time.Duration) (int64, error) {
	filter := bson.M{
		"expires_at": bson.M{"$lte": now},
		"$and": bson.A{
			bson.M{"$or": bson.A{
				bson.M{"blocked_until": nil},
				bson.M{"blocked_until": bson.M{"$lte": now}},
			}},
			bson.M{"$or": bson.A{
				bson.M{"last_sent_at": nil},
				bson.M{"last_sent_at": bson.M{"$lte": now.Add(-window)}},
			}},
		},
	}

	res, err := r.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale otp sessions: %w", err)
	}
	return res.DeletedCount, nil
}
