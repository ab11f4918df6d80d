package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/prperemyshlev/servicehub-auth/internal/domain"
	"github.com/prperemyshlev/servicehub-auth/internal/repository"
)

type tokenRepository struct {
	coll *mongo.Collection
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db *mongo.Database) repository.TokenRepository {
	return &tokenRepository{coll: db.Collection(refreshTokensCollection)}
}

func prepareToken(token *domain.RefreshToken) {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
}

func (r *tokenRepository) Upsert(ctx context.Context, token *domain.RefreshToken) error {
	prepareToken(token)
	filter := bson.M{"user_id": token.UserID, "app_type": token.AppType}

	_, err := r.coll.ReplaceOne(ctx, filter, token, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert token: %w", err)
	}
	return nil
}

func (r *tokenRepository) findOne(ctx context.Context, filter bson.M) (*domain.RefreshToken, error) {
	var token domain.RefreshToken
	if err := r.coll.FindOne(ctx, filter).Decode(&token); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("token not found: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &token, nil
}

func (r *tokenRepository) GetByUserAndRole(ctx context.Context, userID string, role domain.Role) (*domain.RefreshToken, error) {
	return r.findOne(ctx, bson.M{"user_id": userID, "app_type": role})
}

func (r *tokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	return r.findOne(ctx, bson.M{"token_hash": tokenHash})
}

func (r *tokenRepository) Rotate(ctx context.Context, oldHash string, next *domain.RefreshToken) error {
	prepareToken(next)
	filter := bson.M{"user_id": next.UserID, "app_type": next.AppType, "token_hash": oldHash}

	res, err := r.coll.ReplaceOne(ctx, filter, next)
	if err != nil {
		return fmt.Errorf("failed to rotate token: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("token to rotate not found: %w", repository.ErrNotFound)
	}
	return nil
}

func (r *tokenRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"token_hash": tokenHash})
	if err != nil {
		return fmt.Errorf("failed to delete token by hash: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("token with hash not found: %w", repository.ErrNotFound)
	}
	return nil
}

func (r *tokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return res.DeletedCount, nil
}
