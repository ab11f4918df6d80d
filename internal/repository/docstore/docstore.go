// Package docstore implements the repository interfaces on MongoDB.
// Per-phone OTP writes use an optimistic version check instead of row locks.
package docstore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/prperemyshlev/servicehub-auth/internal/repository"
	"github.com/prperemyshlev/servicehub-auth/pkg/database"
)

const (
	usersCollection         = "users"
	otpSessionsCollection   = "otp_sessions"
	refreshTokensCollection = "refresh_tokens"
)

// NewRepositories creates the MongoDB repositories
func NewRepositories(db *database.Mongo) *repository.Repositories {
	return &repository.Repositories{
		User:       NewUserRepository(db.Database),
		Token:      NewTokenRepository(db.Database),
		OtpSession: NewOtpSessionRepository(db.Database),
	}
}

// EnsureIndexes creates the unique and TTL indexes the repositories rely on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	hasString := func(field string) *options.IndexOptions {
		return options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{field: bson.M{"$type": "string"}})
	}

	indexes := map[string][]mongo.IndexModel{
		usersCollection: {
			{Keys: bson.D{{Key: "consumer_phone", Value: 1}}, Options: hasString("consumer_phone")},
			{Keys: bson.D{{Key: "provider_phone", Value: 1}}, Options: hasString("provider_phone")},
		},
		refreshTokensCollection: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "app_type", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "token_hash", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		},
		otpSessionsCollection: {
			{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		},
	}

	for name, models := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", name, err)
		}
	}

	return nil
}
