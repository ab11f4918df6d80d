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

type userRepository struct {
	coll *mongo.Collection
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *mongo.Database) repository.UserRepository {
	return &userRepository{coll: db.Collection(usersCollection)}
}

func phoneField(role domain.Role) string {
	if role == domain.RoleProvider {
		return "provider_phone"
	}
	return "consumer_phone"
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
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

	if _, err := r.coll.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("user phone already registered: %w", repository.ErrDuplicatePhone)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *userRepository) findOne(ctx context.Context, filter bson.M, what string) (*domain.User, error) {
	var user domain.User
	if err := r.coll.FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s not found: %w", what, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	return &user, nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"_id": id}, "user "+id)
}

func (r *userRepository) GetByPhone(ctx context.Context, role domain.Role, phone string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{phoneField(role): phone}, string(role)+" user")
}

func (r *userRepository) LinkRole(ctx context.Context, userID string, role domain.Role, phone string, now time.Time) (*domain.User, error) {
	field := phoneField(role)
	filter := bson.M{"_id": userID, field: nil}
	update := bson.M{
		"$set": bson.M{
			field:               phone,
			field + "_verified": true,
			"updated_at":        now,
		},
		"$addToSet": bson.M{"active_roles": role},
	}

	var user domain.User
	err := r.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&user)
	if err == nil {
		return &user, nil
	}

	if mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("phone already registered as %s: %w", role, repository.ErrDuplicatePhone)
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to link role: %w", err)
	}

	if _, getErr := r.GetByID(ctx, userID); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%s slot already taken for user %s: %w", role, userID, repository.ErrConflict)
}
