package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/prperemyshlev/servicehub-auth/internal/domain"
	"github.com/prperemyshlev/servicehub-auth/internal/repository"
	"github.com/prperemyshlev/servicehub-auth/pkg/database"
)

const testPhone = "+2348000000000"

type StoreSuite struct {
	suite.Suite
	mongo *database.Mongo
	repos *repository.Repositories
	ctx   context.Context
}

func TestStoreSuite(t *testing.T) {
	if os.Getenv("MONGO_URI") == "" {
		t.Skip("set MONGO_URI to run against a local MongoDB")
	}
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.ctx = context.Background()
	name := fmt.Sprintf("servicehub_auth_test_%d", time.Now().UnixNano())

	m, err := database.NewMongo(s.ctx, os.Getenv("MONGO_URI"), name, 10*time.Second)
	s.Require().NoError(err)
	s.mongo = m
	s.repos = NewRepositories(m)
}

func (s *StoreSuite) TearDownSuite() {
	if s.mongo == nil {
		return
	}
	_ = s.mongo.Database.Drop(s.ctx)
	_ = s.mongo.Close(s.ctx)
}

func (s *StoreSuite) SetupTest() {
	s.Require().NoError(s.mongo.Database.Drop(s.ctx))
	s.Require().NoError(EnsureIndexes(s.ctx, s.mongo.Database))
}

func sentAt(t time.Time) *time.Time { return &t }

func (s *StoreSuite) TestApply_CreateUpdateDelete() {
	sessions := s.repos.OtpSession
	now := time.Now().UTC().Truncate(time.Millisecond)

	err := sessions.Apply(s.ctx, testPhone, func(cur *domain.OtpSession) (repository.OtpSessionChange, error) {
		s.Nil(cur)
		return repository.OtpSessionChange{Save: &domain.OtpSession{
			OtpHash:     "h1",
			ExpiresAt:   now.Add(10 * time.Minute),
			SendCount:   1,
			FirstSentAt: sentAt(now),
			LastSentAt:  sentAt(now),
		}}, nil
	})
	s.Require().NoError(err)

	got, err := sessions.Get(s.ctx, testPhone)
	s.Require().NoError(err)
	s.Equal(int64(1), got.Version)
	s.Equal("h1", got.OtpHash)

	err = sessions.Apply(s.ctx, testPhone, func(cur *domain.OtpSession) (repository.OtpSessionChange, error) {
		s.Require().NotNil(cur)
		next := cur.Clone()
		next.OtpHash = "h2"
		next.SendCount++
		return repository.OtpSessionChange{Save: next}, nil
	})
	s.Require().NoError(err)

	got, err = sessions.Get(s.ctx, testPhone)
	s.Require().NoError(err)
	s.Equal(int64(2), got.Version)
	s.Equal(2, got.SendCount)
	s.Equal("h2", got.OtpHash)

	err = sessions.Apply(s.ctx, testPhone, func(*domain.OtpSession) (repository.OtpSessionChange, error) {
		return repository.OtpSessionChange{Delete: true}, nil
	})
	s.Require().NoError(err)

	_, err = sessions.Get(s.ctx, testPhone)
	s.ErrorIs(err, repository.ErrNotFound)
}

func (s *StoreSuite) TestApply_CommitsChangeAlongsideError() {
	sessions := s.repos.OtpSession
	rejected := errors.New("rejected")

	err := sessions.Apply(s.ctx, testPhone, func(*domain.OtpSession) (repository.OtpSessionChange, error) {
		until := time.Now().UTC().Add(time.Hour)
		return repository.OtpSessionChange{Save: &domain.OtpSession{BlockedUntil: &until}}, rejected
	})
	s.ErrorIs(err, rejected)

	got, err := sessions.Get(s.ctx, testPhone)
	s.Require().NoError(err)
	s.NotNil(got.BlockedUntil)
}

func (s *StoreSuite) TestApply_ConcurrentWritersLinearize() {
	sessions := s.repos.OtpSession

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- sessions.Apply(s.ctx, testPhone, func(cur *domain.OtpSession) (repository.OtpSessionChange, error) {
				next := cur.Clone()
				if next == nil {
					next = &domain.OtpSession{}
				}
				next.SendCount++
				return repository.OtpSessionChange{Save: next}, nil
			})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		s.NoError(err)
	}

	got, err := sessions.Get(s.ctx, testPhone)
	s.Require().NoError(err)
	s.Equal(workers, got.SendCount)
	s.Equal(int64(workers), got.Version)
}

func (s *StoreSuite) TestApply_GivesUpWhenVersionKeepsMoving() {
	sessions := s.repos.OtpSession
	coll := s.mongo.Database.Collection(otpSessionsCollection)

	s.Require().NoError(sessions.Apply(s.ctx, testPhone, func(*domain.OtpSession) (repository.OtpSessionChange, error) {
		return repository.OtpSessionChange{Save: &domain.OtpSession{SendCount: 1}}, nil
	}))

	calls := 0
	err := sessions.Apply(s.ctx, testPhone, func(cur *domain.OtpSession) (repository.OtpSessionChange, error) {
		calls++
		_, err := coll.UpdateOne(s.ctx, bson.M{"_id": testPhone}, bson.M{"$inc": bson.M{"version": 1}})
		s.Require().NoError(err)

		next := cur.Clone()
		next.SendCount++
		return repository.OtpSessionChange{Save: next}, nil
	})
	s.ErrorIs(err, repository.ErrConcurrentUpdate)
	s.Equal(maxApplyAttempts, calls)

	got, err := sessions.Get(s.ctx, testPhone)
	s.Require().NoError(err)
	s.Equal(1, got.SendCount)
}

func (s *StoreSuite) TestApply_StaleDeleteIsRetried() {
	sessions := s.repos.OtpSession
	coll := s.mongo.Database.Collection(otpSessionsCollection)

	s.Require().NoError(sessions.Apply(s.ctx, testPhone, func(*domain.OtpSession) (repository.OtpSessionChange, error) {
		return repository.OtpSessionChange{Save: &domain.OtpSession{SendCount: 1}}, nil
	}))

	calls := 0
	err := sessions.Apply(s.ctx, testPhone, func(*domain.OtpSession) (repository.OtpSessionChange, error) {
		calls++
		if calls == 1 {
			_, err := coll.UpdateOne(s.ctx, bson.M{"_id": testPhone}, bson.M{"$inc": bson.M{"version": 1}})
			s.Require().NoError(err)
		}
		return repository.OtpSessionChange{Delete: true}, nil
	})
	s.Require().NoError(err)
	s.Equal(2, calls)

	_, err = sessions.Get(s.ctx, testPhone)
	s.ErrorIs(err, repository.ErrNotFound)
}

func (s *StoreSuite) newConsumer(phone string) *domain.User {
	u := &domain.User{
		ConsumerPhone:         &phone,
		ConsumerPhoneVerified: true,
		ActiveRoles:           []domain.Role{domain.RoleConsumer},
	}
	s.Require().NoError(s.repos.User.Create(s.ctx, u))
	return u
}

func (s *StoreSuite) TestUser_CreateRejectsDuplicatePhone() {
	s.newConsumer(testPhone)

	p := testPhone
	err := s.repos.User.Create(s.ctx, &domain.User{ConsumerPhone: &p})
	s.ErrorIs(err, repository.ErrDuplicatePhone)

	got, err := s.repos.User.GetByPhone(s.ctx, domain.RoleConsumer, testPhone)
	s.Require().NoError(err)
	s.Equal(testPhone, got.PhoneFor(domain.RoleConsumer))

	_, err = s.repos.User.GetByPhone(s.ctx, domain.RoleProvider, testPhone)
	s.ErrorIs(err, repository.ErrNotFound)
}

func (s *StoreSuite) TestUser_LinkRoleFillsEmptySlotOnce() {
	users := s.repos.User
	u := s.newConsumer(testPhone)
	now := time.Now().UTC()

	linked, err := users.LinkRole(s.ctx, u.ID, domain.RoleProvider, testPhone, now)
	s.Require().NoError(err)
	s.Equal(testPhone, linked.PhoneFor(domain.RoleProvider))
	s.True(linked.ProviderPhoneVerified)
	s.ElementsMatch([]domain.Role{domain.RoleConsumer, domain.RoleProvider}, linked.ActiveRoles)

	_, err = users.LinkRole(s.ctx, u.ID, domain.RoleProvider, "+2348000000001", now)
	s.ErrorIs(err, repository.ErrConflict)

	_, err = users.LinkRole(s.ctx, "missing", domain.RoleProvider, testPhone, now)
	s.ErrorIs(err, repository.ErrNotFound)
}

func (s *StoreSuite) TestUser_LinkRoleRejectsPhoneHeldByAnotherUser() {
	users := s.repos.User
	first := s.newConsumer(testPhone)
	second := s.newConsumer("+2348000000001")
	now := time.Now().UTC()

	_, err := users.LinkRole(s.ctx, first.ID, domain.RoleProvider, testPhone, now)
	s.Require().NoError(err)

	_, err = users.LinkRole(s.ctx, second.ID, domain.RoleProvider, testPhone, now)
	s.ErrorIs(err, repository.ErrDuplicatePhone)
}

func (s *StoreSuite) TestToken_UpsertKeepsOnePerUserAndRole() {
	tokens := s.repos.Token
	expires := time.Now().UTC().Add(time.Hour)

	s.Require().NoError(tokens.Upsert(s.ctx, &domain.RefreshToken{
		UserID: "u1", AppType: domain.RoleConsumer, TokenHash: "first", ExpiresAt: expires,
	}))
	s.Require().NoError(tokens.Upsert(s.ctx, &domain.RefreshToken{
		UserID: "u1", AppType: domain.RoleConsumer, TokenHash: "second", ExpiresAt: expires,
	}))
	s.Require().NoError(tokens.Upsert(s.ctx, &domain.RefreshToken{
		UserID: "u1", AppType: domain.RoleProvider, TokenHash: "provider", ExpiresAt: expires,
	}))

	got, err := tokens.GetByUserAndRole(s.ctx, "u1", domain.RoleConsumer)
	s.Require().NoError(err)
	s.Equal("second", got.TokenHash)

	_, err = tokens.GetByTokenHash(s.ctx, "first")
	s.ErrorIs(err, repository.ErrNotFound)

	count, err := s.mongo.Database.Collection(refreshTokensCollection).CountDocuments(s.ctx, bson.M{"user_id": "u1"})
	s.Require().NoError(err)
	s.Equal(int64(2), count)
}

func (s *StoreSuite) TestToken_RotateRequiresCurrentHash() {
	tokens := s.repos.Token
	expires := time.Now().UTC().Add(time.Hour)

	s.Require().NoError(tokens.Upsert(s.ctx, &domain.RefreshToken{
		UserID: "u1", AppType: domain.RoleConsumer, TokenHash: "current", ExpiresAt: expires,
	}))

	err := tokens.Rotate(s.ctx, "stale", &domain.RefreshToken{
		UserID: "u1", AppType: domain.RoleConsumer, TokenHash: "next", ExpiresAt: expires,
	})
	s.ErrorIs(err, repository.ErrNotFound)

	err = tokens.Rotate(s.ctx, "current", &domain.RefreshToken{
		UserID: "u1", AppType: domain.RoleConsumer, TokenHash: "next", ExpiresAt: expires,
	})
	s.Require().NoError(err)

	got, err := tokens.GetByUserAndRole(s.ctx, "u1", domain.RoleConsumer)
	s.Require().NoError(err)
	s.Equal("next", got.TokenHash)

	s.Require().NoError(tokens.DeleteByTokenHash(s.ctx, "next"))
	s.ErrorIs(tokens.DeleteByTokenHash(s.ctx, "next"), repository.ErrNotFound)
}

func (s *StoreSuite) TestToken_DeleteExpired() {
	tokens := s.repos.Token
	now := time.Now().UTC()

	s.Require().NoError(tokens.Upsert(s.ctx, &domain.RefreshToken{
		UserID: "u1", AppType: domain.RoleConsumer, TokenHash: "old", ExpiresAt: now.Add(-time.Minute),
	}))
	s.Require().NoError(tokens.Upsert(s.ctx, &domain.RefreshToken{
		UserID: "u2", AppType: domain.RoleConsumer, TokenHash: "live", ExpiresAt: now.Add(time.Hour),
	}))

	n, err := tokens.DeleteExpired(s.ctx, now)
	s.Require().NoError(err)
	// the TTL monitor may already have removed the expired token
	s.LessOrEqual(n, int64(1))

	_, err = tokens.GetByTokenHash(s.ctx, "live")
	s.NoError(err)
	_, err = tokens.GetByTokenHash(s.ctx, "old")
	s.ErrorIs(err, repository.ErrNotFound)
}

func (s *StoreSuite) TestDeleteStale() {
	sessions := s.repos.OtpSession
	now := time.Now().UTC()
	old := now.Add(-2 * time.Hour)

	s.Require().NoError(sessions.Apply(s.ctx, testPhone, func(*domain.OtpSession) (repository.OtpSessionChange, error) {
		return repository.OtpSessionChange{Save: &domain.OtpSession{
			ExpiresAt: old.Add(10 * time.Minute), SendCount: 1, FirstSentAt: &old, LastSentAt: &old,
		}}, nil
	}))
	s.Require().NoError(sessions.Apply(s.ctx, "+2348000000001", func(*domain.OtpSession) (repository.OtpSessionChange, error) {
		return repository.OtpSessionChange{Save: &domain.OtpSession{
			ExpiresAt: now.Add(10 * time.Minute), SendCount: 1, FirstSentAt: &now, LastSentAt: &now,
		}}, nil
	}))

	n, err := sessions.DeleteStale(s.ctx, now, time.Hour)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	_, err = sessions.Get(s.ctx, testPhone)
	s.ErrorIs(err, repository.ErrNotFound)
	_, err = sessions.Get(s.ctx, "+2348000000001")
	s.NoError(err)
}
