package service

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prperemyshlev/servicehub-auth/internal/domain"
	"github.com/prperemyshlev/servicehub-auth/internal/otp"
	"github.com/prperemyshlev/servicehub-auth/internal/repository"
	"github.com/prperemyshlev/servicehub-auth/internal/repository/memory"
)

// rerunningSessions runs every Apply callback lost times before the attempt
// that commits, the way a version-checked store does after losing races.
type rerunningSessions struct {
	*memory.OtpSessionRepository
	lost int
}

func (r *rerunningSessions) Apply(ctx context.Context, phone string, fn repository.OtpSessionFunc) error {
	return r.OtpSessionRepository.Apply(ctx, phone, func(cur *domain.OtpSession) (repository.OtpSessionChange, error) {
		for i := 0; i < r.lost; i++ {
			_, _ = fn(cur.Clone())
		}
		return fn(cur)
	})
}

type countingHasher struct {
	otp.Hasher
	hashes   atomic.Int32
	compares atomic.Int32
}

func (h *countingHasher) Hash(code string) (string, error) {
	h.hashes.Add(1)
	return h.Hasher.Hash(code)
}

func (h *countingHasher) Compare(hash, code string) bool {
	h.compares.Add(1)
	return h.Hasher.Compare(hash, code)
}

type countingGenerator struct {
	otp.Generator
	calls atomic.Int32
}

func (g *countingGenerator) Generate() (string, error) {
	g.calls.Add(1)
	return g.Generator.Generate()
}

func newRerunningService(t *testing.T, f *fixture, lost int) (*OTPService, *countingHasher, *countingGenerator) {
	t.Helper()

	hasher := &countingHasher{Hasher: otp.NewBcryptHasher(4)}
	gen := &countingGenerator{Generator: fixedGenerator{code: testCode}}
	svc := NewOTPService(OTPServiceDeps{
		Sessions:   &rerunningSessions{OtpSessionRepository: f.sessions, lost: lost},
		Identity:   NewIdentityResolver(f.users, f.clock),
		SessionMgr: f.sessionMgr,
		Policy:     f.policy,
		Generator:  gen,
		Hasher:     hasher,
		Sender:     f.sender,
		Clock:      f.clock,
	})
	t.Cleanup(svc.Wait)
	return svc, hasher, gen
}

func TestSendOTP_RetriedCallbackHashesOnce(t *testing.T) {
	f := newFixture(t)
	svc, hasher, gen := newRerunningService(t, f, 3)
	ctx := context.Background()

	res, err := svc.SendOTP(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, int64(60), res.Cooldown)

	assert.Equal(t, int32(1), gen.calls.Load())
	assert.Equal(t, int32(1), hasher.hashes.Load())

	s, err := f.sessions.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 1, s.SendCount)
	assert.True(t, hasher.Hasher.Compare(s.OtpHash, testCode))
}

func TestVerifyOTP_RetriedCallbackComparesOnce(t *testing.T) {
	f := newFixture(t)
	svc, hasher, _ := newRerunningService(t, f, 3)
	ctx := context.Background()

	_, err := svc.SendOTP(ctx, testPhone)
	require.NoError(t, err)

	_, err = svc.VerifyOTP(ctx, testPhone, "0000", domain.RoleConsumer)
	requireKind(t, err, domain.KindInvalidCredential)
	assert.Equal(t, int32(1), hasher.compares.Load())

	s, err := f.sessions.Get(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 1, s.VerifyAttempts)

	res, err := svc.VerifyOTP(ctx, testPhone, testCode, domain.RoleConsumer)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Tokens.AccessToken)
	assert.Equal(t, int32(2), hasher.compares.Load())
}
