package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prperemyshlev/servicehub-auth/internal/clock"
	"github.com/prperemyshlev/servicehub-auth/internal/domain"
	"github.com/prperemyshlev/servicehub-auth/internal/otp"
	"github.com/prperemyshlev/servicehub-auth/internal/repository/memory"
	"github.com/prperemyshlev/servicehub-auth/internal/utils"
)

const (
	testPhone = "+2348000000000"
	testCode  = "1234"
)

var testStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixedGenerator struct {
	code string
}

func (g fixedGenerator) Generate() (string, error) {
	return g.code, nil
}

type sentMessage struct {
	phone   string
	message string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *recordingSender) Send(_ context.Context, phone, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{phone: phone, message: message})
	return "test-delivery", nil
}

func (s *recordingSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type fakeBlacklist struct {
	mu      sync.Mutex
	revoked map[string]time.Duration
}

func newFakeBlacklist() *fakeBlacklist {
	return &fakeBlacklist{revoked: make(map[string]time.Duration)}
}

func (b *fakeBlacklist) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[jti] = ttl
	return nil
}

func (b *fakeBlacklist) IsRevoked(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.revoked[jti]
	return ok, nil
}

type fixture struct {
	clock      *clock.Fake
	sessions   *memory.OtpSessionRepository
	users      *memory.UserRepository
	tokens     *memory.TokenRepository
	sender     *recordingSender
	blacklist  *fakeBlacklist
	tokenMgr   *utils.TokenManager
	sessionMgr SessionManager
	otp        *OTPService
	policy     otp.Policy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock:     clock.NewFake(testStart),
		sessions:  memory.NewOtpSessionRepository(),
		users:     memory.NewUserRepository(),
		tokens:    memory.NewTokenRepository(),
		sender:    &recordingSender{},
		blacklist: newFakeBlacklist(),
		policy: otp.Policy{
			CodeTTL:            10 * time.Minute,
			ResendCooldownBase: 60 * time.Second,
			MaxCooldown:        10 * time.Minute,
			MaxSendPerWindow:   5,
			MaxVerifyAttempts:  3,
			BlockDuration:      time.Hour,
		},
	}

	f.tokenMgr = utils.NewTokenManager(
		"access-secret-key-that-is-at-least-32-chars", 15*time.Minute,
		"refresh-secret-key-that-is-at-least-32-chars", 30*24*time.Hour,
		f.clock,
	)
	f.sessionMgr = NewSessionService(f.tokens, f.users, f.tokenMgr, f.blacklist, f.clock, nil, nil)
	f.otp = NewOTPService(OTPServiceDeps{
		Sessions:   f.sessions,
		Identity:   NewIdentityResolver(f.users, f.clock),
		SessionMgr: f.sessionMgr,
		Policy:     f.policy,
		Generator:  fixedGenerator{code: testCode},
		Hasher:     otp.NewBcryptHasher(4),
		Sender:     f.sender,
		Clock:      f.clock,
	})
	t.Cleanup(f.otp.Wait)

	return f
}

// login runs send and verify for phone as role.
func (f *fixture) login(t *testing.T, phone string, role domain.Role) *AuthResult {
	t.Helper()
	ctx := context.Background()

	_, err := f.otp.SendOTP(ctx, phone)
	require.NoError(t, err)
	res, err := f.otp.VerifyOTP(ctx, phone, testCode, role)
	require.NoError(t, err)
	return res
}

func requireKind(t *testing.T, err error, kind domain.Kind) *domain.Error {
	t.Helper()
	require.Error(t, err)
	de, ok := domain.AsError(err)
	require.True(t, ok, "expected *domain.Error, got %T: %v", err, err)
	require.Equal(t, kind, de.Kind, "unexpected kind: %v", err)
	return de
}
