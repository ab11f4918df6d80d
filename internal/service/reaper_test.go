package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prperemyshlev/servicehub-auth/internal/domain"
)

func TestReaper_Sweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reaper := NewReaper(f.sessions, f.tokens, f.policy.MaxCooldown, time.Minute, f.clock, nil)

	f.login(t, testPhone, domain.RoleConsumer)
	_, err := f.otp.SendOTP(ctx, "+2348111111111")
	require.NoError(t, err)

	// code expired but the send window is still open
	f.clock.Advance(30 * time.Minute)
	sessions, tokens, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, sessions)
	assert.Zero(t, tokens)

	f.clock.Advance(30 * time.Minute)
	sessions, _, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sessions)
	assert.Equal(t, 0, f.sessions.Len())

	f.clock.Advance(30 * 24 * time.Hour)
	_, tokens, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tokens)
	assert.Equal(t, 0, f.tokens.Len())
}

func TestReaper_KeepsBlockedSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reaper := NewReaper(f.sessions, f.tokens, f.policy.MaxCooldown, time.Minute, f.clock, nil)

	_, err := f.otp.SendOTP(ctx, testPhone)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = f.otp.VerifyOTP(ctx, testPhone, "0000", domain.RoleConsumer)
		require.Error(t, err)
	}

	f.clock.Advance(time.Hour - time.Second)
	sessions, _, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, sessions)

	f.clock.Advance(time.Second)
	sessions, _, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sessions)
}
