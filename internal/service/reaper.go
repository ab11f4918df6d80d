package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/prperemyshlev/servicehub-auth/internal/clock"
	"github.com/prperemyshlev/servicehub-auth/internal/otp"
	"github.com/prperemyshlev/servicehub-auth/internal/repository"
)

// Reaper periodically removes OTP sessions and refresh tokens that can no
// longer influence any decision.
type Reaper struct {
	sessions repository.OtpSessionRepository
	tokens   repository.TokenRepository
	window   time.Duration
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger
}

// NewReaper creates a reaper. A session is kept while any of its expiry,
// block or the longer of the send window and maxCooldown since the last
// send is still in the future.
func NewReaper(
	sessions repository.OtpSessionRepository,
	tokens repository.TokenRepository,
	maxCooldown, interval time.Duration,
	clk clock.Clock,
	logger *zap.Logger,
) *Reaper {
	window := otp.SendWindow
	if maxCooldown > window {
		window = maxCooldown
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{
		sessions: sessions,
		tokens:   tokens,
		window:   window,
		interval: interval,
		clock:    clk,
		logger:   logger,
	}
}

// Sweep runs a single cleanup pass.
func (r *Reaper) Sweep(ctx context.Context) (sessions, tokens int64, err error) {
	now := r.clock.Now()

	sessions, err = r.sessions.DeleteStale(ctx, now, r.window)
	if err != nil {
		return 0, 0, err
	}
	tokens, err = r.tokens.DeleteExpired(ctx, now)
	if err != nil {
		return sessions, 0, err
	}
	return sessions, tokens, nil
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions, tokens, err := r.Sweep(ctx)
			if err != nil {
				r.logger.Error("Cleanup sweep failed", zap.Error(err))
				continue
			}
			if sessions > 0 || tokens > 0 {
				r.logger.Info("Cleanup sweep finished",
					zap.Int64("otp_sessions", sessions),
					zap.Int64("refresh_tokens", tokens),
				)
			}
		}
	}
}
