// Package otp holds the one-time passcode policy engine and code primitives.
// Nothing in here performs I/O; the callers persist whatever the decisions ask for.
package otp

import (
	"time"

	"github.com/prperemyshlev/servicehub-auth/internal/domain"
)

// SendWindow is the length of the rolling window that MaxSendPerWindow applies to.
const SendWindow = time.Hour

// Rejection reasons.
const (
	ReasonBlocked         = "blocked"
	ReasonCooldown        = "cooldown"
	ReasonRateLimited     = "rate-limit-exceeded"
	ReasonNoSession       = "no-session"
	ReasonExpired         = "expired"
	ReasonTooManyAttempts = "too-many-attempts"
)

type Policy struct {
	CodeTTL            time.Duration
	ResendCooldownBase time.Duration
	MaxCooldown        time.Duration
	MaxSendPerWindow   int
	MaxVerifyAttempts  int
	BlockDuration      time.Duration
}

// Decision is the outcome of a policy check.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
	// Block asks the caller to persist blockedUntil = now + BlockDuration
	// before reporting the rejection.
	Block bool
	// ResetWindow tells the caller the rolling window has elapsed and the
	// next issuance starts a new one.
	ResetWindow bool
}

func allow(reset bool) Decision {
	return Decision{Allowed: true, ResetWindow: reset}
}

func reject(reason string, retryAfter time.Duration) Decision {
	return Decision{Reason: reason, RetryAfter: retryAfter}
}

// Cooldown returns the minimum gap that must follow the n-th send in a window.
func (p Policy) Cooldown(sendCount int) time.Duration {
	if sendCount < 0 {
		sendCount = 0
	}
	d := p.ResendCooldownBase * time.Duration(sendCount)
	if d > p.MaxCooldown {
		return p.MaxCooldown
	}
	return d
}

func (p Policy) windowElapsed(s *domain.OtpSession, now time.Time) bool {
	return s.FirstSentAt == nil || now.Sub(*s.FirstSentAt) >= SendWindow
}

// RemainingCooldown is the wait before the next send would pass the cooldown
// check. It ignores blocks and the hourly cap. Once the send window has
// elapsed the next send starts a fresh sequence, so there is nothing to wait for.
func (p Policy) RemainingCooldown(s *domain.OtpSession, now time.Time) time.Duration {
	if s == nil || s.LastSentAt == nil || p.windowElapsed(s, now) {
		return 0
	}
	wait := p.Cooldown(s.SendCount) - now.Sub(*s.LastSentAt)
	if wait < 0 {
		return 0
	}
	return wait
}

// CanSend decides whether a new code may be issued for the session.
// A nil session means the phone has never requested a code.
func (p Policy) CanSend(s *domain.OtpSession, now time.Time) Decision {
	if s.IsBlocked(now) {
		return reject(ReasonBlocked, s.BlockedUntil.Sub(now))
	}
	if s == nil {
		return allow(true)
	}
	if p.windowElapsed(s, now) {
		return allow(true)
	}
	if wait := p.RemainingCooldown(s, now); wait > 0 {
		return reject(ReasonCooldown, wait)
	}
	if s.SendCount >= p.MaxSendPerWindow {
		d := reject(ReasonRateLimited, p.BlockDuration)
		d.Block = true
		return d
	}
	return allow(false)
}

// CanVerify decides whether a code comparison may be attempted. The caller
// performs the comparison itself when the decision allows it.
func (p Policy) CanVerify(s *domain.OtpSession, now time.Time) Decision {
	if s.IsBlocked(now) {
		return reject(ReasonBlocked, s.BlockedUntil.Sub(now))
	}
	if s == nil {
		return reject(ReasonNoSession, 0)
	}
	if !now.Before(s.ExpiresAt) {
		return reject(ReasonExpired, 0)
	}
	if s.VerifyAttempts >= p.MaxVerifyAttempts {
		d := reject(ReasonTooManyAttempts, p.BlockDuration)
		d.Block = true
		return d
	}
	return allow(false)
}

// Issue applies an allowed send decision to s (nil for a first send) and
// returns the updated session. The hash of the new code replaces any previous one.
func (p Policy) Issue(s *domain.OtpSession, d Decision, phone, codeHash string, now time.Time) *domain.OtpSession {
	next := s.Clone()
	if next == nil {
		next = &domain.OtpSession{Phone: phone, CreatedAt: now}
	}
	if d.ResetWindow {
		first := now
		next.FirstSentAt = &first
		next.SendCount = 1
	} else {
		next.SendCount++
	}
	last := now
	next.LastSentAt = &last
	next.BlockedUntil = nil
	next.OtpHash = codeHash
	next.ExpiresAt = now.Add(p.CodeTTL)
	next.VerifyAttempts = 0
	next.UpdatedAt = now
	return next
}

// BlockedUntil returns the block deadline for a decision with Block set.
func (p Policy) BlockedUntil(now time.Time) time.Time {
	return now.Add(p.BlockDuration)
}
