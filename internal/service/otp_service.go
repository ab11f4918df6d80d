package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prperemyshlev/servicehub-auth/internal/clock"
	"github.com/prperemyshlev/servicehub-auth/internal/domain"
	"github.com/prperemyshlev/servicehub-auth/internal/notification"
	"github.com/prperemyshlev/servicehub-auth/internal/otp"
	"github.com/prperemyshlev/servicehub-auth/internal/repository"
	"github.com/prperemyshlev/servicehub-auth/internal/utils"
)

// OTPService issues and verifies one-time codes. Every read-decide-write
// cycle for a phone runs inside OtpSessionRepository.Apply.
type OTPService struct {
	sessions   repository.OtpSessionRepository
	identity   IdentityResolver
	sessionMgr SessionManager
	policy     otp.Policy
	generator  otp.Generator
	hasher     otp.Hasher
	sender     notification.Sender
	smsTimeout time.Duration
	clock      clock.Clock
	logger     *zap.Logger
	metrics    *Metrics

	dispatches sync.WaitGroup
}

// OTPServiceDeps groups the collaborators of OTPService.
type OTPServiceDeps struct {
	Sessions   repository.OtpSessionRepository
	Identity   IdentityResolver
	SessionMgr SessionManager
	Policy     otp.Policy
	Generator  otp.Generator
	Hasher     otp.Hasher
	Sender     notification.Sender
	SMSTimeout time.Duration
	Clock      clock.Clock
	Logger     *zap.Logger
	Metrics    *Metrics
}

// NewOTPService creates a new OTP service
func NewOTPService(deps OTPServiceDeps) *OTPService {
	s := &OTPService{
		sessions:   deps.Sessions,
		identity:   deps.Identity,
		sessionMgr: deps.SessionMgr,
		policy:     deps.Policy,
		generator:  deps.Generator,
		hasher:     deps.Hasher,
		sender:     deps.Sender,
		smsTimeout: deps.SMSTimeout,
		clock:      deps.Clock,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = NopMetrics()
	}
	if s.smsTimeout <= 0 {
		s.smsTimeout = 10 * time.Second
	}
	return s
}

var _ OTPAuthService = (*OTPService)(nil)

// SendOTP issues a code for phone, creating its session on first use.
func (s *OTPService) SendOTP(ctx context.Context, phone string) (*OTPSendResult, error) {
	return s.issue(ctx, phone, false)
}

// ResendOTP behaves like SendOTP but requires an existing session.
func (s *OTPService) ResendOTP(ctx context.Context, phone string) (*OTPSendResult, error) {
	return s.issue(ctx, phone, true)
}

func (s *OTPService) issue(ctx context.Context, phone string, requireSession bool) (*OTPSendResult, error) {
	if phone == "" {
		return nil, domain.NewMissingParameter("Phone number is required")
	}

	// Stores with optimistic concurrency may run the callback more than once.
	// The code and its digest are produced at most once per request.
	var code, codeHash string
	var issued *domain.OtpSession

	err := s.sessions.Apply(ctx, phone, func(cur *domain.OtpSession) (repository.OtpSessionChange, error) {
		now := s.clock.Now()

		if requireSession && cur == nil {
			return repository.OtpSessionChange{}, domain.NewResourceNotFound(msgNoSession)
		}

		d := s.policy.CanSend(cur, now)
		if !d.Allowed {
			rejection := s.sendRejection(d)
			if d.Block {
				return repository.OtpSessionChange{Save: s.blocked(cur, now)}, rejection
			}
			return repository.OtpSessionChange{}, rejection
		}

		if codeHash == "" {
			c, err := s.generator.Generate()
			if err != nil {
				return repository.OtpSessionChange{}, fmt.Errorf("failed to generate code: %w", err)
			}
			h, err := s.hasher.Hash(c)
			if err != nil {
				return repository.OtpSessionChange{}, err
			}
			code, codeHash = c, h
		}

		issued = s.policy.Issue(cur, d, phone, codeHash, now)
		return repository.OtpSessionChange{Save: issued}, nil
	})
	if err != nil {
		if de, ok := domain.AsError(err); ok && de.Reason != "" {
			s.metrics.OTPRejected(ctx, de.Reason)
		}
		return nil, internalOr(err, "failed to issue OTP")
	}

	s.metrics.OTPSent(ctx)
	s.dispatch(phone, code)

	message := "OTP sent successfully"
	if requireSession {
		message = "OTP resent successfully"
	}

	return &OTPSendResult{
		Message:  message,
		Cooldown: domain.CeilSeconds(s.policy.Cooldown(issued.SendCount)),
	}, nil
}

func (s *OTPService) sendRejection(d otp.Decision) error {
	if d.Reason == otp.ReasonCooldown {
		msg := fmt.Sprintf("Please wait %s before requesting another code", domain.FormatWait(d.RetryAfter))
		return domain.NewTooManyAttempts(msg, d.Reason, d.RetryAfter)
	}
	return domain.NewTooManyAttempts(msgTooManyAttempts, d.Reason, d.RetryAfter)
}

func (s *OTPService) blocked(cur *domain.OtpSession, now time.Time) *domain.OtpSession {
	next := cur.Clone()
	until := s.policy.BlockedUntil(now)
	next.BlockedUntil = &until
	next.UpdatedAt = now
	return next
}

// dispatch delivers the code in the background. The session is already
// committed, so a failed or slow delivery only gets logged.
func (s *OTPService) dispatch(phone, code string) {
	message := notification.OTPMessage(code, s.policy.CodeTTL)

	s.dispatches.Add(1)
	go func() {
		defer s.dispatches.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.smsTimeout)
		defer cancel()

		id, err := s.sender.Send(ctx, phone, message)
		if err != nil {
			s.metrics.DispatchFailed(ctx)
			s.logger.Warn("OTP dispatch failed",
				zap.String("phone", utils.MaskPhone(phone)),
				zap.Error(err),
			)
			return
		}

		s.logger.Info("OTP dispatched",
			zap.String("phone", utils.MaskPhone(phone)),
			zap.String("delivery_id", id),
		)
	}()
}

// Wait blocks until in-flight deliveries finish.
func (s *OTPService) Wait() {
	s.dispatches.Wait()
}

// GetCooldown returns the whole seconds until phone may request another code.
// An active block is reported as its remaining duration.
func (s *OTPService) GetCooldown(ctx context.Context, phone string) (int64, error) {
	if phone == "" {
		return 0, domain.NewMissingParameter("Phone number is required")
	}

	session, err := s.sessions.Get(ctx, phone)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, nil
		}
		return 0, domain.NewInternal("failed to load OTP session", err)
	}

	now := s.clock.Now()
	if session.IsBlocked(now) {
		return domain.CeilSeconds(session.BlockedUntil.Sub(now)), nil
	}
	return domain.CeilSeconds(s.policy.RemainingCooldown(session, now)), nil
}

// VerifyOTP checks code for phone. On success the session is consumed and a
// token pair scoped to role is issued for the resolved identity.
func (s *OTPService) VerifyOTP(ctx context.Context, phone, code string, role domain.Role) (*AuthResult, error) {
	if phone == "" || code == "" || role == "" {
		return nil, domain.NewMissingParameter("Phone, OTP, and App Type are required")
	}
	if !role.Valid() {
		return nil, domain.NewMissingParameter("App Type must be consumer or provider")
	}

	var (
		compared     bool
		comparedHash string
		matched      bool
	)
	err := s.sessions.Apply(ctx, phone, func(cur *domain.OtpSession) (repository.OtpSessionChange, error) {
		now := s.clock.Now()

		d := s.policy.CanVerify(cur, now)
		if !d.Allowed {
			switch d.Reason {
			case otp.ReasonBlocked:
				return repository.OtpSessionChange{}, domain.NewTooManyAttempts(msgTooManyAttempts, d.Reason, d.RetryAfter)
			case otp.ReasonTooManyAttempts:
				return repository.OtpSessionChange{Save: s.blocked(cur, now)},
					domain.NewTooManyAttempts(msgTooManyAttempts, d.Reason, d.RetryAfter)
			default:
				// no session and expired code look the same as a wrong code
				e := domain.NewInvalidCredential(msgInvalidCode)
				e.Reason = d.Reason
				return repository.OtpSessionChange{}, e
			}
		}

		if !compared || cur.OtpHash != comparedHash {
			matched = s.hasher.Compare(cur.OtpHash, code)
			compared, comparedHash = true, cur.OtpHash
		}
		if !matched {
			next := cur.Clone()
			next.VerifyAttempts++
			next.UpdatedAt = now
			if next.VerifyAttempts >= s.policy.MaxVerifyAttempts {
				until := s.policy.BlockedUntil(now)
				next.BlockedUntil = &until
			}
			e := domain.NewInvalidCredential(msgInvalidCode)
			e.Reason = "mismatch"
			return repository.OtpSessionChange{Save: next}, e
		}

		return repository.OtpSessionChange{Delete: true}, nil
	})
	if err != nil {
		if de, ok := domain.AsError(err); ok && de.Reason != "" {
			s.metrics.OTPVerify(ctx, de.Reason)
		}
		return nil, internalOr(err, "failed to verify OTP")
	}
	s.metrics.OTPVerify(ctx, "success")

	user, err := s.identity.Resolve(ctx, phone, role)
	if err != nil {
		return nil, internalOr(err, "failed to resolve identity")
	}

	tokens, err := s.sessionMgr.Issue(ctx, user, role)
	if err != nil {
		return nil, internalOr(err, "failed to issue session")
	}

	s.logger.Info("OTP verified",
		zap.String("phone", utils.MaskPhone(phone)),
		zap.String("user_id", user.ID),
		zap.String("role", string(role)),
	)

	return &AuthResult{Tokens: tokens, User: user}, nil
}
