// Package notification delivers one-time codes to phones.
package notification

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/prperemyshlev/servicehub-auth/internal/utils"
)

// Sender delivers a text message and returns the provider's delivery id.
type Sender interface {
	Send(ctx context.Context, phone, message string) (string, error)
}

// OTPMessage renders the SMS body for a code.
func OTPMessage(code string, ttl time.Duration) string {
	return fmt.Sprintf("Your ServiceHub code is: %s. It expires in %d minutes.", code, int(ttl.Minutes()))
}

// LogSender writes messages to the log instead of delivering them.
// Only meant for development; the log line contains the code.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, phone, message string) (string, error) {
	id := "log-" + utils.MaskPhone(phone)
	s.logger.Info("SMS (log driver)",
		zap.String("to", utils.MaskPhone(phone)),
		zap.String("message", message),
	)
	return id, nil
}

// ThrottledSender caps the outbound message rate of the wrapped sender.
type ThrottledSender struct {
	next    Sender
	limiter *rate.Limiter
}

func NewThrottledSender(next Sender, perSecond float64, burst int) *ThrottledSender {
	if burst < 1 {
		burst = 1
	}
	return &ThrottledSender{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (s *ThrottledSender) Send(ctx context.Context, phone, message string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("sms throttle: %w", err)
	}
	return s.next.Send(ctx, phone, message)
}
