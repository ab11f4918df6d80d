package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/prperemyshlev/servicehub-auth/internal/domain"
)

const meterName = "github.com/prperemyshlev/servicehub-auth/internal/service"

// Metrics holds the domain counters exported on /metrics.
type Metrics struct {
	otpSent        metric.Int64Counter
	otpRejected    metric.Int64Counter
	otpVerify      metric.Int64Counter
	dispatchFailed metric.Int64Counter
	sessionIssued  metric.Int64Counter
	sessionRefresh metric.Int64Counter
}

// NewMetrics registers the counters on provider. A nil provider yields no-op counters.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	meter := provider.Meter(meterName)

	var m Metrics
	var err error
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.otpSent, "otp.sent", "One-time codes issued"},
		{&m.otpRejected, "otp.rejected", "Send or verify requests rejected by policy"},
		{&m.otpVerify, "otp.verify", "Code verification outcomes"},
		{&m.dispatchFailed, "otp.dispatch.failed", "SMS deliveries that failed"},
		{&m.sessionIssued, "session.issued", "Sessions issued per role"},
		{&m.sessionRefresh, "session.refresh", "Refresh outcomes"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	return &m, nil
}

// NopMetrics returns counters that record nothing.
func NopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

func (m *Metrics) OTPSent(ctx context.Context) {
	m.otpSent.Add(ctx, 1)
}

func (m *Metrics) OTPRejected(ctx context.Context, reason string) {
	m.otpRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) OTPVerify(ctx context.Context, result string) {
	m.otpVerify.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) DispatchFailed(ctx context.Context) {
	m.dispatchFailed.Add(ctx, 1)
}

func (m *Metrics) SessionIssued(ctx context.Context, role domain.Role) {
	m.sessionIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("role", string(role))))
}

func (m *Metrics) SessionRefresh(ctx context.Context, result string) {
	m.sessionRefresh.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
