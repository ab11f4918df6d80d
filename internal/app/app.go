package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/prperemyshlev/servicehub-auth/internal/clock"
	"github.com/prperemyshlev/servicehub-auth/internal/config"
	"github.com/prperemyshlev/servicehub-auth/internal/handler"
	"github.com/prperemyshlev/servicehub-auth/internal/otp"
	"github.com/prperemyshlev/servicehub-auth/internal/service"
	"github.com/prperemyshlev/servicehub-auth/internal/utils"
	"github.com/prperemyshlev/servicehub-auth/pkg/observability"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	infra      Infrastructure
	config     *config.Config
	router     *gin.Engine
	server     *http.Server
	otp        *service.OTPService
	reaper     *service.Reaper
	background sync.WaitGroup
}

// Options overrides collaborators of the application. Zero values select
// the production defaults.
type Options struct {
	Clock     clock.Clock
	Generator otp.Generator
}

func NewApp(infra Infrastructure, cfg *config.Config, opts ...Options) (*App, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.Generator == nil {
		o.Generator = otp.NewNumericGenerator(cfg.OTP.CodeLength)
	}

	logger := infra.Logger()
	repos := infra.Repositories()

	var provider otelmetric.MeterProvider
	if mp := infra.MeterProvider(); mp != nil {
		provider = mp
	}
	metrics, err := service.NewMetrics(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	tokenManager := utils.NewTokenManager(
		cfg.JWT.Access.Secret,
		cfg.JWT.Access.Expiry.Duration,
		cfg.JWT.Refresh.Secret,
		cfg.JWT.Refresh.Expiry.Duration,
		o.Clock,
	)

	blacklist := service.NewRedisTokenBlacklist(infra.Redis())
	rateLimiter := service.NewRateLimiter(infra.Redis(), o.Clock)
	healthChecker := NewHealthChecker(infra)

	sessions := service.NewSessionService(repos.Token, repos.User, tokenManager, blacklist, o.Clock, logger, metrics)

	policy := otp.Policy{
		CodeTTL:            cfg.OTP.Expiry.Duration,
		ResendCooldownBase: cfg.OTP.ResendCooldownBase.Duration,
		MaxCooldown:        cfg.OTP.MaxCooldown.Duration,
		MaxSendPerWindow:   cfg.OTP.MaxSendPerHour,
		MaxVerifyAttempts:  cfg.OTP.MaxVerifyAttempts,
		BlockDuration:      cfg.OTP.BlockDuration.Duration,
	}

	otpService := service.NewOTPService(service.OTPServiceDeps{
		Sessions:   repos.OtpSession,
		Identity:   service.NewIdentityResolver(repos.User, o.Clock),
		SessionMgr: sessions,
		Policy:     policy,
		Generator:  o.Generator,
		Hasher:     otp.NewBcryptHasher(cfg.OTP.HashCost),
		Sender:     infra.SMS(),
		SMSTimeout: cfg.SMS.Timeout.Duration,
		Clock:      o.Clock,
		Logger:     logger,
		Metrics:    metrics,
	})

	reaper := service.NewReaper(repos.OtpSession, repos.Token, policy.MaxCooldown, cfg.Cleanup.Interval.Duration, o.Clock, logger)

	authHandler := handler.NewAuthHandler(otpService, sessions, logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(handler.LoggerMiddleware(logger, "/health", "/metrics"))
	router.Use(handler.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders))

	router.GET("/metrics", observability.PrometheusHandler(infra.MetricsHandler()))
	router.GET("/health", healthChecker.Handler)

	handler.RegisterRoutes(router.Group("/api/v1"), authHandler, sessions, handler.RateLimit{
		Limiter:  rateLimiter,
		Requests: cfg.Security.RateLimitRequests,
		Window:   cfg.Security.RateLimitWindow.Duration,
	}, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}

	return &App{
		infra:  infra,
		config: cfg,
		router: router,
		server: srv,
		otp:    otpService,
		reaper: reaper,
	}, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Reaper exposes the cleanup job so tests can trigger a sweep.
func (a *App) Reaper() *service.Reaper {
	return a.reaper
}

// WaitDispatches blocks until queued SMS deliveries finish.
func (a *App) WaitDispatches() {
	a.otp.Wait()
}

func (a *App) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()

	a.background.Add(1)
	go func() {
		defer a.background.Done()
		a.reaper.Run(reaperCtx)
	}()

	go func() {
		a.infra.Logger().Info("Application starting",
			zap.String("host", a.config.Server.Host),
			zap.String("port", a.config.Server.Port),
			zap.String("storage", a.config.Storage.Driver),
		)

		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.infra.Logger().Error("Server error", zap.Error(err))
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case err := <-errChan:
		a.infra.Logger().Error("Application failed to start", zap.Error(err))
		serverErr = err
	case <-ctx.Done():
		a.infra.Logger().Info("Application stopped by context")
	}

	stopReaper()

	if err := a.Shutdown(); err != nil {
		a.infra.Logger().Error("Shutdown error", zap.Error(err))
		if serverErr != nil {
			return errors.Join(serverErr, err)
		}
		return err
	}

	return serverErr
}

func (a *App) Shutdown() error {
	a.infra.Logger().Info("Application shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	serverErr := a.server.Shutdown(ctx)

	// finish in-flight SMS deliveries and the reaper before closing stores
	a.otp.Wait()
	a.background.Wait()

	err := errors.Join(serverErr, a.infra.Shutdown(ctx))
	if err != nil {
		a.infra.Logger().Error("Shutdown failed", zap.Error(err))
		return err
	}

	a.infra.Logger().Info("Application exited successfully")
	return nil
}
