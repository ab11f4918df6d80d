package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/prperemyshlev/servicehub-auth/internal/config"
	"github.com/prperemyshlev/servicehub-auth/internal/notification"
	"github.com/prperemyshlev/servicehub-auth/internal/repository"
	"github.com/prperemyshlev/servicehub-auth/internal/repository/docstore"
	"github.com/prperemyshlev/servicehub-auth/migrations"
	"github.com/prperemyshlev/servicehub-auth/pkg/database"
	"github.com/prperemyshlev/servicehub-auth/pkg/observability"
)

const serviceName = "servicehub-auth"

// Infrastructure owns every external connection the application uses.
type Infrastructure interface {
	Repositories() *repository.Repositories
	// StorePing checks the active store (PostgreSQL or MongoDB).
	StorePing(ctx context.Context) error
	Redis() *database.Redis
	SMS() notification.Sender
	Logger() *zap.Logger
	MetricsHandler() http.Handler
	MeterProvider() *metric.MeterProvider

	Shutdown(ctx context.Context) error
}

type infrastructure struct {
	postgres       *database.Postgres
	mongo          *database.Mongo
	repos          *repository.Repositories
	redis          *database.Redis
	sms            notification.Sender
	logger         *zap.Logger
	metricsHandler http.Handler
	meterProvider  *metric.MeterProvider
}

var _ Infrastructure = &infrastructure{}

func NewInfrastructure(ctx context.Context, cfg config.Config) (*infrastructure, error) {
	i := &infrastructure{}

	logger, err := observability.InitLogger(cfg.Env, serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	i.logger = logger

	if err := i.openStore(ctx, cfg); err != nil {
		return nil, err
	}

	redis, err := database.NewRedis(ctx, database.RedisOptions{
		Addr:        cfg.Redis.Address(),
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		DialTimeout: cfg.Redis.DialTimeout.Duration,
	})
	if err != nil {
		_ = i.closeStore(ctx)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	i.redis = redis

	meterProvider, metricsHandler, err := observability.InitTelemetry(serviceName)
	if err != nil {
		_ = i.closeStore(ctx)
		_ = i.redis.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	i.meterProvider = meterProvider
	i.metricsHandler = metricsHandler

	i.sms = newSender(cfg.SMS, logger)

	return i, nil
}

func (i *infrastructure) openStore(ctx context.Context, cfg config.Config) error {
	switch cfg.Storage.Driver {
	case config.StorageDriverMongo:
		mongo, err := database.NewMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Timeout.Duration)
		if err != nil {
			return fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		if err := docstore.EnsureIndexes(ctx, mongo.Database); err != nil {
			_ = mongo.Close(ctx)
			return fmt.Errorf("failed to create MongoDB indexes: %w", err)
		}
		i.mongo = mongo
		i.repos = docstore.NewRepositories(mongo)

	default:
		if cfg.Postgres.AutoMigrate {
			if err := database.Migrate(migrations.FS, cfg.Postgres.URL()); err != nil {
				return err
			}
			i.logger.Info("Database migrations applied")
		}
		postgres, err := database.NewPostgres(ctx, cfg.Postgres.DSN(), database.PostgresPool{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime.Duration,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		i.postgres = postgres
		i.repos = repository.NewRepositories(postgres)
	}

	i.logger.Info("Storage initialized", zap.String("driver", cfg.Storage.Driver))
	return nil
}

func (i *infrastructure) closeStore(ctx context.Context) error {
	if i.mongo != nil {
		return i.mongo.Close(ctx)
	}
	if i.postgres != nil {
		return i.postgres.Close()
	}
	return nil
}

func newSender(cfg config.SMSConfig, logger *zap.Logger) notification.Sender {
	var sender notification.Sender
	switch cfg.Driver {
	case config.SMSDriverTwilio:
		sender = notification.NewTwilioSender(
			cfg.Twilio.AccountSID,
			cfg.Twilio.AuthToken,
			cfg.Twilio.From,
			cfg.Twilio.BaseURL,
			cfg.Timeout.Duration,
		)
	default:
		sender = notification.NewLogSender(logger)
	}
	return notification.NewThrottledSender(sender, cfg.RatePerSecond, cfg.Burst)
}

func (i *infrastructure) Repositories() *repository.Repositories {
	return i.repos
}

func (i *infrastructure) StorePing(ctx context.Context) error {
	if i.mongo != nil {
		return i.mongo.Ping(ctx)
	}
	return i.postgres.Ping(ctx)
}

func (i *infrastructure) Redis() *database.Redis {
	return i.redis
}

func (i *infrastructure) SMS() notification.Sender {
	return i.sms
}

func (i *infrastructure) Logger() *zap.Logger {
	return i.logger
}

func (i *infrastructure) MetricsHandler() http.Handler {
	return i.metricsHandler
}

func (i *infrastructure) MeterProvider() *metric.MeterProvider {
	return i.meterProvider
}

func (i *infrastructure) Shutdown(ctx context.Context) error {
	errs := make(chan error, 3)

	go func() { errs <- i.closeStore(ctx) }()
	go func() { errs <- i.redis.Close() }()
	go func() { errs <- observability.Shutdown(ctx, i.meterProvider, i.logger) }()

	err := errors.Join(<-errs, <-errs, <-errs)

	// stderr sync fails on some terminals
	_ = i.logger.Sync()

	return err
}
