package observability

import (
	"fmt"

	"go.uber.org/zap"
)

// InitLogger initializes structured logger
func InitLogger(env, serviceName string) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	if env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger = logger.With(zap.String("service", serviceName))

	// Replace global logger
	zap.ReplaceGlobals(logger)

	return logger, nil
}
