package bootstrap

import (
	"trading_bot/internal/core"
	"trading_bot/pkg/logging"
)

// InitLogger builds the process logger from the configured level
func InitLogger(cfg *Config) (core.ILogger, error) {
	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, err
	}
	return logger.WithField("mode", cfg.App.Mode), nil
}
