package config

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"grid_bot/pkg/logger"
)

// NewLogger логгер процесса по секции log.
func NewLogger(cfg *Config) (*zap.Logger, error) {
	logger.SetServiceName(cfg.Service.Name)
	return logger.New(cfg.Log)
}

func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
			NewLogger,
		),
	)
}
