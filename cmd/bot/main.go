package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"grid_bot/internal/modules/api"
	"grid_bot/internal/modules/bootstrap"
	"grid_bot/internal/modules/bots"
	"grid_bot/internal/modules/config"
	"grid_bot/internal/modules/health"
	"grid_bot/internal/modules/heartbeat"
	"grid_bot/internal/modules/storage"
	telegram "grid_bot/internal/modules/telegram_bot"
)

func main() {
	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		config.Module(),
		storage.Module(),
		heartbeat.Module(),
		telegram.Module(),
		bots.Module(),
		health.Module(),
		api.Module(),
		bootstrap.Module(),
	)
	// Run ждёт SIGINT/SIGTERM и гасит модули в обратном порядке
	app.Run()
}
