package telegram

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"grid_bot/internal/engine"
	"grid_bot/internal/modules/config"
	storage "grid_bot/internal/modules/storage/service"
	"grid_bot/internal/modules/telegram_bot/service"
	"grid_bot/internal/supervisor"
)

// Bot nil, если telegram выключен.
type Bot struct {
	API *tgbot.BotAPI
}

func NewBot(cfg *config.Config) (Bot, error) {
	if !cfg.Telegram.Enabled {
		return Bot{}, nil
	}
	b, err := tgbot.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return Bot{}, fmt.Errorf("telegram: %w", err)
	}
	return Bot{API: b}, nil
}

func NewNotifier(lc fx.Lifecycle, bot Bot, cfg *config.Config, log *zap.Logger) *service.Notifier {
	var n *service.Notifier
	if bot.API != nil {
		n = service.NewNotifier(bot.API, cfg.Telegram.QueueSize, log)
	} else {
		n = service.NewNotifier(nil, cfg.Telegram.QueueSize, log)
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			n.Run()
			return nil
		},
		OnStop: n.Stop,
	})
	return n
}

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(
			NewBot,
			NewNotifier,
			func(n *service.Notifier) engine.Notifier { return n },
		),
		// команды оператора поднимаются только с токеном
		fx.Invoke(
			func(lc fx.Lifecycle, bot Bot, cfg *config.Config, sup *supervisor.Supervisor, store storage.Store, log *zap.Logger) {
				if bot.API == nil {
					log.Info("telegram disabled")
					return
				}
				t := service.NewTelegram(bot.API, sup, store, cfg.Telegram.AdminIDs, log)
				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						t.Start(ctx)
						return nil
					},
					OnStop: func(ctx context.Context) error {
						t.Stop()
						return nil
					},
				})
			},
		),
	)
}
