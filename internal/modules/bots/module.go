package bots

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"grid_bot/internal/engine"
	"grid_bot/internal/exchange"
	"grid_bot/internal/modules/config"
	storage "grid_bot/internal/modules/storage/service"
	"grid_bot/internal/supervisor"
	"grid_bot/pkg/tracing"
)

func NewTracer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (opentracing.Tracer, error) {
	tracer, closeFn, err := tracing.InitTracer(cfg.Service.Name, cfg.Tracing)
	if err != nil {
		return nil, err
	}
	if cfg.Tracing.Enabled {
		log.Info("tracing enabled", zap.String("agent", cfg.Tracing.Host), zap.Int("port", cfg.Tracing.Port))
	}
	lc.Append(fx.StopHook(closeFn))
	return tracer, nil
}

func NewExchangeFactory(cfg *config.Config, log *zap.Logger) *exchange.Factory {
	return exchange.NewFactory(cfg.ExchangeOptions(), log)
}

func NewEngineFactory(ex *exchange.Factory, n engine.Notifier, store storage.Store, cfg *config.Config, log *zap.Logger) *engine.Factory {
	return engine.NewFactory(engine.FactoryDeps{
		Exchanges: ex,
		Notifier:  n,
		Trades:    store,
		Commands:  store,
		Logger:    log,
		Options:   cfg.EngineOptions(),
	})
}

// NewSupervisor трейсер в аргументах только ради порядка инициализации:
// спаны берутся из глобального трейсера.
func NewSupervisor(
	lc fx.Lifecycle,
	cfg *config.Config,
	store storage.Store,
	statuses supervisor.StatusStore,
	f *engine.Factory,
	_ opentracing.Tracer,
	log *zap.Logger,
) *supervisor.Supervisor {
	sup := supervisor.New(store, statuses, store, supervisor.FromEngine(f), cfg.Supervisor, log)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return sup.Shutdown(ctx)
		},
	})
	return sup
}

func Module() fx.Option {
	return fx.Module("bots",
		fx.Provide(
			NewTracer,
			NewExchangeFactory,
			NewEngineFactory,
			NewSupervisor,
		),
	)
}
