package bootstrap

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"grid_bot/internal/engine"
	bootstrap "grid_bot/internal/modules/bootstrap/service"
	"grid_bot/internal/modules/config"
	"grid_bot/internal/supervisor"
)

// Module перезапускает движки, помеченные running, после старта приложения.
func Module() fx.Option {
	return fx.Module("bootstrap",
		fx.Invoke(func(
			lc fx.Lifecycle,
			cfg *config.Config,
			sup *supervisor.Supervisor,
			statuses supervisor.StatusStore,
			n engine.Notifier,
			log *zap.Logger,
		) {
			if !cfg.Engine.ResumeOnStart {
				return
			}
			r := bootstrap.NewResumer(sup, statuses, n, cfg.Engine.ResumeParallel, log)
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					// ctx хука живёт только до конца старта, движкам нужен свой
					go func() {
						cnt, err := r.Resume(context.Background())
						if err != nil {
							log.Error("resume error", zap.Error(err))
							return
						}
						log.Info("resume done", zap.Int("engines", cnt))
					}()
					return nil
				},
			})
		}),
	)
}
