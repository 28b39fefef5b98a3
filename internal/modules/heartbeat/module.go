package heartbeat

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"grid_bot/internal/modules/config"
	"grid_bot/internal/modules/heartbeat/service"
	storage "grid_bot/internal/modules/storage/service"
	"grid_bot/internal/supervisor"
)

// NewStatusStore статусы запусков: хранилище плюс redis, если он включён.
func NewStatusStore(lc fx.Lifecycle, cfg *config.Config, store storage.Store, log *zap.Logger) supervisor.StatusStore {
	if !cfg.Redis.Enabled {
		return service.NewStatusStore(store, nil, log)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
			}
			log.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})
	return service.NewStatusStore(store, service.NewCache(rdb, cfg.Redis.Prefix, cfg.Redis.TTL), log)
}

func Module() fx.Option {
	return fx.Module("heartbeat",
		fx.Provide(
			NewStatusStore,
		),
	)
}
