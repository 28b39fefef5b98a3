package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"grid_bot/internal/modules/config"
	"grid_bot/internal/modules/storage/service"
	"grid_bot/internal/modules/storage/service/memory"
	"grid_bot/internal/modules/storage/service/pg"
	"grid_bot/pkg/db"
)

// NewStore выбирает реализацию по storage.driver и применяет seed-файл.
func NewStore(ctx context.Context, lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (service.Store, error) {
	var store service.Store

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		poolMaster, err := db.NewPool(ctx, db.PoolConfig{
			DSN:         cfg.DB,
			AppName:     cfg.Service.Name,
			MaxConns:    cfg.Storage.MaxConns,
			HealthCheck: 30 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create poolMaster: %w", err)
		}
		if err = poolMaster.Ping(ctx); err != nil {
			poolMaster.Close()
			return nil, err
		}
		txm := db.NewPgTxManager(poolMaster)
		lc.Append(fx.StopHook(txm.Close))

		pgStore := pg.New(txm, log)
		if cfg.Storage.Migrate {
			if err := pgStore.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		store = pgStore
	default:
		memStore, err := memory.New(cfg.Storage.SnapshotPath)
		if err != nil {
			return nil, err
		}
		store = memStore
	}

	if cfg.Storage.SeedFile != "" {
		n, err := memory.LoadSeed(ctx, store, cfg.Storage.SeedFile)
		if err != nil {
			return nil, err
		}
		log.Info("seed loaded", zap.String("file", cfg.Storage.SeedFile), zap.Int("users", n))
	}
	log.Info("storage ready", zap.String("driver", cfg.Storage.Driver))
	return store, nil
}

func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(
			NewStore,
		),
	)
}
