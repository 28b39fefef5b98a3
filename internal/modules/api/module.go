package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"grid_bot/internal/modules/api/service"
	"grid_bot/internal/modules/config"
	healthsvc "grid_bot/internal/modules/health/service"
	storage "grid_bot/internal/modules/storage/service"
	"grid_bot/internal/supervisor"
)

func NewServer(cfg *config.Config, sup *supervisor.Supervisor, store storage.Store, state *healthsvc.State, log *zap.Logger) *service.Server {
	return service.NewServer(service.Config{
		AdminToken:  cfg.API.AdminToken,
		CORSOrigins: cfg.API.CORSOrigins,
		StatusPush:  cfg.API.StatusPush,
		Release:     !cfg.Log.Development,
	}, sup, store, state, log)
}

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, srv *service.Server, log *zap.Logger) {
	if !cfg.API.Enabled {
		log.Info("api disabled")
		return
	}
	httpSrv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.API.Addr)
			if err != nil {
				return err
			}
			log.Info("api listening", zap.String("addr", cfg.API.Addr))
			go func() {
				if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("api server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return httpSrv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("api",
		fx.Provide(
			NewServer,
		),
		fx.Invoke(RunHTTP),
	)
}
