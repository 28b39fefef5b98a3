package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"grid_bot/internal/modules/health/service"
	storage "grid_bot/internal/modules/storage/service"
)

// Register вешает /livez, /readyz и /healthz на роутер.
func Register(r gin.IRouter, state *service.State) {
	r.GET("/livez", func(c *gin.Context) {
		// liveness: процесс жив
		c.String(http.StatusOK, "ok")
	})

	r.GET("/readyz", func(c *gin.Context) {
		if !state.Ready() {
			c.String(http.StatusServiceUnavailable, "not ready")
			return
		}
		c.String(http.StatusOK, "ready")
	})

	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		checks, healthy := state.Check(ctx)

		resp := gin.H{
			"ready":     state.Ready(),
			"uptimeSec": int64(state.Uptime().Seconds()),
			"checks":    checks,
			"lastActionUnix": func() int64 {
				t := state.LastAction()
				if t.IsZero() {
					return 0
				}
				return t.Unix()
			}(),
		}
		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
		),
		fx.Invoke(func(lc fx.Lifecycle, state *service.State, store storage.Store) {
			state.AddCheck("storage", store.Ping)
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					state.SetReady(true)
					return nil
				},
				OnStop: func(context.Context) error {
					state.SetReady(false)
					return nil
				},
			})
		}),
	)
}
