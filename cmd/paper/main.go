// Command paper гоняет одного пользователя на paper-бирже со случайным блужданием цены.
package main

import (
	"context"
	"errors"
	"flag"
	"math/rand/v2"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"grid_bot/internal/exchange"
	"grid_bot/internal/models"
	"grid_bot/internal/modules/api"
	"grid_bot/internal/modules/bots"
	"grid_bot/internal/modules/config"
	"grid_bot/internal/modules/health"
	"grid_bot/internal/modules/heartbeat"
	"grid_bot/internal/modules/storage"
	storagesvc "grid_bot/internal/modules/storage/service"
	telegram "grid_bot/internal/modules/telegram_bot"
	"grid_bot/internal/supervisor"
)

type walkFlags struct {
	userID int64
	symbol string
	side   string
	price  float64
	step   float64
	every  time.Duration
}

func main() {
	var wf walkFlags
	flag.Int64Var(&wf.userID, "user", 1, "user id")
	flag.StringVar(&wf.symbol, "symbol", "BTCUSDT", "paper symbol")
	flag.StringVar(&wf.side, "side", string(models.Long), "long | short")
	flag.Float64Var(&wf.price, "price", 60000, "start price")
	flag.Float64Var(&wf.step, "step", 0.003, "max price move per tick, fraction")
	flag.DurationVar(&wf.every, "every", time.Second, "tick interval")
	flag.Parse()

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		// инструмент для paper-биржи добавляем, если его нет в конфиге
		fx.Decorate(func(cfg *config.Config) *config.Config {
			for _, pm := range cfg.Exchange.PaperMarkets {
				if pm.Symbol == wf.symbol {
					return cfg
				}
			}
			cfg.Exchange.PaperMarkets = append(cfg.Exchange.PaperMarkets, config.PaperMarket{
				Symbol:   wf.symbol,
				TickSize: 0.1,
				StepSize: 0.001,
				MinQty:   0.001,
				Price:    wf.price,
			})
			return cfg
		}),
		storage.Module(),
		heartbeat.Module(),
		telegram.Module(),
		bots.Module(),
		health.Module(),
		api.Module(),
		fx.Invoke(func(lc fx.Lifecycle, store storagesvc.Store, sup *supervisor.Supervisor, ex *exchange.Factory, log *zap.Logger) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(startCtx context.Context) error {
					if err := ensureUser(startCtx, store, wf); err != nil {
						return err
					}
					res, err := sup.Start(ctx, wf.userID)
					if err != nil && !errors.Is(err, supervisor.ErrAlreadyRunning) {
						return err
					}
					log.Info("paper run", zap.String("status", res.Status), zap.String("run_id", res.RunID))
					go walk(ctx, ex.PaperFor(wf.userID), wf, log)
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
		}),
	)
	app.Run()
}

func ensureUser(ctx context.Context, store storagesvc.Store, wf walkFlags) error {
	_, err := store.LoadSettings(ctx, wf.userID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return err
	}
	return store.SaveSettings(ctx, models.UserSettings{
		UserID:        wf.userID,
		ChatID:        wf.userID,
		Name:          "paper",
		Exchange:      models.ExchangePaper,
		Symbol:        wf.symbol,
		Side:          models.PositionSide(wf.side),
		TakeProfitPct: 5,
		Leverage:      5,
		Rounds:        3,
		Repeat:        true,
		Grids: []models.GridLeg{
			{Amount: 10},
			{Amount: 10, GapPct: 1},
			{Amount: 20, GapPct: 1.5},
		},
	})
}

// walk двигает цену на случайный шаг в пределах ±step.
func walk(ctx context.Context, p *exchange.Paper, wf walkFlags, log *zap.Logger) {
	t := time.NewTicker(wf.every)
	defer t.Stop()
	px := wf.price
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		px *= 1 + (rand.Float64()*2-1)*wf.step
		p.SetPrice(wf.symbol, px)
		if i%30 == 0 {
			log.Debug("paper price", zap.String("symbol", wf.symbol), zap.Float64("price", px))
		}
	}
}
