package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"grid_bot/internal/exchange"
	"grid_bot/internal/models"
	"grid_bot/internal/ordertag"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// driveToMonitoring вход, TP/SL и сетка; позиция 1 @ 100.
func driveToMonitoring(t *testing.T, env *testEnv) {
	t.Helper()
	if err := env.engine.init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if env.engine.State() != StateNoPosition {
		t.Fatalf("state after init = %s", env.engine.State())
	}
	if err := env.step(t); err != nil {
		t.Fatalf("entry step: %v", err)
	}
	if env.engine.State() != StateLaddering {
		t.Fatalf("state after entry = %s", env.engine.State())
	}
	if err := env.step(t); err != nil {
		t.Fatalf("ladder step: %v", err)
	}
	if env.engine.State() != StateMonitoring {
		t.Fatalf("state after ladder = %s", env.engine.State())
	}
}

func TestEngineFullCycle(t *testing.T) {
	for _, repeat := range []bool{false, true} {
		cfg := testConfig()
		cfg.Repeat = repeat
		env := newTestEnv(t, cfg)
		driveToMonitoring(t, env)

		legs := placedWith(env.paper, ordertag.Leg)
		if len(legs) != 2 {
			t.Fatalf("legs placed = %d, want 2", len(legs))
		}
		if !near(legs[0].Price, 96) || !near(legs[0].Amount, 0.5) {
			t.Fatalf("leg 1 = %v x %v", legs[0].Price, legs[0].Amount)
		}
		if !near(legs[1].Price, 94.5) || !near(legs[1].Amount, 1) {
			t.Fatalf("leg 2 = %v x %v", legs[1].Price, legs[1].Amount)
		}

		// обе ступени исполнились, средняя 97
		env.paper.SetPrice(testSymbol, 94.5)
		if err := env.step(t); err != nil {
			t.Fatalf("monitor step: %v", err)
		}
		tps := placedWith(env.paper, ordertag.TakeProfit)
		if len(tps) != 2 {
			t.Fatalf("take-profits placed = %d, want 2", len(tps))
		}
		if !near(tps[0].Price, 101) || !near(tps[1].Price, 97.97) || !near(tps[1].Amount, 2.5) {
			t.Fatalf("take-profits = %v, %v x %v", tps[0].Price, tps[1].Price, tps[1].Amount)
		}

		// повторная итерация без движения средней ничего не переставляет
		if err := env.step(t); err != nil {
			t.Fatalf("idle step: %v", err)
		}
		if got := len(placedWith(env.paper, ordertag.TakeProfit)); got != 2 {
			t.Fatalf("take-profit re-placed without drift: %d", got)
		}

		env.paper.SetPrice(testSymbol, 98)
		err := env.step(t)
		if repeat {
			if err != nil {
				t.Fatalf("close step: %v", err)
			}
			if env.engine.State() != StateNoPosition {
				t.Fatalf("repeat on: state = %s", env.engine.State())
			}
		} else {
			if !errors.Is(err, errTerminated) {
				t.Fatalf("repeat off: err = %v", err)
			}
			if env.engine.State() != StateTerminated {
				t.Fatalf("repeat off: state = %s", env.engine.State())
			}
		}

		recs := env.trades.all()
		if len(recs) != 1 {
			t.Fatalf("trade records = %d", len(recs))
		}
		rec := recs[0]
		if !near(rec.Pnl, 2.425) || rec.PnlSource != PnlSourceExchange || !near(rec.ExitPrice, 97.97) || !near(rec.Size, 2.5) {
			t.Fatalf("trade record = %+v", rec)
		}
		if left := openOrders(t, env.paper); len(left) != 0 {
			t.Fatalf("orders left after close: %d", len(left))
		}
	}
}

func TestEngineSafetyStopKeepsForeignOrders(t *testing.T) {
	cfg := testConfig()
	cfg.Repeat = true
	env := newTestEnv(t, cfg)
	driveToMonitoring(t, env)

	foreign := env.paper.PlaceForeign(models.OrderRequest{
		Symbol: testSymbol, Type: models.OrderLimit, Side: models.Buy, Amount: 0.01, Price: 50,
	})

	err := env.step(t)
	if !errors.Is(err, errSafetyStop) {
		t.Fatalf("expected safety stop, got %v", err)
	}
	if env.engine.State() != StateSafetyStopped {
		t.Fatalf("state = %s", env.engine.State())
	}
	left := openOrders(t, env.paper)
	if len(left) != 1 || left[0].ID != foreign.ID {
		t.Fatalf("open orders after safety stop = %+v", left)
	}
}

func TestEngineGuardIgnoresForeignWhileSnoozed(t *testing.T) {
	cfg := testConfig()
	cfg.Repeat = true
	env := newTestEnv(t, cfg)
	driveToMonitoring(t, env)

	env.engine.guard.Snooze(time.Hour)
	env.paper.PlaceForeign(models.OrderRequest{
		Symbol: testSymbol, Type: models.OrderLimit, Side: models.Buy, Amount: 0.01, Price: 50,
	})
	if err := env.step(t); err != nil {
		t.Fatalf("step while snoozed: %v", err)
	}
}

func TestEngineGuardOffWithoutRepeat(t *testing.T) {
	env := newTestEnv(t, testConfig())
	driveToMonitoring(t, env)

	env.paper.PlaceForeign(models.OrderRequest{
		Symbol: testSymbol, Type: models.OrderLimit, Side: models.Buy, Amount: 0.01, Price: 50,
	})
	if err := env.step(t); err != nil {
		t.Fatalf("guard must not run with repeat off: %v", err)
	}
}

// lagging позиция не видна, пока hide=true
type lagging struct {
	*exchange.Paper
	hide bool
}

func (l *lagging) FetchPosition(ctx context.Context, symbol string, side models.PositionSide) (models.Position, error) {
	if l.hide {
		return models.Position{Symbol: symbol, Side: side}, nil
	}
	return l.Paper.FetchPosition(ctx, symbol, side)
}

func TestEngineEntryLockPreventsSecondEntry(t *testing.T) {
	paper := exchange.NewPaper(testMarket())
	paper.SetPrice(testSymbol, 100)
	ex := &lagging{Paper: paper, hide: true}

	env := newTestEnvWith(t, testConfig(), ex)
	env.engine.t.EntryLock = time.Hour
	if err := env.engine.init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := env.step(t); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if got := len(placedWith(paper, ordertag.Entry)); got != 1 {
		t.Fatalf("entry orders = %d, want 1", got)
	}
	if !env.engine.entryPending {
		t.Fatalf("entry must stay pending")
	}

	ex.hide = false
	if err := env.step(t); err != nil {
		t.Fatalf("step after fill: %v", err)
	}
	if env.engine.entryPending || env.engine.State() != StateLaddering {
		t.Fatalf("entry not picked up: pending=%v state=%s", env.engine.entryPending, env.engine.State())
	}
}

func TestEngineBelowMinimumEntryIsSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.Grids[0].Amount = 0.01 // 0.0001 BTC при минимуме 0.001
	env := newTestEnv(t, cfg)
	if err := env.engine.init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := env.step(t); err != nil {
		t.Fatalf("step: %v", err)
	}
	if got := len(placedWith(env.paper, ordertag.Entry)); got != 0 {
		t.Fatalf("entry below minimum was sent: %d", got)
	}
	if env.engine.State() != StateNoPosition {
		t.Fatalf("state = %s", env.engine.State())
	}
}

func TestEngineStopRepeatCommand(t *testing.T) {
	cfg := testConfig()
	cfg.Repeat = true
	env := newTestEnv(t, cfg)
	driveToMonitoring(t, env)

	env.commands.push(&models.Command{ID: "c1", Type: models.CommandStopRepeat})
	if err := env.step(t); err != nil {
		t.Fatalf("step: %v", err)
	}
	if env.engine.repeat {
		t.Fatalf("repeat still on")
	}
	if err, ok := env.commands.done["c1"]; !ok || err != nil {
		t.Fatalf("command not completed: %v %v", ok, err)
	}

	env.paper.SetPrice(testSymbol, 101)
	if err := env.step(t); !errors.Is(err, errTerminated) {
		t.Fatalf("expected termination after close, got %v", err)
	}
}

// assertRebuilt сетка и защита стоят сразу после итерации с пересборкой.
func assertRebuilt(t *testing.T, env *testEnv, wantLegs int) {
	t.Helper()
	if got := len(placedWith(env.paper, ordertag.Leg)); got != wantLegs {
		t.Fatalf("legs placed = %d, want %d", got, wantLegs)
	}
	if tp, sl := openWith(t, env.paper, ordertag.TakeProfit), openWith(t, env.paper, ordertag.StopLoss); tp != 1 || sl != 1 {
		t.Fatalf("protection after rebuild: tp=%d sl=%d", tp, sl)
	}
	if got := len(openOrders(t, env.paper)); got != 4 {
		t.Fatalf("open orders = %d, want 2 legs + TP + SL", got)
	}
}

func TestEngineSingleRefreshRebuildsOnce(t *testing.T) {
	env := newTestEnv(t, testConfig())
	driveToMonitoring(t, env)
	if got := len(placedWith(env.paper, ordertag.Leg)); got != 2 {
		t.Fatalf("legs before refresh = %d", got)
	}

	env.commands.push(&models.Command{ID: "s1", Type: models.CommandSingleRefresh})
	if err := env.step(t); err != nil {
		t.Fatalf("refresh step: %v", err)
	}
	if err, ok := env.commands.done["s1"]; !ok || err != nil {
		t.Fatalf("single refresh not completed: %v %v", ok, err)
	}
	assertRebuilt(t, env, 4)
	if env.engine.forceRefresh {
		t.Fatal("single refresh must not enable continuous mode")
	}

	if err := env.step(t); err != nil {
		t.Fatalf("monitor step: %v", err)
	}
	if got := len(placedWith(env.paper, ordertag.Leg)); got != 4 {
		t.Fatalf("legs after quiet step = %d, want 4", got)
	}
}

func TestEngineContinuousRefreshUntilCleared(t *testing.T) {
	env := newTestEnv(t, testConfig())
	driveToMonitoring(t, env)

	env.commands.push(&models.Command{ID: "r1", Type: models.CommandRefresh})
	if err := env.step(t); err != nil {
		t.Fatalf("refresh step: %v", err)
	}
	if err := env.commands.done["r1"]; err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	assertRebuilt(t, env, 4)

	// без новой команды сетка пересобирается снова
	if err := env.step(t); err != nil {
		t.Fatalf("continuous step: %v", err)
	}
	assertRebuilt(t, env, 6)

	env.commands.push(&models.Command{ID: "c1", Type: models.CommandClearRefresh})
	if err := env.step(t); err != nil {
		t.Fatalf("clear step: %v", err)
	}
	if err, ok := env.commands.done["c1"]; !ok || err != nil {
		t.Fatalf("clear not completed: %v %v", ok, err)
	}
	if env.engine.forceRefresh {
		t.Fatal("continuous mode still on")
	}
	if err := env.step(t); err != nil {
		t.Fatalf("monitor step: %v", err)
	}
	assertRebuilt(t, env, 6)
}

func TestEngineInitReconcilesExistingPosition(t *testing.T) {
	paper := exchange.NewPaper(testMarket())
	paper.SetPrice(testSymbol, 100)
	if _, err := paper.CreateOrder(context.Background(), models.OrderRequest{
		Symbol: testSymbol, Type: models.OrderMarket, Side: models.Buy, PositionSide: models.Long, Amount: 1,
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	env := newTestEnvWith(t, testConfig(), paper)
	if err := env.engine.init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if env.engine.State() != StateMonitoring {
		t.Fatalf("state = %s", env.engine.State())
	}
	tps := placedWith(paper, ordertag.TakeProfit)
	if len(tps) != 1 || !near(tps[0].Price, 101) {
		t.Fatalf("take-profit after restart = %+v", tps)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Leverage = 0
	env := newTestEnv(t, cfg)

	out, err := env.engine.Run(context.Background())
	var cfgErr *models.ConfigError
	if out != OutcomeFailed || !errors.As(err, &cfgErr) {
		t.Fatalf("Run = %s, %v", out, err)
	}
}

func TestRunStopCancelsOwnOrders(t *testing.T) {
	paper := exchange.NewPaper(testMarket())
	paper.SetPrice(testSymbol, 100)
	timing := testTiming()
	timing.CycleInterval = 5 * time.Millisecond
	e := New(testConfig(), paper, &memNotifier{}, &memTrades{}, nil, nil, zaptest.NewLogger(t), Options{Timing: timing})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() {
		out, _ := e.Run(ctx)
		done <- out
	}()

	deadline := time.Now().Add(5 * time.Second)
	for len(placedWith(paper, ordertag.Leg)) < 2 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("engine did not reach the grid")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case out := <-done:
		if out != OutcomeStopped {
			t.Fatalf("outcome = %s", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if left := openOrders(t, paper); len(left) != 0 {
		t.Fatalf("own orders left after stop: %d", len(left))
	}
}
