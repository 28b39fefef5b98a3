package engine

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"grid_bot/internal/exchange"
	"grid_bot/internal/models"
	"grid_bot/internal/ordertag"
)

func TestPlanLegs(t *testing.T) {
	cfg := testConfig()
	cfg.Grids = []models.GridLeg{{Amount: 100}, {Amount: 100, GapPct: 2}, {Amount: 100, GapPct: 3}}

	plan := PlanLegs(cfg, testMarket(), 100)
	if len(plan) != 2 {
		t.Fatalf("plan = %+v", plan)
	}
	if plan[0].N != 1 || !near(plan[0].Price, 98) {
		t.Fatalf("leg 1 = %+v", plan[0])
	}
	if plan[1].N != 2 || !near(plan[1].Price, 95.06) {
		t.Fatalf("leg 2 = %+v", plan[1])
	}

	cfg.Side = models.Short
	plan = PlanLegs(cfg, testMarket(), 100)
	if !near(plan[0].Price, 102) || !near(plan[1].Price, 105.06) {
		t.Fatalf("short plan = %+v", plan)
	}
}

func TestPlanLegsRespectsRoundsAndMinimum(t *testing.T) {
	cfg := testConfig()
	cfg.Grids = []models.GridLeg{{Amount: 100}, {Amount: 0.01, GapPct: 2}, {Amount: 100, GapPct: 3}, {Amount: 100, GapPct: 5}}
	cfg.Rounds = 3

	plan := PlanLegs(cfg, testMarket(), 100)
	if len(plan) != 1 {
		t.Fatalf("plan = %+v", plan)
	}
	// пропущенная ступень не сдвигает опорную цену
	if plan[0].N != 2 || !near(plan[0].Price, 97) {
		t.Fatalf("leg = %+v", plan[0])
	}
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) add(d time.Duration) { c.t = c.t.Add(d) }

func (c *fakeClock) at(d time.Duration) time.Time { return c.t.Add(d) }

func TestGuardUnexplained(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	reg := NewRegistry()
	g := NewGuard(reg, 5*time.Second, 0, clock.now(), clock.now)

	mine := models.Order{ID: "1", Price: 10, CreatedAt: clock.at(time.Second)}
	reg.Register(mine, "")
	orders := []models.Order{
		mine,
		{ID: "2", Price: 10, CreatedAt: clock.at(time.Second), ClientRefs: map[string]string{"clientOrderId": "bot_tp_7_btcusdt"}},
		{ID: "3", Price: 101.04, CreatedAt: clock.at(time.Second)},
		{ID: "4", StopPrice: 89.97, CreatedAt: clock.at(time.Second)},
		{ID: "5", Price: 10, CreatedAt: clock.at(-time.Minute)},
		{ID: "6", Price: 10},
		{ID: "7", Price: 10, CreatedAt: clock.at(time.Second), ClientRefs: map[string]string{"clientOrderId": "manual-1"}},
		{ID: "8", Price: 101.06, CreatedAt: clock.at(time.Second)},
	}

	bad := g.Unexplained(orders, Expected{TakeProfit: 101, StopLoss: 90}, 0.01)
	if len(bad) != 2 || bad[0].ID != "7" || bad[1].ID != "8" {
		t.Fatalf("unexplained = %+v", bad)
	}
}

func TestGuardSnoozeAndInterval(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	g := NewGuard(NewRegistry(), 5*time.Second, 5, clock.now(), clock.now)

	if !g.Due() {
		t.Fatalf("first check must be due")
	}
	g.Snooze(15 * time.Second)
	g.Snooze(time.Second) // короче текущей паузы, не сокращает её
	clock.add(10 * time.Second)
	if g.Due() {
		t.Fatalf("due while snoozed")
	}
	clock.add(6 * time.Second)
	if !g.Due() {
		t.Fatalf("not due after snooze")
	}

	p := exchange.NewPaper(testMarket())
	if _, err := g.Check(context.Background(), p, testSymbol, Expected{}, 0.01); err != nil {
		t.Fatalf("Check: %v", err)
	}
	clock.add(2 * time.Second)
	if g.Due() {
		t.Fatalf("due before interval elapsed")
	}
	clock.add(3 * time.Second)
	if !g.Due() {
		t.Fatalf("not due after interval")
	}
}

func seedOrders(t *testing.T, p *exchange.Paper, n int) []models.Order {
	t.Helper()
	var out []models.Order
	for i := 0; i < n; i++ {
		out = append(out, p.PlaceForeign(models.OrderRequest{
			Symbol: testSymbol, Type: models.OrderLimit, Side: models.Buy, Amount: 0.01, Price: float64(50 + i),
		}))
	}
	return out
}

func TestHardCancelRetriesAfterFailedCancel(t *testing.T) {
	p := exchange.NewPaper(testMarket())
	p.SetPrice(testSymbol, 100)
	seedOrders(t, p, 1)
	p.IgnoreCancelAll(true)
	p.FailNextCancels(1)

	ok, err := HardCancel(context.Background(), p, testSymbol, CancelOptions{Retries: 3}, zaptest.NewLogger(t))
	if err != nil || !ok {
		t.Fatalf("HardCancel = %v, %v", ok, err)
	}
	if left := openOrders(t, p); len(left) != 0 {
		t.Fatalf("orders left: %d", len(left))
	}
}

func TestHardCancelReportsFailure(t *testing.T) {
	p := exchange.NewPaper(testMarket())
	p.SetPrice(testSymbol, 100)
	seedOrders(t, p, 2)
	p.IgnoreCancelAll(true)
	p.FailNextCancels(100)

	ok, err := HardCancel(context.Background(), p, testSymbol, CancelOptions{Retries: 2}, zaptest.NewLogger(t))
	if err != nil || ok {
		t.Fatalf("HardCancel = %v, %v; want false, nil", ok, err)
	}
}

func TestHardCancelFilterLeavesOthers(t *testing.T) {
	p := exchange.NewPaper(testMarket())
	p.SetPrice(testSymbol, 100)
	foreign := seedOrders(t, p, 1)[0]
	if _, err := p.CreateOrder(context.Background(), models.OrderRequest{
		Symbol: testSymbol, Type: models.OrderLimit, Side: models.Buy, Amount: 0.01, Price: 60,
		Tag: ordertag.MakeLeg(1, 7, testSymbol),
	}); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	ok, err := HardCancel(context.Background(), p, testSymbol, CancelOptions{Retries: 1, Filter: ordertag.Owned}, zaptest.NewLogger(t))
	if err != nil || !ok {
		t.Fatalf("HardCancel = %v, %v", ok, err)
	}
	left := openOrders(t, p)
	if len(left) != 1 || left[0].ID != foreign.ID {
		t.Fatalf("left = %+v", left)
	}
}

func newTestReconciler(t *testing.T, p *exchange.Paper) *Reconciler {
	t.Helper()
	return NewReconciler(p, testConfig(), testMarket(), zaptest.NewLogger(t))
}

func openLong(t *testing.T, p *exchange.Paper, qty float64) {
	t.Helper()
	if _, err := p.CreateOrder(context.Background(), models.OrderRequest{
		Symbol: testSymbol, Type: models.OrderMarket, Side: models.Buy, PositionSide: models.Long, Amount: qty,
	}); err != nil {
		t.Fatalf("open position: %v", err)
	}
}

func TestEnsureTakeProfitWithoutPosition(t *testing.T) {
	p := exchange.NewPaper(testMarket())
	p.SetPrice(testSymbol, 100)

	rep, err := newTestReconciler(t, p).EnsureTakeProfitExists(context.Background())
	if err != nil {
		t.Fatalf("EnsureTakeProfitExists: %v", err)
	}
	if len(rep.Actions) != 0 || len(rep.Placed) != 0 || rep.Kept != nil {
		t.Fatalf("report = %+v", rep)
	}
	if len(p.Placed()) != 0 {
		t.Fatalf("orders placed without position")
	}
}

func TestEnsureTakeProfitIsIdempotent(t *testing.T) {
	p := exchange.NewPaper(testMarket())
	p.SetPrice(testSymbol, 100)
	openLong(t, p, 1)
	r := newTestReconciler(t, p)

	rep, err := r.EnsureTakeProfitExists(context.Background())
	if err != nil || len(rep.Placed) != 1 || !near(rep.Placed[0].Price, 101) {
		t.Fatalf("first call = %+v, %v", rep, err)
	}
	rep, err = r.EnsureTakeProfitExists(context.Background())
	if err != nil || len(rep.Placed) != 0 || rep.Kept == nil {
		t.Fatalf("second call = %+v, %v", rep, err)
	}
	if got := len(placedWith(p, ordertag.TakeProfit)); got != 1 {
		t.Fatalf("take-profits placed = %d", got)
	}
}

func TestEnsureTakeProfitReplacesStale(t *testing.T) {
	p := exchange.NewPaper(testMarket())
	p.SetPrice(testSymbol, 100)
	openLong(t, p, 1)
	// без тега и слишком близко к входу
	stale := p.PlaceForeign(models.OrderRequest{
		Symbol: testSymbol, Type: models.OrderLimit, Side: models.Sell, PositionSide: models.Long,
		Amount: 1, Price: 100.01, ReduceOnly: true,
	})
	entryLeg := p.PlaceForeign(models.OrderRequest{
		Symbol: testSymbol, Type: models.OrderLimit, Side: models.Buy, PositionSide: models.Long,
		Amount: 0.5, Price: 95,
	})

	rep, err := newTestReconciler(t, p).EnsureTakeProfitExists(context.Background())
	if err != nil {
		t.Fatalf("EnsureTakeProfitExists: %v", err)
	}
	if len(rep.Placed) != 2 {
		t.Fatalf("want TP and SL restored, got %+v", rep)
	}

	ids := map[string]bool{}
	for _, o := range openOrders(t, p) {
		ids[o.ID] = true
	}
	if ids[stale.ID] || !ids[entryLeg.ID] {
		t.Fatalf("open after reconcile = %v", ids)
	}
}

func TestTakeProfitMinimumGap(t *testing.T) {
	cfg := testConfig()
	cfg.TakeProfitPct = 0.001
	r := NewReconciler(exchange.NewPaper(testMarket()), cfg, testMarket(), zaptest.NewLogger(t))

	px, ok := r.TakeProfitPrice(100)
	if !ok || !near(px, 100.02) {
		t.Fatalf("TakeProfitPrice = %v, %v", px, ok)
	}

	cfg.Leverage = 10
	cfg.TakeProfitPct = 10
	r = NewReconciler(exchange.NewPaper(testMarket()), cfg, testMarket(), zaptest.NewLogger(t))
	if px, _ := r.TakeProfitPrice(100); !near(px, 101) {
		t.Fatalf("10%% on margin at x10 = %v, want 101", px)
	}
}

func TestRealizedPnl(t *testing.T) {
	fills := []models.Fill{
		{Side: models.Buy, Price: 100, Qty: 1},
		{Side: models.Sell, Price: 102, Qty: 1, Fee: 0.1, Info: map[string]string{"closedPnl": "1.9"}},
	}
	res := RealizedPnl(models.Long, 100, 1, 1, fills, 0)
	if res.Source != PnlSourceExchange || !near(res.Pnl, 1.9) || !near(res.Exit, 102) {
		t.Fatalf("reported = %+v", res)
	}

	fills[1].Info = nil
	res = RealizedPnl(models.Long, 100, 1, 1, fills, 0)
	if res.Source != PnlSourceComputed || !near(res.Pnl, 1.9) {
		t.Fatalf("computed = %+v", res)
	}

	res = RealizedPnl(models.Short, 100, 2, 1, nil, 99)
	if !near(res.Pnl, 2) || !near(res.Exit, 99) {
		t.Fatalf("fallback = %+v", res)
	}
}

// чужой инструмент с client id на "bot": не наш, guard его видит, остановка его не трогает
func TestForeignBotPrefixedOrderIsNotMine(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	reg := NewRegistry()
	g := NewGuard(reg, 5*time.Second, 0, clock.now(), clock.now)

	compact := ordertag.Compact(ordertag.Make(ordertag.TakeProfit, 7, testSymbol), 32)
	orders := []models.Order{
		{ID: "1", Price: 50, CreatedAt: clock.at(time.Second), ClientRefs: map[string]string{"clientOrderId": "bottom_catcher_42"}},
		{ID: "2", Price: 51, CreatedAt: clock.at(time.Second), ClientRefs: map[string]string{"clOrdId": "bot-xyz"}},
		{ID: "3", Price: 52, CreatedAt: clock.at(time.Second), ClientRefs: map[string]string{"clOrdId": compact}},
	}
	bad := g.Unexplained(orders, Expected{}, 0.01)
	if len(bad) != 2 || bad[0].ID != "1" || bad[1].ID != "2" {
		t.Fatalf("unexplained = %+v", bad)
	}

	p := exchange.NewPaper(testMarket())
	p.SetPrice(testSymbol, 100)
	foreign, err := p.CreateOrder(context.Background(), models.OrderRequest{
		Symbol: testSymbol, Type: models.OrderLimit, Side: models.Buy, Amount: 0.01, Price: 50, Tag: "bottom_catcher_42",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	ok, err := HardCancel(context.Background(), p, testSymbol, CancelOptions{Retries: 1, Filter: reg.Mine}, zaptest.NewLogger(t))
	if err != nil || !ok {
		t.Fatalf("HardCancel = %v, %v", ok, err)
	}
	if left := openOrders(t, p); len(left) != 1 || left[0].ID != foreign.ID {
		t.Fatalf("foreign order must survive, left = %+v", left)
	}
}
