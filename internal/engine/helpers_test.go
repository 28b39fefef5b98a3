package engine

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"grid_bot/internal/exchange"
	"grid_bot/internal/models"
	"grid_bot/internal/ordertag"
)

const testSymbol = "BTCUSDT"

func testMarket() models.Market {
	return models.Market{Symbol: testSymbol, TickSize: 0.01, StepSize: 0.001, MinQty: 0.001, ContractSize: 1}
}

func testConfig() models.EngineConfig {
	return models.EngineConfig{
		UserID:        7,
		ChatID:        7,
		Exchange:      models.ExchangePaper,
		Symbol:        testSymbol,
		Side:          models.Long,
		TakeProfitPct: 1,
		StopLossPct:   10,
		Leverage:      1,
		Rounds:        3,
		Grids: []models.GridLeg{
			{Amount: 100},
			{Amount: 48, GapPct: 4},
			{Amount: 94.5, GapPct: 1.5625},
		},
	}
}

func testTiming() Timing {
	return Timing{FillPollAttempts: 1, RunAttempts: 1}
}

type memNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *memNotifier) Send(_ context.Context, _ int64, msg string) error {
	n.mu.Lock()
	n.msgs = append(n.msgs, msg)
	n.mu.Unlock()
	return nil
}

type memTrades struct {
	mu   sync.Mutex
	recs []models.TradeRecord
}

func (m *memTrades) SaveTradeRecord(_ context.Context, rec models.TradeRecord) error {
	m.mu.Lock()
	m.recs = append(m.recs, rec)
	m.mu.Unlock()
	return nil
}

func (m *memTrades) all() []models.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TradeRecord(nil), m.recs...)
}

type memCommands struct {
	mu    sync.Mutex
	queue []*models.Command
	done  map[string]error
}

func (c *memCommands) push(cmd *models.Command) {
	c.mu.Lock()
	c.queue = append(c.queue, cmd)
	c.mu.Unlock()
}

func (c *memCommands) ClaimCommand(_ context.Context, _ int64) (*models.Command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil, nil
	}
	cmd := c.queue[0]
	c.queue = c.queue[1:]
	return cmd, nil
}

func (c *memCommands) CompleteCommand(_ context.Context, id string, cmdErr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		c.done = make(map[string]error)
	}
	c.done[id] = cmdErr
	return nil
}

type testEnv struct {
	paper    *exchange.Paper
	notifier *memNotifier
	trades   *memTrades
	commands *memCommands
	engine   *Engine
}

func newTestEnv(t *testing.T, cfg models.EngineConfig) *testEnv {
	t.Helper()
	paper := exchange.NewPaper(testMarket())
	paper.SetPrice(testSymbol, 100)
	return newTestEnvWith(t, cfg, paper)
}

func newTestEnvWith(t *testing.T, cfg models.EngineConfig, ex exchange.Exchange) *testEnv {
	t.Helper()
	env := &testEnv{
		notifier: &memNotifier{},
		trades:   &memTrades{},
		commands: &memCommands{},
	}
	if p, ok := ex.(*exchange.Paper); ok {
		env.paper = p
	}
	env.engine = New(cfg, ex, env.notifier, env.trades, env.commands, nil, zaptest.NewLogger(t), Options{Timing: testTiming()})
	env.engine.reset()
	return env
}

func (env *testEnv) step(t *testing.T) error {
	t.Helper()
	return env.engine.step(context.Background())
}

// placedWith ордера с назначением p среди всех принятых paper-биржей
func placedWith(p *exchange.Paper, purpose ordertag.Purpose) []models.Order {
	var out []models.Order
	for _, o := range p.Placed() {
		if tag, ok := ordertag.ParseOrder(o); ok && tag.Purpose == purpose {
			out = append(out, o)
		}
	}
	return out
}

func openOrders(t *testing.T, ex exchange.Exchange) []models.Order {
	t.Helper()
	orders, err := ex.FetchOpenOrders(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("FetchOpenOrders: %v", err)
	}
	return orders
}

// openWith число открытых ордеров с назначением purpose
func openWith(t *testing.T, ex exchange.Exchange, purpose ordertag.Purpose) int {
	t.Helper()
	n := 0
	for _, o := range openOrders(t, ex) {
		if tag, ok := ordertag.ParseOrder(o); ok && tag.Purpose == purpose {
			n++
		}
	}
	return n
}
