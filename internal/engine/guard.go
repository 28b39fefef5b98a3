package engine

import (
	"context"
	"math"
	"time"

	"grid_bot/internal/exchange"
	"grid_bot/internal/models"
)

const DefaultToleranceTicks = 5

// Expected цены защитных ордеров, которые движок сейчас ожидает увидеть. 0 = не ожидается.
type Expected struct {
	TakeProfit float64
	StopLoss   float64
}

// Guard ищет на символе ордера, которые нельзя объяснить действиями движка.
type Guard struct {
	registry  *Registry
	interval  time.Duration
	tolerance float64
	runStart  time.Time
	now       func() time.Time

	snoozeUntil time.Time
	lastCheck   time.Time
}

func NewGuard(registry *Registry, interval time.Duration, toleranceTicks float64, runStart time.Time, now func() time.Time) *Guard {
	if toleranceTicks <= 0 {
		toleranceTicks = DefaultToleranceTicks
	}
	return &Guard{
		registry:  registry,
		interval:  interval,
		tolerance: toleranceTicks,
		runStart:  runStart,
		now:       now,
	}
}

// Snooze отключает проверки на d, не сокращая уже назначенную паузу.
func (g *Guard) Snooze(d time.Duration) {
	if until := g.now().Add(d); until.After(g.snoozeUntil) {
		g.snoozeUntil = until
	}
}

func (g *Guard) Snoozed() bool { return g.now().Before(g.snoozeUntil) }

// Due пора ли проверять: пауза истекла и с прошлой проверки прошёл интервал.
func (g *Guard) Due() bool {
	if g.Snoozed() {
		return false
	}
	return g.lastCheck.IsZero() || g.now().Sub(g.lastCheck) >= g.interval
}

// Unexplained ордера, созданные после старта запуска, которые не наши ни по реестру,
// ни по тегу, ни по цене (в пределах допуска от ожидаемых TP/SL).
func (g *Guard) Unexplained(orders []models.Order, exp Expected, tick float64) []models.Order {
	var out []models.Order
	for _, o := range orders {
		if g.registry.Mine(o) {
			continue
		}
		if g.nearExpected(o, exp, tick) {
			continue
		}
		// время создания неизвестно: не считаем чужим
		if o.CreatedAt.IsZero() || o.CreatedAt.Before(g.runStart) {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (g *Guard) nearExpected(o models.Order, exp Expected, tick float64) bool {
	if tick <= 0 {
		return false
	}
	tol := g.tolerance * tick
	for _, px := range []float64{o.Price, o.StopPrice} {
		if px <= 0 {
			continue
		}
		for _, want := range []float64{exp.TakeProfit, exp.StopLoss} {
			if want > 0 && math.Abs(px-want) <= tol {
				return true
			}
		}
	}
	return false
}

// Check запрашивает открытые ордера и возвращает необъяснимые.
func (g *Guard) Check(ctx context.Context, ex exchange.Exchange, symbol string, exp Expected, tick float64) ([]models.Order, error) {
	g.lastCheck = g.now()
	orders, err := ex.FetchOpenOrders(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return g.Unexplained(orders, exp, tick), nil
}
