package exchange

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"grid_bot/internal/models"
)

type limited struct {
	next Exchange
	lim  *rate.Limiter
}

// WithRateLimit ставит token bucket перед каждым вызовом биржи.
func WithRateLimit(next Exchange, rps float64, burst int) Exchange {
	if rps <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &limited{next: next, lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *limited) ID() string { return l.next.ID() }

func (l *limited) LoadMarket(ctx context.Context, symbol string) (models.Market, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return models.Market{}, err
	}
	return l.next.LoadMarket(ctx, symbol)
}

func (l *limited) CreateOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return models.Order{}, err
	}
	return l.next.CreateOrder(ctx, req)
}

func (l *limited) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := l.lim.Wait(ctx); err != nil {
		return err
	}
	return l.next.CancelOrder(ctx, symbol, orderID)
}

func (l *limited) CancelAllOrders(ctx context.Context, symbol string) error {
	if err := l.lim.Wait(ctx); err != nil {
		return err
	}
	return l.next.CancelAllOrders(ctx, symbol)
}

func (l *limited) FetchOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.FetchOpenOrders(ctx, symbol)
}

func (l *limited) FetchPosition(ctx context.Context, symbol string, side models.PositionSide) (models.Position, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return models.Position{}, err
	}
	return l.next.FetchPosition(ctx, symbol, side)
}

func (l *limited) FetchTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return models.Ticker{}, err
	}
	return l.next.FetchTicker(ctx, symbol)
}

func (l *limited) FetchRecentFills(ctx context.Context, symbol string, since time.Time) ([]models.Fill, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.FetchRecentFills(ctx, symbol, since)
}

func (l *limited) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := l.lim.Wait(ctx); err != nil {
		return err
	}
	return l.next.SetLeverage(ctx, symbol, leverage)
}
