// Package exchange единый фасад над биржами: ордера, позиция, тикер, плечо, точность инструмента.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"grid_bot/internal/models"
)

// algoPrefix помечает id условных ордеров, которые биржа ведёт отдельно от обычных.
const algoPrefix = "algo:"

// Exchange всё, что движку нужно от биржи. Реализации не шарятся между запусками.
type Exchange interface {
	ID() string
	LoadMarket(ctx context.Context, symbol string) (models.Market, error)
	CreateOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error
	FetchOpenOrders(ctx context.Context, symbol string) ([]models.Order, error)
	FetchPosition(ctx context.Context, symbol string, side models.PositionSide) (models.Position, error)
	FetchTicker(ctx context.Context, symbol string) (models.Ticker, error)
	FetchRecentFills(ctx context.Context, symbol string, since time.Time) ([]models.Fill, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// RejectError биржа отказала в конкретном действии (мин. размер, дубликат client id, reduce-only и т.п.).
// Повтор того же запроса не поможет, в отличие от сетевых ошибок.
type RejectError struct {
	Exchange string
	Op       string
	Code     string
	Msg      string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s %s rejected: code=%s msg=%s", e.Exchange, e.Op, e.Code, e.Msg)
}

func IsReject(err error) bool {
	var r *RejectError
	return errors.As(err, &r)
}

func reject(exchange, op, code, msg string) error {
	return &RejectError{Exchange: exchange, Op: op, Code: code, Msg: msg}
}
