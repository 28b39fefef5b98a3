package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"grid_bot/internal/models"
)

// Binance USDT-M futures, one-way режим позиции.
// Стоп-лоссы выставляются через algo-сервис (/fapi/v1/algoOrder), их id помечаются префиксом "algo:".
type Binance struct {
	client *futures.Client
}

func NewBinance(apiKey, apiSecret string, testnet bool) *Binance {
	futures.UseTestnet = testnet
	return &Binance{client: futures.NewClient(apiKey, apiSecret)}
}

func (b *Binance) ID() string { return models.ExchangeBinance }

// коды, при которых имеет смысл повторить запрос
var binanceTransient = map[int64]bool{
	-1000: true, -1001: true, -1003: true, -1006: true, -1007: true, -1008: true, -1021: true,
}

func (b *Binance) wrap(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && !binanceTransient[apiErr.Code] {
		return reject(b.ID(), op, strconv.FormatInt(apiErr.Code, 10), apiErr.Message)
	}
	return fmt.Errorf("binance.%s: %w", op, err)
}

func (b *Binance) LoadMarket(ctx context.Context, symbol string) (models.Market, error) {
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return models.Market{}, b.wrap("LoadMarket", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		m := models.Market{Symbol: symbol, ContractSize: 1}
		for _, f := range s.Filters {
			switch f["filterType"] {
			case "PRICE_FILTER":
				m.TickSize = filterFloat(f, "tickSize")
			case "LOT_SIZE":
				m.StepSize = filterFloat(f, "stepSize")
				m.MinQty = filterFloat(f, "minQty")
			}
		}
		if m.TickSize <= 0 || m.StepSize <= 0 {
			return models.Market{}, fmt.Errorf("binance.LoadMarket: %s has no price/lot filters", symbol)
		}
		return m, nil
	}
	return models.Market{}, fmt.Errorf("binance.LoadMarket: symbol %s not found", symbol)
}

func filterFloat(f map[string]interface{}, key string) float64 {
	s, _ := f[key].(string)
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func (b *Binance) CreateOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	side := futures.SideTypeBuy
	if req.Side == models.Sell {
		side = futures.SideTypeSell
	}
	if req.Type == models.OrderStopMarket {
		return b.createAlgo(ctx, req, side)
	}

	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Quantity(formatFloat(req.Amount))

	switch req.Type {
	case models.OrderMarket:
		svc.Type(futures.OrderTypeMarket)
	case models.OrderLimit:
		svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(formatFloat(req.Price))
	default:
		return models.Order{}, fmt.Errorf("binance.CreateOrder: unsupported order type %q", req.Type)
	}
	if req.ReduceOnly {
		svc.ReduceOnly(true)
	}
	if id := clientID(req); id != "" {
		svc.NewClientOrderID(id)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return models.Order{}, b.wrap("CreateOrder", err)
	}

	return models.Order{
		ID:         strconv.FormatInt(res.OrderID, 10),
		Symbol:     res.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Price:      parseFloat(res.Price),
		Amount:     parseFloat(res.OrigQuantity),
		Filled:     parseFloat(res.ExecutedQuantity),
		ReduceOnly: res.ReduceOnly,
		Status:     strings.ToLower(string(res.Status)),
		ClientRefs: map[string]string{"clientOrderId": res.ClientOrderID},
		CreatedAt:  time.UnixMilli(res.UpdateTime),
	}, nil
}

func (b *Binance) createAlgo(ctx context.Context, req models.OrderRequest, side futures.SideType) (models.Order, error) {
	svc := b.client.NewCreateAlgoOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(futures.AlgoOrderTypeStopMarket).
		Quantity(formatFloat(req.Amount)).
		TriggerPrice(formatFloat(req.StopPrice)).
		WorkingType(futures.WorkingTypeMarkPrice)
	if req.ReduceOnly {
		svc.ReduceOnly(true)
	}
	if id := clientID(req); id != "" {
		svc.ClientAlgoId(id)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return models.Order{}, b.wrap("CreateAlgoOrder", err)
	}
	return models.Order{
		ID:         algoPrefix + strconv.FormatInt(res.AlgoId, 10),
		Symbol:     res.Symbol,
		Side:       req.Side,
		Type:       models.OrderStopMarket,
		StopPrice:  parseFloat(res.TriggerPrice),
		Amount:     parseFloat(res.Quantity),
		ReduceOnly: res.ReduceOnly,
		Status:     strings.ToLower(string(res.AlgoStatus)),
		ClientRefs: map[string]string{"clientAlgoId": res.ClientAlgoId},
		CreatedAt:  time.UnixMilli(res.CreateTime),
	}, nil
}

// clientID тег из заявки: поле Tag, иначе первый client-reference параметр.
func clientID(req models.OrderRequest) string {
	if req.Tag != "" {
		return req.Tag
	}
	for _, k := range []string{"newClientOrderId", "clientOrderId"} {
		if v := req.Params[k]; v != "" {
			return v
		}
	}
	return ""
}

func (b *Binance) CancelOrder(ctx context.Context, symbol, orderID string) error {
	raw, isAlgo := strings.CutPrefix(orderID, algoPrefix)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("binance.CancelOrder: bad order id %q: %w", orderID, err)
	}
	if isAlgo {
		if _, err := b.client.NewCancelAlgoOrderService().AlgoID(id).Do(ctx); err != nil {
			return b.wrap("CancelAlgoOrder", err)
		}
		return nil
	}
	if _, err := b.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx); err != nil {
		return b.wrap("CancelOrder", err)
	}
	return nil
}

// CancelAllOrders снимает обычные и algo-ордера, ошибка одной группы не мешает второй.
func (b *Binance) CancelAllOrders(ctx context.Context, symbol string) error {
	var firstErr error
	if err := b.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		firstErr = b.wrap("CancelAllOrders", err)
	}
	if err := b.client.NewCancelAllAlgoOpenOrdersService().Symbol(symbol).Do(ctx); err != nil && firstErr == nil {
		firstErr = b.wrap("CancelAllAlgoOrders", err)
	}
	return firstErr
}

func (b *Binance) FetchOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	list, err := b.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, b.wrap("FetchOpenOrders", err)
	}
	algos, err := b.client.NewListOpenAlgoOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, b.wrap("FetchOpenAlgoOrders", err)
	}

	out := make([]models.Order, 0, len(list)+len(algos))
	for _, o := range list {
		typ := models.OrderLimit
		if o.Type == futures.OrderTypeMarket {
			typ = models.OrderMarket
		}
		out = append(out, models.Order{
			ID:         strconv.FormatInt(o.OrderID, 10),
			Symbol:     o.Symbol,
			Side:       binanceSide(o.Side),
			Type:       typ,
			Price:      parseFloat(o.Price),
			Amount:     parseFloat(o.OrigQuantity),
			Filled:     parseFloat(o.ExecutedQuantity),
			ReduceOnly: o.ReduceOnly,
			Status:     strings.ToLower(string(o.Status)),
			ClientRefs: map[string]string{"clientOrderId": o.ClientOrderID},
			CreatedAt:  time.UnixMilli(o.Time),
		})
	}
	for _, a := range algos {
		out = append(out, models.Order{
			ID:         algoPrefix + strconv.FormatInt(a.AlgoId, 10),
			Symbol:     a.Symbol,
			Side:       binanceSide(a.Side),
			Type:       models.OrderStopMarket,
			Price:      parseFloat(a.Price),
			StopPrice:  parseFloat(a.TriggerPrice),
			Amount:     parseFloat(a.Quantity),
			ReduceOnly: a.ReduceOnly,
			Status:     strings.ToLower(string(a.AlgoStatus)),
			ClientRefs: map[string]string{"clientAlgoId": a.ClientAlgoId},
			CreatedAt:  time.UnixMilli(a.CreateTime),
		})
	}
	return out, nil
}

func binanceSide(s futures.SideType) models.OrderSide {
	if s == futures.SideTypeSell {
		return models.Sell
	}
	return models.Buy
}

func (b *Binance) FetchPosition(ctx context.Context, symbol string, side models.PositionSide) (models.Position, error) {
	risks, err := b.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return models.Position{}, b.wrap("FetchPosition", err)
	}
	pos := models.Position{Symbol: symbol, Side: side, UpdatedAt: time.Now()}
	for _, r := range risks {
		amt := parseFloat(r.PositionAmt)
		switch strings.ToUpper(r.PositionSide) {
		case "BOTH":
			if amt*side.Sign() <= 0 {
				continue
			}
		case strings.ToUpper(string(side)):
		default:
			continue
		}
		if amt < 0 {
			amt = -amt
		}
		if amt == 0 {
			continue
		}
		pos.Size = amt
		pos.EntryPrice = parseFloat(r.EntryPrice)
		pos.UnrealizedPnl = parseFloat(r.UnRealizedProfit)
		break
	}
	return pos, nil
}

func (b *Binance) FetchTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return models.Ticker{}, b.wrap("FetchTicker", err)
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			px := parseFloat(p.Price)
			return models.Ticker{Symbol: symbol, Last: px, Bid: px, Ask: px, Time: time.Now()}, nil
		}
	}
	return models.Ticker{}, fmt.Errorf("binance.FetchTicker: no price for %s", symbol)
}

func (b *Binance) FetchRecentFills(ctx context.Context, symbol string, since time.Time) ([]models.Fill, error) {
	svc := b.client.NewListAccountTradeService().Symbol(symbol).Limit(100)
	if !since.IsZero() {
		svc.StartTime(since.UnixMilli())
	}
	trades, err := svc.Do(ctx)
	if err != nil {
		return nil, b.wrap("FetchRecentFills", err)
	}
	out := make([]models.Fill, 0, len(trades))
	for _, t := range trades {
		out = append(out, models.Fill{
			OrderID: strconv.FormatInt(t.OrderID, 10),
			Symbol:  t.Symbol,
			Side:    binanceSide(t.Side),
			Price:   parseFloat(t.Price),
			Qty:     parseFloat(t.Quantity),
			Fee:     parseFloat(t.Commission),
			Info:    map[string]string{"realizedPnl": t.RealizedPnl},
			Time:    time.UnixMilli(t.Time),
		})
	}
	return out, nil
}

func (b *Binance) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if _, err := b.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx); err != nil {
		return b.wrap("SetLeverage", err)
	}
	return nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
