package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"grid_bot/internal/models"
	"grid_bot/internal/ordertag"
)

// OKX SWAP через REST v5, режим позиций long/short (hedge), маржа cross.
// Стоп-лоссы живут как algo-ордера (ordType=conditional), их id помечаются префиксом "algo:".
type OKX struct {
	c *okxClient

	// clOrdId у OKX только алфанумерик, тег уходит в компактной форме.
	// Здесь храним полные теги для ордеров этого соединения, после рестарта читается компактная.
	aliases sync.Map
}

func NewOKX(apiKey, apiSecret, passphrase string, simulated bool) *OKX {
	return &OKX{c: &okxClient{
		http:      &http.Client{Timeout: 10 * time.Second},
		baseURL:   okxBaseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		passph:    passphrase,
		simulated: simulated,
		now:       time.Now,
	}}
}

func (o *OKX) ID() string { return models.ExchangeOKX }

// clOrdId у OKX только алфанумерик до 32 символов.
const okxClientIDLen = 32

func okxClientID(tag string) string {
	return ordertag.Compact(tag, okxClientIDLen)
}

func (o *OKX) remember(tag string) string {
	id := okxClientID(tag)
	if id != "" && id != tag {
		o.aliases.Store(id, tag)
	}
	return id
}

func (o *OKX) restore(id string) string {
	if v, ok := o.aliases.Load(id); ok {
		return v.(string)
	}
	return id
}

func (o *OKX) LoadMarket(ctx context.Context, symbol string) (models.Market, error) {
	var data []okxInstrument
	q := url.Values{"instType": {"SWAP"}, "instId": {symbol}}
	if err := o.c.do(ctx, "LoadMarket", http.MethodGet, "/api/v5/public/instruments", q, nil, &data); err != nil {
		return models.Market{}, err
	}
	if len(data) == 0 {
		return models.Market{}, fmt.Errorf("okx.LoadMarket: instrument %s not found", symbol)
	}
	inst := data[0]
	if inst.State != "" && inst.State != "live" {
		return models.Market{}, fmt.Errorf("okx.LoadMarket: instrument %s not live: state=%s", symbol, inst.State)
	}

	ctVal := parseFloat(inst.CtVal)
	if mult := parseFloat(inst.CtMult); mult > 0 {
		ctVal *= mult
	}
	m := models.Market{
		Symbol:       inst.InstID,
		TickSize:     parseFloat(inst.TickSz),
		StepSize:     parseFloat(inst.LotSz),
		MinQty:       parseFloat(inst.MinSz),
		ContractSize: ctVal,
	}
	if m.TickSize <= 0 || m.StepSize <= 0 || m.ContractSize <= 0 {
		return models.Market{}, fmt.Errorf("okx.LoadMarket: bad instrument meta for %s: %+v", symbol, inst)
	}
	return m, nil
}

func okxPosSide(req models.OrderRequest) string {
	if req.PositionSide != "" {
		return string(req.PositionSide)
	}
	if (req.Side == models.Buy) != req.ReduceOnly {
		return string(models.Long)
	}
	return string(models.Short)
}

func (o *OKX) CreateOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	tag := req.Tag
	if tag == "" {
		tag = req.Params["clOrdId"]
	}
	clID := o.remember(tag)

	order := models.Order{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Price:      req.Price,
		StopPrice:  req.StopPrice,
		Amount:     req.Amount,
		ReduceOnly: req.ReduceOnly,
		Status:     "live",
		ClientRefs: map[string]string{"clOrdId": tag},
		CreatedAt:  time.Now(),
	}

	if req.Type == models.OrderStopMarket {
		body := map[string]any{
			"instId":          req.Symbol,
			"tdMode":          "cross",
			"side":            string(req.Side),
			"posSide":         okxPosSide(req),
			"ordType":         "conditional",
			"sz":              formatFloat(req.Amount),
			"slTriggerPx":     formatFloat(req.StopPrice),
			"slOrdPx":         "-1",
			"slTriggerPxType": "last",
		}
		if clID != "" {
			body["algoClOrdId"] = clID
		}
		var acks []okxAck
		if err := o.c.do(ctx, "CreateOrder", http.MethodPost, "/api/v5/trade/order-algo", nil, body, &acks); err != nil {
			return models.Order{}, err
		}
		if len(acks) == 0 || acks[0].AlgoID == "" {
			return models.Order{}, fmt.Errorf("okx.CreateOrder: empty algoId")
		}
		order.ID = algoPrefix + acks[0].AlgoID
		return order, nil
	}

	body := map[string]any{
		"instId":  req.Symbol,
		"tdMode":  "cross",
		"side":    string(req.Side),
		"posSide": okxPosSide(req),
		"sz":      formatFloat(req.Amount),
	}
	switch req.Type {
	case models.OrderMarket:
		body["ordType"] = "market"
	case models.OrderLimit:
		body["ordType"] = "limit"
		body["px"] = formatFloat(req.Price)
	default:
		return models.Order{}, fmt.Errorf("okx.CreateOrder: unsupported order type %q", req.Type)
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}
	if clID != "" {
		body["clOrdId"] = clID
	}

	var acks []okxAck
	if err := o.c.do(ctx, "CreateOrder", http.MethodPost, "/api/v5/trade/order", nil, body, &acks); err != nil {
		return models.Order{}, err
	}
	if len(acks) == 0 || acks[0].OrdID == "" {
		return models.Order{}, fmt.Errorf("okx.CreateOrder: empty ordId")
	}
	order.ID = acks[0].OrdID
	return order, nil
}

func (o *OKX) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if algoID, ok := strings.CutPrefix(orderID, algoPrefix); ok {
		body := []map[string]string{{"instId": symbol, "algoId": algoID}}
		return o.c.do(ctx, "CancelAlgo", http.MethodPost, "/api/v5/trade/cancel-algos", nil, body, nil)
	}
	body := map[string]string{"instId": symbol, "ordId": orderID}
	return o.c.do(ctx, "CancelOrder", http.MethodPost, "/api/v5/trade/cancel-order", nil, body, nil)
}

// CancelAllOrders у OKX нет отмены всего по инструменту, снимаем по одному.
func (o *OKX) CancelAllOrders(ctx context.Context, symbol string) error {
	open, err := o.FetchOpenOrders(ctx, symbol)
	if err != nil {
		return err
	}
	var firstErr error
	for _, ord := range open {
		if err := o.CancelOrder(ctx, symbol, ord.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (o *OKX) FetchOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	var plain []okxOrder
	q := url.Values{"instType": {"SWAP"}, "instId": {symbol}}
	if err := o.c.do(ctx, "FetchOpenOrders", http.MethodGet, "/api/v5/trade/orders-pending", q, nil, &plain); err != nil {
		return nil, err
	}
	var algos []okxAlgoOrder
	qa := url.Values{"ordType": {"conditional"}, "instType": {"SWAP"}, "instId": {symbol}}
	if err := o.c.do(ctx, "FetchOpenAlgos", http.MethodGet, "/api/v5/trade/orders-algo-pending", qa, nil, &algos); err != nil {
		return nil, err
	}

	out := make([]models.Order, 0, len(plain)+len(algos))
	for _, p := range plain {
		typ := models.OrderLimit
		if p.OrdType == "market" {
			typ = models.OrderMarket
		}
		out = append(out, models.Order{
			ID:         p.OrdID,
			Symbol:     p.InstID,
			Side:       models.OrderSide(p.Side),
			Type:       typ,
			Price:      parseFloat(p.Px),
			Amount:     parseFloat(p.Sz),
			Filled:     parseFloat(p.AccFillSz),
			ReduceOnly: p.ReduceOnly == "true",
			Status:     p.State,
			ClientRefs: map[string]string{"clOrdId": o.restore(p.ClOrdID), "tag": p.Tag},
			CreatedAt:  msTime(p.CTime),
		})
	}
	for _, a := range algos {
		trigger := parseFloat(a.SlTriggerPx)
		if trigger == 0 {
			trigger = parseFloat(a.TpTriggerPx)
		}
		out = append(out, models.Order{
			ID:         algoPrefix + a.AlgoID,
			Symbol:     a.InstID,
			Side:       models.OrderSide(a.Side),
			Type:       models.OrderStopMarket,
			StopPrice:  trigger,
			Amount:     parseFloat(a.Sz),
			ReduceOnly: a.ReduceOnly == "true",
			Status:     a.State,
			ClientRefs: map[string]string{"algoClOrdId": o.restore(a.AlgoClOrdID)},
			CreatedAt:  msTime(a.CTime),
		})
	}
	return out, nil
}

func (o *OKX) FetchPosition(ctx context.Context, symbol string, side models.PositionSide) (models.Position, error) {
	var data []okxPosition
	q := url.Values{"instType": {"SWAP"}, "instId": {symbol}}
	if err := o.c.do(ctx, "FetchPosition", http.MethodGet, "/api/v5/account/positions", q, nil, &data); err != nil {
		return models.Position{}, err
	}
	pos := models.Position{Symbol: symbol, Side: side, UpdatedAt: time.Now()}
	for _, d := range data {
		sz := parseFloat(d.Pos)
		switch d.PosSide {
		case string(side):
		case "net":
			if sz*side.Sign() <= 0 {
				continue
			}
		default:
			continue
		}
		if sz < 0 {
			sz = -sz
		}
		if sz == 0 {
			continue
		}
		pos.Size = sz
		pos.EntryPrice = parseFloat(d.AvgPx)
		pos.UnrealizedPnl = parseFloat(d.Upl)
		break
	}
	return pos, nil
}

func (o *OKX) FetchTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	var data []okxTicker
	if err := o.c.do(ctx, "FetchTicker", http.MethodGet, "/api/v5/market/ticker", url.Values{"instId": {symbol}}, nil, &data); err != nil {
		return models.Ticker{}, err
	}
	if len(data) == 0 {
		return models.Ticker{}, fmt.Errorf("okx.FetchTicker: empty ticker for %s", symbol)
	}
	t := data[0]
	return models.Ticker{
		Symbol: symbol,
		Last:   parseFloat(t.Last),
		Bid:    parseFloat(t.BidPx),
		Ask:    parseFloat(t.AskPx),
		Time:   msTime(t.Ts),
	}, nil
}

func (o *OKX) FetchRecentFills(ctx context.Context, symbol string, since time.Time) ([]models.Fill, error) {
	q := url.Values{"instType": {"SWAP"}, "instId": {symbol}}
	if !since.IsZero() {
		q.Set("begin", strconv.FormatInt(since.UnixMilli(), 10))
	}
	var data []okxFill
	if err := o.c.do(ctx, "FetchRecentFills", http.MethodGet, "/api/v5/trade/fills", q, nil, &data); err != nil {
		return nil, err
	}
	out := make([]models.Fill, 0, len(data))
	for _, f := range data {
		// у OKX fee отрицательная, когда комиссия списана
		fee := -parseFloat(f.Fee)
		out = append(out, models.Fill{
			OrderID: f.OrdID,
			Symbol:  f.InstID,
			Side:    models.OrderSide(f.Side),
			Price:   parseFloat(f.FillPx),
			Qty:     parseFloat(f.FillSz),
			Fee:     fee,
			Info:    map[string]string{"fillPnl": f.FillPnl},
			Time:    msTime(f.Ts),
		})
	}
	return out, nil
}

func (o *OKX) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	body := map[string]string{"instId": symbol, "lever": strconv.Itoa(leverage), "mgnMode": "cross"}
	return o.c.do(ctx, "SetLeverage", http.MethodPost, "/api/v5/account/set-leverage", nil, body, nil)
}

func msTime(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
