package exchange

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"grid_bot/internal/models"
	"grid_bot/internal/ordertag"
)

// Paper биржа в памяти: маркет исполняется сразу по текущей цене,
// лимитки и стопы исполняются в SetPrice. Используется в dry-run и тестах.
type Paper struct {
	mu sync.Mutex

	markets   map[string]models.Market
	prices    map[string]float64
	leverage  map[string]int
	open      map[string]*models.Order
	positions map[string]*paperPosition
	fills     []models.Fill
	placed    []models.Order
	seq       int64
	feeRate   float64
	now       func() time.Time

	failCancels     int
	ignoreCancelAll bool
}

type paperPosition struct {
	size  decimal.Decimal
	entry decimal.Decimal
}

func NewPaper(markets ...models.Market) *Paper {
	p := &Paper{
		markets:   make(map[string]models.Market),
		prices:    make(map[string]float64),
		leverage:  make(map[string]int),
		open:      make(map[string]*models.Order),
		positions: make(map[string]*paperPosition),
		now:       time.Now,
	}
	for _, m := range markets {
		p.markets[m.Symbol] = m
	}
	return p
}

func (p *Paper) ID() string { return models.ExchangePaper }

// SetFeeRate комиссия taker как доля от notional.
func (p *Paper) SetFeeRate(r float64) {
	p.mu.Lock()
	p.feeRate = r
	p.mu.Unlock()
}

// SetClock подменяет время создания ордеров и исполнений.
func (p *Paper) SetClock(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

// FailNextCancels следующие n вызовов CancelOrder вернут ошибку.
func (p *Paper) FailNextCancels(n int) {
	p.mu.Lock()
	p.failCancels = n
	p.mu.Unlock()
}

// IgnoreCancelAll CancelAllOrders отвечает успехом, но ничего не снимает.
func (p *Paper) IgnoreCancelAll(v bool) {
	p.mu.Lock()
	p.ignoreCancelAll = v
	p.mu.Unlock()
}

// SetPrice двигает цену и исполняет всё, что пересеклось.
func (p *Paper) SetPrice(symbol string, px float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = px

	for _, o := range p.sortedOpen(symbol) {
		if p.crossed(o, px) {
			fillPx := px
			if o.Type == models.OrderLimit {
				fillPx = o.Price
			}
			p.fill(o, fillPx)
		}
	}
}

// Placed все ордера, которые были приняты, в порядке создания.
func (p *Paper) Placed() []models.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Order, len(p.placed))
	copy(out, p.placed)
	return out
}

func (p *Paper) LoadMarket(_ context.Context, symbol string) (models.Market, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.markets[symbol]
	if !ok {
		return models.Market{}, fmt.Errorf("paper: unknown symbol %s", symbol)
	}
	return m, nil
}

func (p *Paper) CreateOrder(_ context.Context, req models.OrderRequest) (models.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.markets[req.Symbol]
	if !ok {
		return models.Order{}, reject(p.ID(), "CreateOrder", "-1121", "invalid symbol")
	}
	if req.Amount <= 0 || req.Amount < m.MinQty {
		return models.Order{}, reject(p.ID(), "CreateOrder", "-4003", fmt.Sprintf("quantity %v below minimum %v", req.Amount, m.MinQty))
	}
	if req.Tag != "" {
		for _, o := range p.open {
			if ordertag.FromOrder(*o) == req.Tag {
				return models.Order{}, reject(p.ID(), "CreateOrder", "-4015", "duplicate client order id")
			}
		}
	}

	side := req.PositionSide
	if side == "" {
		side = models.Long
		if req.Side == models.Sell && !req.ReduceOnly {
			side = models.Short
		}
	}
	if req.ReduceOnly && p.pos(req.Symbol, side).size.IsZero() {
		return models.Order{}, reject(p.ID(), "CreateOrder", "-2022", "reduce only order rejected: no position")
	}

	p.seq++
	o := &models.Order{
		ID:         strconv.FormatInt(p.seq, 10),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Price:      req.Price,
		StopPrice:  req.StopPrice,
		Amount:     req.Amount,
		ReduceOnly: req.ReduceOnly,
		Status:     "new",
		ClientRefs: map[string]string{},
		CreatedAt:  p.now(),
	}
	if req.Tag != "" {
		o.ClientRefs["clientOrderId"] = req.Tag
	}
	p.placed = append(p.placed, *o)
	p.open[o.ID] = o

	px := p.prices[req.Symbol]
	switch {
	case o.Type == models.OrderMarket:
		if px <= 0 {
			delete(p.open, o.ID)
			return models.Order{}, fmt.Errorf("paper: no price for %s", req.Symbol)
		}
		p.fill(o, px)
	case px > 0 && p.crossed(o, px):
		fillPx := px
		if o.Type == models.OrderLimit {
			fillPx = o.Price
		}
		p.fill(o, fillPx)
	}
	return *o, nil
}

func (p *Paper) CancelOrder(_ context.Context, symbol, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failCancels > 0 {
		p.failCancels--
		return fmt.Errorf("paper: cancel %s: temporary failure", orderID)
	}
	o, ok := p.open[orderID]
	if !ok || o.Symbol != symbol {
		return reject(p.ID(), "CancelOrder", "-2011", "unknown order sent")
	}
	o.Status = "canceled"
	delete(p.open, orderID)
	return nil
}

func (p *Paper) CancelAllOrders(_ context.Context, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ignoreCancelAll {
		return nil
	}
	for id, o := range p.open {
		if o.Symbol == symbol {
			o.Status = "canceled"
			delete(p.open, id)
		}
	}
	return nil
}

func (p *Paper) FetchOpenOrders(_ context.Context, symbol string) ([]models.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	open := p.sortedOpen(symbol)
	out := make([]models.Order, 0, len(open))
	for _, o := range open {
		cp := *o
		cp.ClientRefs = make(map[string]string, len(o.ClientRefs))
		for k, v := range o.ClientRefs {
			cp.ClientRefs[k] = v
		}
		out = append(out, cp)
	}
	return out, nil
}

func (p *Paper) FetchPosition(_ context.Context, symbol string, side models.PositionSide) (models.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos := p.pos(symbol, side)
	size := pos.size.InexactFloat64()
	entry := pos.entry.InexactFloat64()
	upl := 0.0
	if px := p.prices[symbol]; px > 0 && size > 0 {
		upl = (px - entry) * size * side.Sign() * p.contractSize(symbol)
	}
	return models.Position{
		Symbol:        symbol,
		Side:          side,
		Size:          size,
		EntryPrice:    entry,
		UnrealizedPnl: upl,
		UpdatedAt:     p.now(),
	}, nil
}

func (p *Paper) FetchTicker(_ context.Context, symbol string) (models.Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	px, ok := p.prices[symbol]
	if !ok || px <= 0 {
		return models.Ticker{}, fmt.Errorf("paper: no price for %s", symbol)
	}
	return models.Ticker{Symbol: symbol, Last: px, Bid: px, Ask: px, Time: p.now()}, nil
}

func (p *Paper) FetchRecentFills(_ context.Context, symbol string, since time.Time) ([]models.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.Fill
	for _, f := range p.fills {
		if f.Symbol == symbol && !f.Time.Before(since) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (p *Paper) SetLeverage(_ context.Context, symbol string, leverage int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if leverage < 1 || leverage > 125 {
		return reject(p.ID(), "SetLeverage", "-4028", "leverage not valid")
	}
	p.leverage[symbol] = leverage
	return nil
}

// PlaceForeign ордер "руками пользователя", без тега.
func (p *Paper) PlaceForeign(req models.OrderRequest) models.Order {
	req.Tag = ""
	o, _ := p.CreateOrder(context.Background(), req)
	return o
}

func (p *Paper) sortedOpen(symbol string) []*models.Order {
	out := make([]*models.Order, 0, len(p.open))
	for _, o := range p.open {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.ParseInt(out[i].ID, 10, 64)
		b, _ := strconv.ParseInt(out[j].ID, 10, 64)
		return a < b
	})
	return out
}

func (p *Paper) crossed(o *models.Order, px float64) bool {
	switch o.Type {
	case models.OrderLimit:
		if o.Side == models.Buy {
			return px <= o.Price
		}
		return px >= o.Price
	case models.OrderStopMarket:
		if o.Side == models.Buy {
			return px >= o.StopPrice
		}
		return px <= o.StopPrice
	}
	return false
}

func (p *Paper) key(symbol string, side models.PositionSide) string {
	return symbol + ":" + string(side)
}

func (p *Paper) pos(symbol string, side models.PositionSide) *paperPosition {
	k := p.key(symbol, side)
	pp, ok := p.positions[k]
	if !ok {
		pp = &paperPosition{}
		p.positions[k] = pp
	}
	return pp
}

func (p *Paper) contractSize(symbol string) float64 {
	if ct := p.markets[symbol].ContractSize; ct > 0 {
		return ct
	}
	return 1
}

// positionSideOf к какой стороне позиции относится ордер (one-way режим по направлению).
func positionSideOf(o *models.Order) models.PositionSide {
	if o.ReduceOnly {
		if o.Side == models.Sell {
			return models.Long
		}
		return models.Short
	}
	if o.Side == models.Sell {
		return models.Short
	}
	return models.Long
}

func (p *Paper) fill(o *models.Order, px float64) {
	side := positionSideOf(o)
	pos := p.pos(o.Symbol, side)
	qty := decimal.NewFromFloat(o.Amount)
	price := decimal.NewFromFloat(px)
	ct := decimal.NewFromFloat(p.contractSize(o.Symbol))

	info := map[string]string{}
	if o.ReduceOnly {
		if qty.GreaterThan(pos.size) {
			qty = pos.size
		}
		if qty.IsZero() {
			o.Status = "expired"
			delete(p.open, o.ID)
			return
		}
		pnl := price.Sub(pos.entry).Mul(qty).Mul(ct)
		if side == models.Short {
			pnl = pnl.Neg()
		}
		info["realizedPnl"] = pnl.String()
		pos.size = pos.size.Sub(qty)
		if pos.size.IsZero() {
			pos.entry = decimal.Zero
		}
	} else {
		total := pos.size.Add(qty)
		pos.entry = pos.entry.Mul(pos.size).Add(price.Mul(qty)).DivRound(total, 16)
		pos.size = total
	}

	fee := price.Mul(qty).Mul(ct).Mul(decimal.NewFromFloat(p.feeRate))
	o.Filled = qty.InexactFloat64()
	o.Status = "filled"
	delete(p.open, o.ID)

	p.fills = append(p.fills, models.Fill{
		OrderID: o.ID,
		Symbol:  o.Symbol,
		Side:    o.Side,
		Price:   px,
		Qty:     qty.InexactFloat64(),
		Fee:     fee.InexactFloat64(),
		Info:    info,
		Time:    p.now(),
	})
}
