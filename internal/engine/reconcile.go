package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"grid_bot/internal/exchange"
	"grid_bot/internal/metrics"
	"grid_bot/internal/models"
	"grid_bot/internal/ordertag"
)

// Reconciler следит за защитными ордерами (TP/SL) позиции.
// Используется движком и, отдельно, операторской командой recover.
type Reconciler struct {
	ex     exchange.Exchange
	cfg    models.EngineConfig
	market models.Market
	log    *zap.Logger

	// onPlaced вызывается для каждого принятого биржей ордера
	onPlaced func(o models.Order, tag string)
}

func NewReconciler(ex exchange.Exchange, cfg models.EngineConfig, market models.Market, log *zap.Logger) *Reconciler {
	return &Reconciler{
		ex:     ex,
		cfg:    cfg,
		market: market,
		log:    log,
	}
}

// Report что сделала сверка.
type Report struct {
	Actions []string
	Kept    *models.Order
	Placed  []models.Order
}

func (r *Report) add(format string, args ...any) {
	r.Actions = append(r.Actions, fmt.Sprintf(format, args...))
}

// TakeProfitPrice цена TP от средней цены входа, не ближе 2 тиков. false, если TP выключен.
func (r *Reconciler) TakeProfitPrice(entry float64) (float64, bool) {
	frac := r.cfg.TakeProfitFraction()
	if frac <= 0 || entry <= 0 {
		return 0, false
	}
	sign := r.cfg.Side.Sign()
	px := r.market.PriceToPrecision(entry * (1 + sign*frac))
	minGap := r.market.Ticks(2)
	if (px-entry)*sign < minGap {
		px = r.market.PriceToPrecision(entry + sign*minGap)
	}
	if (px-entry)*sign <= 0 {
		return 0, false
	}
	return px, true
}

// StopLossPrice триггер SL. false, если SL выключен или оказался не с той стороны.
func (r *Reconciler) StopLossPrice(entry float64) (float64, bool) {
	frac := r.cfg.StopLossFraction()
	if frac <= 0 || entry <= 0 {
		return 0, false
	}
	sign := r.cfg.Side.Sign()
	px := r.market.PriceToPrecision(entry * (1 - sign*frac))
	if (entry-px)*sign <= 0 || px <= 0 {
		return 0, false
	}
	return px, true
}

// Expected ожидаемые цены TP/SL для guard.
func (r *Reconciler) Expected(entry float64) Expected {
	tp, _ := r.TakeProfitPrice(entry)
	sl, _ := r.StopLossPrice(entry)
	return Expected{TakeProfit: tp, StopLoss: sl}
}

func (r *Reconciler) place(ctx context.Context, purpose ordertag.Purpose, req models.OrderRequest) (models.Order, error) {
	req.Tag = ordertag.Make(purpose, r.cfg.UserID, r.cfg.Symbol)
	req.Params = ordertag.Params(req.Tag)
	o, err := r.ex.CreateOrder(ctx, req)
	if err != nil {
		if exchange.IsReject(err) {
			metrics.OrderRejects.WithLabelValues(r.ex.ID(), string(purpose)).Inc()
		}
		return models.Order{}, err
	}
	metrics.OrdersPlaced.WithLabelValues(r.ex.ID(), string(purpose)).Inc()
	if r.onPlaced != nil {
		r.onPlaced(o, req.Tag)
	}
	return o, nil
}

// PlaceTakeProfit reduce-only лимитка на весь объём.
func (r *Reconciler) PlaceTakeProfit(ctx context.Context, entry, size float64) (*models.Order, error) {
	px, ok := r.TakeProfitPrice(entry)
	if !ok {
		return nil, nil
	}
	o, err := r.place(ctx, ordertag.TakeProfit, models.OrderRequest{
		Symbol:       r.cfg.Symbol,
		Type:         models.OrderLimit,
		Side:         r.cfg.Side.ExitSide(),
		PositionSide: r.cfg.Side,
		Amount:       r.market.AmountToPrecision(size),
		Price:        px,
		ReduceOnly:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("place take-profit @ %v: %w", px, err)
	}
	return &o, nil
}

// PlaceStopLoss reduce-only stop-market на весь объём.
func (r *Reconciler) PlaceStopLoss(ctx context.Context, entry, size float64) (*models.Order, error) {
	px, ok := r.StopLossPrice(entry)
	if !ok {
		return nil, nil
	}
	o, err := r.place(ctx, ordertag.StopLoss, models.OrderRequest{
		Symbol:       r.cfg.Symbol,
		Type:         models.OrderStopMarket,
		Side:         r.cfg.Side.ExitSide(),
		PositionSide: r.cfg.Side,
		Amount:       r.market.AmountToPrecision(size),
		StopPrice:    px,
		ReduceOnly:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("place stop-loss @ %v: %w", px, err)
	}
	return &o, nil
}

// isProtective TP/SL по тегу, а без читаемого тега любой reduce-only ордер.
func (r *Reconciler) isProtective(o models.Order) bool {
	if t, ok := ordertag.ParseOrder(o); ok {
		return t.IsTPSL()
	}
	return o.ReduceOnly
}

// isTakeProfitCandidate TP по тегу, а без тега reduce-only лимитка в сторону выхода.
func (r *Reconciler) isTakeProfitCandidate(o models.Order) bool {
	if t, ok := ordertag.ParseOrder(o); ok {
		return t.Purpose == ordertag.TakeProfit
	}
	return o.ReduceOnly && o.Side == r.cfg.Side.ExitSide() && o.Type == models.OrderLimit
}

// saneTakeProfit цена TP по правильную сторону от входа и не хуже ожидаемой больше чем на тик.
func (r *Reconciler) saneTakeProfit(o models.Order, entry, expected float64) bool {
	px := o.Price
	if px <= 0 {
		return false
	}
	tick := r.market.TickSize
	if r.cfg.Side == models.Short {
		return px < entry-2*tick && px < expected+tick
	}
	return px > entry+2*tick && px > expected-tick
}

// CancelProtective снимает TP/SL, возвращает сколько снято.
func (r *Reconciler) CancelProtective(ctx context.Context) (int, error) {
	orders, err := r.ex.FetchOpenOrders(ctx, r.cfg.Symbol)
	if err != nil {
		return 0, fmt.Errorf("CancelProtective: %w", err)
	}
	n := 0
	for _, o := range orders {
		if !r.isProtective(o) {
			continue
		}
		if err := r.ex.CancelOrder(ctx, r.cfg.Symbol, o.ID); err != nil {
			if exchange.IsReject(err) {
				// уже исполнен или снят
				continue
			}
			return n, fmt.Errorf("CancelProtective: %w", err)
		}
		n++
	}
	return n, nil
}

// EnsureTakeProfitExists сверка TP с позицией: если приемлемый TP стоит, ничего не делает,
// иначе снимает TP/SL и выставляет новый TP (и SL, если задан) на весь объём.
// Без позиции ничего не делает. Ордера входа и сетки не трогает.
func (r *Reconciler) EnsureTakeProfitExists(ctx context.Context) (rep Report, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Reconciler.EnsureTakeProfitExists: %w", err)
		}
	}()

	pos, err := r.ex.FetchPosition(ctx, r.cfg.Symbol, r.cfg.Side)
	if err != nil {
		return Report{}, err
	}
	if !pos.Open() {
		return Report{}, nil
	}

	expected, ok := r.TakeProfitPrice(pos.EntryPrice)
	if !ok {
		rep.add("take-profit disabled")
		return rep, nil
	}

	orders, err := r.ex.FetchOpenOrders(ctx, r.cfg.Symbol)
	if err != nil {
		return Report{}, err
	}
	stale := 0
	for _, o := range orders {
		if !r.isTakeProfitCandidate(o) {
			continue
		}
		if r.saneTakeProfit(o, pos.EntryPrice, expected) {
			kept := o
			rep.Kept = &kept
			rep.add("take-profit present @ %v", o.Price)
			return rep, nil
		}
		stale++
	}

	if stale > 0 {
		n, err := r.CancelProtective(ctx)
		if err != nil {
			return rep, err
		}
		rep.add("cancelled %d stale protective orders", n)
	}

	tp, err := r.PlaceTakeProfit(ctx, pos.EntryPrice, pos.Size)
	if err != nil {
		return rep, err
	}
	rep.Placed = append(rep.Placed, *tp)
	rep.add("placed take-profit @ %v size %v", tp.Price, tp.Amount)

	if stale > 0 {
		sl, err := r.PlaceStopLoss(ctx, pos.EntryPrice, pos.Size)
		if err != nil {
			r.log.Warn("stop-loss not restored", zap.Error(err))
			rep.add("stop-loss not restored: %v", err)
			return rep, nil
		}
		if sl != nil {
			rep.Placed = append(rep.Placed, *sl)
			rep.add("placed stop-loss @ %v", sl.StopPrice)
		}
	}

	r.log.Info("take-profit reconciled",
		zap.Int64("user_id", r.cfg.UserID),
		zap.String("symbol", r.cfg.Symbol),
		zap.Strings("actions", rep.Actions),
	)
	return rep, nil
}
