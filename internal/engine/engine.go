// Package engine движок сетки одного пользователя на одном символе:
// вход, усреднение лимитками, TP/SL, закрытие и повтор цикла.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"grid_bot/internal/exchange"
	"grid_bot/internal/metrics"
	"grid_bot/internal/models"
	"grid_bot/internal/ordertag"
	"grid_bot/internal/retry"
	"grid_bot/pkg/logger"
	"grid_bot/pkg/tracing"
)

type Options struct {
	Timing         Timing
	ToleranceTicks float64
	// KeepOrdersOnStop не снимать свои ордера при остановке оператором
	KeepOrdersOnStop bool
}

type Engine struct {
	cfg      models.EngineConfig
	ex       exchange.Exchange
	notifier Notifier
	trades   TradeStore
	commands CommandSource
	sink     StatusSink
	log      *zap.Logger
	opts     Options
	t        Timing
	now      func() time.Time

	state     State
	market    models.Market
	rec       *Reconciler
	registry  *Registry
	guard     *Guard
	startedAt time.Time
	repeat    bool
	// постоянное обновление: ордера пересобираются каждую итерацию до clear_refresh
	forceRefresh bool

	entryPending   bool
	entryLockUntil time.Time
	lastEntryTry   time.Time
	openedAt       time.Time
	legsPlaced     bool
	legsDone       map[int]bool
	lastSize       float64
	lastEntry      float64
	// средняя цена входа, от которой выставлены текущие TP/SL; 0 = не выставлены
	protectedAt float64
}

func New(cfg models.EngineConfig, ex exchange.Exchange, notifier Notifier, trades TradeStore, commands CommandSource, sink StatusSink, log *zap.Logger, opts Options) *Engine {
	if sink == nil {
		sink = nopSink{}
	}
	return &Engine{
		cfg:      cfg,
		ex:       ex,
		notifier: notifier,
		trades:   trades,
		commands: commands,
		sink:     sink,
		log:      logger.ForBot(log, cfg.UserID, cfg.Symbol, zap.String("exchange", ex.ID())),
		opts:     opts,
		t:        opts.Timing,
		now:      time.Now,
	}
}

func (e *Engine) State() State { return e.state }

// Run работает до остановки контекстом, завершения цикла без повтора или safety stop.
// Временные ошибки перезапускают движок с нуля, не больше Timing.RunAttempts раз.
func (e *Engine) Run(ctx context.Context) (Outcome, error) {
	if err := e.cfg.Validate(); err != nil {
		return OutcomeFailed, err
	}

	var outcome Outcome
	policy := retry.Policy{MaxAttempts: e.t.RunAttempts, BaseDelay: e.t.RunBackoff, MaxDelay: 4 * e.t.RunBackoff}
	err := retry.Do(ctx, policy, func(attempt int) error {
		out, err := e.runOnce(ctx)
		outcome = out
		if err == nil {
			return nil
		}
		var cfgErr *models.ConfigError
		if ctx.Err() != nil || errors.As(err, &cfgErr) {
			return retry.Permanent(err)
		}
		e.log.Error("engine attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		e.sink.ReportError(ctx, err)
		return err
	}, func(err error, wait time.Duration) {
		e.notify(ctx, "⚠️ Движок упал: %v. Перезапуск через %s", err, wait)
	})

	if ctx.Err() != nil {
		if !e.opts.KeepOrdersOnStop {
			e.cancelOwn()
		}
		e.log.Info("engine stopped by operator", zap.String("state", e.state.String()))
		return OutcomeStopped, nil
	}
	if err != nil {
		var cfgErr *models.ConfigError
		if !errors.As(err, &cfgErr) {
			e.notify(context.Background(), "🛑 Бот остановлен: все попытки перезапуска исчерпаны (%v)", err)
		}
		e.cancelOwn()
		return OutcomeFailed, err
	}
	return outcome, nil
}

func (e *Engine) reset() {
	e.startedAt = e.now()
	e.state = StateInit
	e.registry = NewRegistry()
	e.guard = NewGuard(e.registry, e.t.GuardInterval, e.opts.ToleranceTicks, e.startedAt, e.now)
	e.repeat = e.cfg.Repeat
	e.forceRefresh = false
	e.resetCycle()
}

func (e *Engine) resetCycle() {
	e.entryPending = false
	e.entryLockUntil = time.Time{}
	e.openedAt = time.Time{}
	e.legsPlaced = false
	e.legsDone = make(map[int]bool)
	e.lastSize = 0
	e.lastEntry = 0
	e.protectedAt = 0
}

func (e *Engine) runOnce(ctx context.Context) (Outcome, error) {
	e.reset()
	if err := e.init(ctx); err != nil {
		return OutcomeFailed, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return OutcomeStopped, err
		}
		e.sink.Heartbeat(ctx, e.state)

		err := e.step(ctx)
		switch {
		case err == nil:
		case errors.Is(err, errTerminated):
			e.sink.Heartbeat(ctx, e.state)
			return OutcomeCompleted, nil
		case errors.Is(err, errSafetyStop):
			e.sink.Heartbeat(ctx, e.state)
			return OutcomeSafetyStop, nil
		case ctx.Err() != nil:
			return OutcomeStopped, ctx.Err()
		default:
			metrics.CycleErrors.WithLabelValues(e.ex.ID()).Inc()
			e.log.Warn("cycle failed", zap.String("state", e.state.String()), zap.Error(err))
			e.sink.ReportError(ctx, err)
			e.notify(ctx, "⚠️ Ошибка цикла: %v", err)
			if err := sleep(ctx, e.t.ErrorSleep); err != nil {
				return OutcomeStopped, err
			}
			continue
		}
		if err := sleep(ctx, e.t.CycleInterval); err != nil {
			return OutcomeStopped, err
		}
	}
}

// init загрузка инструмента, плечо, уборка остатков прошлого запуска и сверка TP.
func (e *Engine) init(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Engine.init: %w", err)
		}
	}()

	e.state = StateInit
	market, err := e.ex.LoadMarket(ctx, e.cfg.Symbol)
	if err != nil {
		return err
	}
	e.market = market
	e.rec = NewReconciler(e.ex, e.cfg, market, e.log)
	e.rec.onPlaced = e.registerOrder

	if err := e.ex.SetLeverage(ctx, e.cfg.Symbol, e.cfg.Leverage); err != nil {
		e.log.Warn("set leverage failed", zap.Int("leverage", e.cfg.Leverage), zap.Error(err))
	}

	ok, err := HardCancel(ctx, e.ex, e.cfg.Symbol, e.t.cancelOptions(nil), e.log)
	if err != nil {
		return err
	}
	if !ok {
		e.log.Warn("leftover orders survived startup cleanup")
	}

	rep, err := e.rec.EnsureTakeProfitExists(ctx)
	if err != nil {
		e.log.Warn("startup reconciliation failed", zap.Error(err))
	}

	pos, err := e.ex.FetchPosition(ctx, e.cfg.Symbol, e.cfg.Side)
	if err != nil {
		return err
	}
	if pos.Open() {
		e.lastSize, e.lastEntry = pos.Size, pos.EntryPrice
		e.openedAt = e.startedAt
		if len(rep.Placed) > 0 {
			e.protectedAt = pos.EntryPrice
		}
		e.state = StateMonitoring
	} else {
		e.state = StateNoPosition
	}
	e.guard.Snooze(e.t.StartupSnooze)

	e.log.Info("engine initialised",
		zap.String("state", e.state.String()),
		zap.Float64("position", pos.Size),
		zap.Strings("reconcile", rep.Actions),
	)
	e.notify(ctx, "▶️ Бот запущен: %s %s x%d, ступеней %d, повтор %v", e.cfg.Symbol, e.cfg.Side, e.cfg.Leverage, e.cfg.LegCount(), e.repeat)
	return nil
}

// step одна итерация цикла. Паузы между итерациями делает runOnce.
func (e *Engine) step(ctx context.Context) (err error) {
	span, ctx := tracing.StartBotSpan(ctx, "engine.step", e.cfg.UserID, e.cfg.Symbol)
	defer func() { tracing.Finish(span, err) }()
	span.SetTag("state", e.state.String())

	e.applyCommand(ctx)

	pos, err := e.ex.FetchPosition(ctx, e.cfg.Symbol, e.cfg.Side)
	if err != nil {
		return err
	}

	if e.repeat && e.guard.Due() {
		if err := e.runGuard(ctx, pos); err != nil {
			return err
		}
	}

	if !pos.Open() && e.lastSize > 0 {
		return e.confirmClose(ctx)
	}

	if e.entryPending {
		if pos.Open() {
			return e.onEntryFilled(ctx, pos)
		}
		if e.now().Before(e.entryLockUntil) {
			return nil
		}
		e.entryPending = false
		e.log.Warn("entry not filled before lock expired")
	}

	if !pos.Open() {
		e.state = StateNoPosition
		return e.enter(ctx)
	}

	if !e.legsPlaced {
		return e.ladder(ctx, pos)
	}

	e.state = StateMonitoring
	return e.maintain(ctx, pos)
}

func (e *Engine) registerOrder(o models.Order, tag string) {
	e.registry.Register(o, tag)
	e.guard.Snooze(e.t.OrderSnooze)
}

func (e *Engine) place(ctx context.Context, purpose ordertag.Purpose, req models.OrderRequest) (models.Order, error) {
	req.Params = ordertag.Params(req.Tag)
	o, err := e.ex.CreateOrder(ctx, req)
	if err != nil {
		if exchange.IsReject(err) {
			metrics.OrderRejects.WithLabelValues(e.ex.ID(), string(purpose)).Inc()
		}
		return models.Order{}, err
	}
	metrics.OrdersPlaced.WithLabelValues(e.ex.ID(), string(purpose)).Inc()
	e.registerOrder(o, req.Tag)
	return o, nil
}

// enter рыночный вход нулевой ступенью.
func (e *Engine) enter(ctx context.Context) error {
	if !e.lastEntryTry.IsZero() && e.now().Sub(e.lastEntryTry) < e.t.EntryCooldown {
		return nil
	}

	ok, err := HardCancel(ctx, e.ex, e.cfg.Symbol, e.t.cancelOptions(nil), e.log)
	if err != nil {
		return err
	}
	if !ok {
		e.log.Warn("orders left before entry, postponing")
		return nil
	}

	ticker, err := e.ex.FetchTicker(ctx, e.cfg.Symbol)
	if err != nil {
		return err
	}
	e.lastEntryTry = e.now()

	qty := e.market.ContractsFor(e.cfg.Grids[0].Amount*float64(e.cfg.Leverage), ticker.Last)
	if qty <= 0 || qty < e.market.MinQty {
		e.notify(ctx, "❗ Объём входа %v меньше минимального %v для %s", qty, e.market.MinQty, e.cfg.Symbol)
		return nil
	}

	e.state = StateEntering
	tag := ordertag.Make(ordertag.Entry, e.cfg.UserID, e.cfg.Symbol)
	_, err = e.place(ctx, ordertag.Entry, models.OrderRequest{
		Symbol:       e.cfg.Symbol,
		Type:         models.OrderMarket,
		Side:         e.cfg.Side.EntrySide(),
		PositionSide: e.cfg.Side,
		Amount:       qty,
		Tag:          tag,
	})
	if err != nil {
		e.state = StateNoPosition
		if exchange.IsReject(err) {
			e.notify(ctx, "❗ Вход отклонён биржей: %v", err)
			return nil
		}
		return err
	}
	e.entryPending = true
	e.entryLockUntil = e.now().Add(e.t.EntryLock)

	for i := 0; i < e.t.FillPollAttempts; i++ {
		pos, err := e.ex.FetchPosition(ctx, e.cfg.Symbol, e.cfg.Side)
		if err != nil {
			return err
		}
		if pos.Open() {
			return e.onEntryFilled(ctx, pos)
		}
		if err := sleep(ctx, e.t.FillPollInterval); err != nil {
			return err
		}
	}
	e.notify(ctx, "⏳ Вход по %s ещё не исполнен, ждём", e.cfg.Symbol)
	return nil
}

func (e *Engine) onEntryFilled(ctx context.Context, pos models.Position) error {
	e.entryPending = false
	e.entryLockUntil = time.Time{}
	e.openedAt = e.lastEntryTry
	if e.openedAt.IsZero() {
		e.openedAt = e.startedAt
	}
	e.lastSize, e.lastEntry = pos.Size, pos.EntryPrice
	e.legsPlaced = false
	e.legsDone = make(map[int]bool)

	e.log.Info("entry filled", zap.Float64("size", pos.Size), zap.Float64("entry", pos.EntryPrice))
	e.notify(ctx, "🚀 Вход: %s %s %v @ %v", e.cfg.Symbol, e.cfg.Side, pos.Size, pos.EntryPrice)

	if err := e.protect(ctx, pos); err != nil {
		return err
	}
	e.state = StateLaddering
	return sleep(ctx, e.t.PostEntryPause)
}

// protect переставляет TP и SL от текущей средней цены.
func (e *Engine) protect(ctx context.Context, pos models.Position) error {
	if _, err := e.rec.CancelProtective(ctx); err != nil {
		return err
	}
	e.protectedAt = 0

	failed := false
	tp, err := e.rec.PlaceTakeProfit(ctx, pos.EntryPrice, pos.Size)
	if err != nil {
		if !exchange.IsReject(err) {
			return err
		}
		failed = true
		e.notify(ctx, "❗ TP не выставлен: %v", err)
	}
	sl, err := e.rec.PlaceStopLoss(ctx, pos.EntryPrice, pos.Size)
	if err != nil {
		if !exchange.IsReject(err) {
			return err
		}
		failed = true
		e.notify(ctx, "❗ SL не выставлен: %v", err)
	}
	if !failed {
		e.protectedAt = pos.EntryPrice
	}

	msg := "🎯 Защита обновлена:"
	if tp != nil {
		msg += fmt.Sprintf(" TP %v", tp.Price)
	}
	if sl != nil {
		msg += fmt.Sprintf(" SL %v", sl.StopPrice)
	}
	e.notify(ctx, "%s (средняя %v, объём %v)", msg, pos.EntryPrice, pos.Size)
	return nil
}

// ladder выставляет лимитки усреднения, один раз на цикл.
func (e *Engine) ladder(ctx context.Context, pos models.Position) error {
	e.state = StateLaddering
	plan := PlanLegs(e.cfg, e.market, pos.EntryPrice)

	placed := 0
	for _, leg := range plan {
		if e.legsDone[leg.N] {
			continue
		}
		_, err := e.place(ctx, ordertag.Leg, models.OrderRequest{
			Symbol:       e.cfg.Symbol,
			Type:         models.OrderLimit,
			Side:         e.cfg.Side.EntrySide(),
			PositionSide: e.cfg.Side,
			Amount:       leg.Qty,
			Price:        leg.Price,
			Tag:          ordertag.MakeLeg(leg.N, e.cfg.UserID, e.cfg.Symbol),
		})
		if err != nil {
			if !exchange.IsReject(err) {
				return err
			}
			e.log.Warn("leg rejected", zap.Int("leg", leg.N), zap.Float64("price", leg.Price), zap.Error(err))
		} else {
			placed++
		}
		e.legsDone[leg.N] = true
	}
	e.legsPlaced = true
	e.log.Info("grid placed", zap.Int("legs", placed), zap.Int("planned", len(plan)))
	if len(plan) > 0 {
		e.notify(ctx, "📐 Сетка выставлена: %d из %d ордеров", placed, len(plan))
	}

	if err := sleep(ctx, e.t.PostLadderPause); err != nil {
		return err
	}

	// ступени могли исполниться сразу
	now, err := e.ex.FetchPosition(ctx, e.cfg.Symbol, e.cfg.Side)
	if err != nil {
		return err
	}
	e.state = StateMonitoring
	if now.Open() && now.Size > e.lastSize {
		e.lastSize, e.lastEntry = now.Size, now.EntryPrice
		return e.protect(ctx, now)
	}
	return nil
}

// maintain переставляет TP/SL, если средняя ушла больше чем на 2 тика.
func (e *Engine) maintain(ctx context.Context, pos models.Position) error {
	if pos.Size > e.lastSize {
		e.notify(ctx, "➕ Добор: объём %v, средняя %v", pos.Size, pos.EntryPrice)
	}
	e.lastSize, e.lastEntry = pos.Size, pos.EntryPrice

	if e.cfg.TakeProfitFraction() <= 0 && e.cfg.StopLossFraction() <= 0 {
		return nil
	}
	if e.protectedAt != 0 && math.Abs(pos.EntryPrice-e.protectedAt) <= e.market.Ticks(2) {
		return nil
	}
	return e.protect(ctx, pos)
}

func (e *Engine) confirmClose(ctx context.Context) error {
	if err := sleep(ctx, e.t.CloseConfirmDelay); err != nil {
		return err
	}
	pos, err := e.ex.FetchPosition(ctx, e.cfg.Symbol, e.cfg.Side)
	if err != nil {
		return err
	}
	if pos.Open() {
		e.lastSize, e.lastEntry = pos.Size, pos.EntryPrice
		return nil
	}
	return e.close(ctx)
}

// close позиция закрылась: уборка, PnL, запись сделки, повтор или завершение.
func (e *Engine) close(ctx context.Context) error {
	e.state = StateClosing

	ok, err := HardCancel(ctx, e.ex, e.cfg.Symbol, e.t.cancelOptions(nil), e.log)
	if err != nil {
		return err
	}
	if !ok {
		e.notify(ctx, "⚠️ После закрытия остались открытые ордера по %s", e.cfg.Symbol)
	}

	fills, err := e.ex.FetchRecentFills(ctx, e.cfg.Symbol, e.openedAt)
	if err != nil {
		e.log.Warn("fills unavailable, pnl will be estimated", zap.Error(err))
	}
	fallback := e.lastEntry
	if t, err := e.ex.FetchTicker(ctx, e.cfg.Symbol); err == nil {
		fallback = t.Last
	}
	res := RealizedPnl(e.cfg.Side, e.lastEntry, e.lastSize, e.market.ContractSize, fills, fallback)

	rec := models.TradeRecord{
		UserID:     e.cfg.UserID,
		Symbol:     e.cfg.Symbol,
		Side:       e.cfg.Side,
		EntryPrice: e.lastEntry,
		ExitPrice:  res.Exit,
		Size:       e.lastSize,
		Pnl:        res.Pnl,
		PnlSource:  res.Source,
		ClosedAt:   e.now(),
	}
	if e.trades != nil {
		if err := e.trades.SaveTradeRecord(ctx, rec); err != nil {
			e.log.Error("save trade failed", zap.Error(err))
		}
	}

	result := "win"
	if res.Pnl < 0 {
		result = "loss"
	}
	metrics.TradesClosed.WithLabelValues(result).Inc()
	metrics.TradePnl.Observe(res.Pnl)
	e.log.Info("position closed",
		zap.Float64("entry", rec.EntryPrice),
		zap.Float64("exit", rec.ExitPrice),
		zap.Float64("size", rec.Size),
		zap.Float64("pnl", rec.Pnl),
		zap.String("pnl_source", rec.PnlSource),
	)
	e.notify(ctx, "✅ Позиция %s закрыта: %v → %v, объём %v, PnL %.4f", e.cfg.Symbol, rec.EntryPrice, rec.ExitPrice, rec.Size, rec.Pnl)

	e.resetCycle()
	if !e.repeat {
		e.state = StateTerminated
		e.notify(ctx, "🏁 Цикл завершён, повтор выключен")
		return errTerminated
	}
	e.state = StateNoPosition
	return sleep(ctx, e.t.RepeatCooldown)
}

func (e *Engine) runGuard(ctx context.Context, pos models.Position) error {
	var exp Expected
	if pos.Open() {
		exp = e.rec.Expected(pos.EntryPrice)
	}
	bad, err := e.guard.Check(ctx, e.ex, e.cfg.Symbol, exp, e.market.TickSize)
	if err != nil {
		return err
	}
	if len(bad) == 0 {
		return nil
	}

	metrics.GuardTrips.Inc()
	ids := make([]string, 0, len(bad))
	for _, o := range bad {
		ids = append(ids, o.ID)
	}
	e.log.Warn("unexplained orders, safety stop", zap.Strings("order_ids", ids))
	e.state = StateSafetyStopped
	e.notify(ctx, "🚨 На %s найдены чужие ордера (%d). Бот остановлен, свои ордера сняты, чужие не тронуты.", e.cfg.Symbol, len(bad))

	if ok, err := HardCancel(ctx, e.ex, e.cfg.Symbol, e.t.cancelOptions(e.registry.Mine), e.log); err != nil || !ok {
		e.log.Warn("own orders not fully cancelled after safety stop", zap.Bool("ok", ok), zap.Error(err))
	}
	return errSafetyStop
}

// applyCommand забирает не больше одной команды за итерацию.
// В режиме постоянного обновления сетка пересобирается и без команды.
func (e *Engine) applyCommand(ctx context.Context) {
	rebuilt := false
	if cmd := e.claimCommand(ctx); cmd != nil {
		var cmdErr error
		switch cmd.Type {
		case models.CommandRefresh:
			e.forceRefresh = true
			e.notify(ctx, "🔄 Постоянное обновление ордеров включено")
			cmdErr, rebuilt = e.refresh(ctx), true
		case models.CommandSingleRefresh:
			e.notify(ctx, "🔄 Ордера пересобираются")
			cmdErr, rebuilt = e.refresh(ctx), true
		case models.CommandClearRefresh:
			e.forceRefresh = false
			e.notify(ctx, "⏹ Постоянное обновление ордеров выключено")
		case models.CommandStopRepeat:
			e.repeat = false
			e.notify(ctx, "🔁 Повтор выключен, бот завершится после закрытия позиции")
		default:
			cmdErr = fmt.Errorf("unknown command %q", cmd.Type)
		}
		e.guard.Snooze(e.t.StartupSnooze)

		if cmdErr != nil {
			e.log.Warn("command failed", zap.String("command", string(cmd.Type)), zap.Error(cmdErr))
		}
		if err := e.commands.CompleteCommand(ctx, cmd.ID, cmdErr); err != nil {
			e.log.Warn("complete command failed", zap.String("command_id", cmd.ID), zap.Error(err))
		}
	}

	if e.forceRefresh && !rebuilt {
		if err := e.refresh(ctx); err != nil {
			e.log.Warn("continuous refresh failed", zap.Error(err))
		}
		e.guard.Snooze(e.t.StartupSnooze)
	}
}

func (e *Engine) claimCommand(ctx context.Context) *models.Command {
	if e.commands == nil {
		return nil
	}
	cmd, err := e.commands.ClaimCommand(ctx, e.cfg.UserID)
	if err != nil {
		e.log.Warn("claim command failed", zap.Error(err))
		return nil
	}
	return cmd
}

// refresh снимает свои ордера, сбрасывает сетку и сразу ставит TP/SL от текущей позиции.
// Ступени выставит ladder на этой же итерации. Рыночный вход в ожидании не трогается.
func (e *Engine) refresh(ctx context.Context) error {
	ok, err := HardCancel(ctx, e.ex, e.cfg.Symbol, e.t.cancelOptions(e.registry.Mine), e.log)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("own orders still open after refresh")
	}
	e.legsPlaced = false
	e.legsDone = make(map[int]bool)
	e.protectedAt = 0

	pos, err := e.ex.FetchPosition(ctx, e.cfg.Symbol, e.cfg.Side)
	if err != nil {
		return err
	}
	if !pos.Open() {
		return nil
	}
	e.log.Info("orders rebuilt", zap.Float64("position", pos.Size), zap.Bool("continuous", e.forceRefresh))
	return e.protect(ctx, pos)
}

// cancelOwn снимает только свои ордера, на отдельном контексте: исходный уже отменён.
func (e *Engine) cancelOwn() {
	if e.registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.t.ExitCleanup())
	defer cancel()
	ok, err := HardCancel(ctx, e.ex, e.cfg.Symbol, e.t.cancelOptions(e.registry.Mine), e.log)
	if err != nil || !ok {
		e.log.Warn("own orders not fully cancelled on exit", zap.Bool("ok", ok), zap.Error(err))
	}
}

func (e *Engine) notify(ctx context.Context, format string, args ...any) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(ctx, e.cfg.ChatID, fmt.Sprintf(format, args...)); err != nil {
		e.log.Debug("notify failed", zap.Error(err))
	}
}
