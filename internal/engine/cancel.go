package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"grid_bot/internal/exchange"
	"grid_bot/internal/models"
	"grid_bot/internal/retry"
)

type CancelOptions struct {
	Wait      time.Duration
	Poll      time.Duration
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Filter какие ордера снимать. nil = все ордера символа, через массовую отмену.
	Filter func(models.Order) bool
}

// HardCancel снимает ордера символа и возвращает true, только когда
// очередной запрос открытых ордеров пуст (с учётом Filter).
func HardCancel(ctx context.Context, ex exchange.Exchange, symbol string, opts CancelOptions, log *zap.Logger) (ok bool, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("HardCancel %s: %w", symbol, err)
		}
	}()

	pending := func() ([]models.Order, error) {
		orders, err := ex.FetchOpenOrders(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if opts.Filter == nil {
			return orders, nil
		}
		out := orders[:0]
		for _, o := range orders {
			if opts.Filter(o) {
				out = append(out, o)
			}
		}
		return out, nil
	}

	cancelEach := func(orders []models.Order) {
		for _, o := range orders {
			if err := ex.CancelOrder(ctx, symbol, o.ID); err != nil {
				log.Debug("cancel failed", zap.String("order_id", o.ID), zap.Error(err))
			}
		}
	}

	if opts.Filter == nil {
		if err := ex.CancelAllOrders(ctx, symbol); err != nil {
			log.Warn("cancel all failed", zap.String("symbol", symbol), zap.Error(err))
		}
	} else {
		left, err := pending()
		if err != nil {
			return false, err
		}
		cancelEach(left)
	}

	deadline := time.Now().Add(opts.Wait)
	for {
		left, err := pending()
		if err == nil && len(left) == 0 {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			break
		}
		if err := sleep(ctx, opts.Poll); err != nil {
			return false, err
		}
	}

	policy := retry.Policy{MaxAttempts: opts.Retries, BaseDelay: opts.BaseDelay, MaxDelay: opts.MaxDelay}
	rerr := retry.Do(ctx, policy, func(attempt int) error {
		left, err := pending()
		if err != nil {
			return err
		}
		if len(left) == 0 {
			return nil
		}
		log.Info("orders still open, cancelling one by one",
			zap.String("symbol", symbol),
			zap.Int("count", len(left)),
			zap.Int("attempt", attempt),
		)
		cancelEach(left)

		left, err = pending()
		if err != nil {
			return err
		}
		if len(left) > 0 {
			return fmt.Errorf("%d orders still open", len(left))
		}
		return nil
	}, nil)
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if rerr != nil {
		log.Warn("hard cancel gave up", zap.String("symbol", symbol), zap.Error(rerr))
	}

	left, err := pending()
	if err != nil {
		return false, err
	}
	return len(left) == 0, nil
}
