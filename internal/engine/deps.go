package engine

import (
	"context"
	"time"

	"grid_bot/internal/exchange"
	"grid_bot/internal/models"
)

type Notifier interface {
	Send(ctx context.Context, chatID int64, msg string) error
}

type TradeStore interface {
	SaveTradeRecord(ctx context.Context, rec models.TradeRecord) error
}

// CommandSource очередь операторских команд. ClaimCommand возвращает nil, если очередь пуста.
type CommandSource interface {
	ClaimCommand(ctx context.Context, userID int64) (*models.Command, error)
	CompleteCommand(ctx context.Context, id string, cmdErr error) error
}

// StatusSink куда движок отчитывается о живости. Вызывается из горутины движка.
type StatusSink interface {
	Heartbeat(ctx context.Context, state State)
	ReportError(ctx context.Context, err error)
}

type ExchangeFactory interface {
	New(cfg models.EngineConfig) (exchange.Exchange, error)
}

type nopSink struct{}

func (nopSink) Heartbeat(context.Context, State)   {}
func (nopSink) ReportError(context.Context, error) {}

// Timing все паузы движка. В тестах обнуляется.
type Timing struct {
	CycleInterval     time.Duration `mapstructure:"cycle_interval"`
	ErrorSleep        time.Duration `mapstructure:"error_sleep"`
	FillPollInterval  time.Duration `mapstructure:"fill_poll_interval"`
	FillPollAttempts  int           `mapstructure:"fill_poll_attempts"`
	EntryLock         time.Duration `mapstructure:"entry_lock"`
	EntryCooldown     time.Duration `mapstructure:"entry_cooldown"`
	PostEntryPause    time.Duration `mapstructure:"post_entry_pause"`
	PostLadderPause   time.Duration `mapstructure:"post_ladder_pause"`
	CloseConfirmDelay time.Duration `mapstructure:"close_confirm_delay"`
	RepeatCooldown    time.Duration `mapstructure:"repeat_cooldown"`

	GuardInterval time.Duration `mapstructure:"guard_interval"`
	OrderSnooze   time.Duration `mapstructure:"order_snooze"`
	StartupSnooze time.Duration `mapstructure:"startup_snooze"`

	CancelWait      time.Duration `mapstructure:"cancel_wait"`
	CancelPoll      time.Duration `mapstructure:"cancel_poll"`
	CancelRetries   int           `mapstructure:"cancel_retries"`
	CancelBaseDelay time.Duration `mapstructure:"cancel_base_delay"`
	CancelMaxDelay  time.Duration `mapstructure:"cancel_max_delay"`

	RunAttempts int           `mapstructure:"run_attempts"`
	RunBackoff  time.Duration `mapstructure:"run_backoff"`
}

func DefaultTiming() Timing {
	return Timing{
		CycleInterval:     10 * time.Second,
		ErrorSleep:        5 * time.Second,
		FillPollInterval:  time.Second,
		FillPollAttempts:  8,
		EntryLock:         8 * time.Second,
		EntryCooldown:     8 * time.Second,
		PostEntryPause:    5 * time.Second,
		PostLadderPause:   2 * time.Second,
		CloseConfirmDelay: 3 * time.Second,
		RepeatCooldown:    8 * time.Second,

		GuardInterval: 5 * time.Second,
		OrderSnooze:   10 * time.Second,
		StartupSnooze: 15 * time.Second,

		CancelWait:      10 * time.Second,
		CancelPoll:      500 * time.Millisecond,
		CancelRetries:   3,
		CancelBaseDelay: 500 * time.Millisecond,
		CancelMaxDelay:  4 * time.Second,

		RunAttempts: 3,
		RunBackoff:  5 * time.Second,
	}
}

// exitCleanupSlack запас сверх CancelWait на ретраи снятия при выходе.
const exitCleanupSlack = 15 * time.Second

// ExitCleanup предел, сколько Run снимает свои ордера после отмены контекста.
func (t Timing) ExitCleanup() time.Duration { return t.CancelWait + exitCleanupSlack }

func (t Timing) cancelOptions(filter func(models.Order) bool) CancelOptions {
	return CancelOptions{
		Wait:      t.CancelWait,
		Poll:      t.CancelPoll,
		Retries:   t.CancelRetries,
		BaseDelay: t.CancelBaseDelay,
		MaxDelay:  t.CancelMaxDelay,
		Filter:    filter,
	}
}

// sleep пауза с учётом отмены контекста.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
