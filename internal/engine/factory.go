package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"grid_bot/internal/models"
)

type FactoryDeps struct {
	Exchanges ExchangeFactory
	Notifier  Notifier
	Trades    TradeStore
	Commands  CommandSource
	Logger    *zap.Logger
	Options   Options
}

// Factory собирает движки с общими зависимостями; соединение с биржей у каждого своё.
type Factory struct {
	deps FactoryDeps
}

func NewFactory(deps FactoryDeps) *Factory {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Factory{deps: deps}
}

// ExitCleanup см. Timing.ExitCleanup.
func (f *Factory) ExitCleanup() time.Duration { return f.deps.Options.Timing.ExitCleanup() }

func (f *Factory) New(cfg models.EngineConfig, sink StatusSink) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ex, err := f.deps.Exchanges.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("Factory.New: %w", err)
	}
	return New(cfg, ex, f.deps.Notifier, f.deps.Trades, f.deps.Commands, sink, f.deps.Logger.Named("engine"), f.deps.Options), nil
}

// NewReconciler сверка TP вне работающего движка, на свежем соединении.
func (f *Factory) NewReconciler(ctx context.Context, cfg models.EngineConfig) (*Reconciler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ex, err := f.deps.Exchanges.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("Factory.NewReconciler: %w", err)
	}
	market, err := ex.LoadMarket(ctx, cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("Factory.NewReconciler: %w", err)
	}
	return NewReconciler(ex, cfg, market, f.deps.Logger.Named("reconciler")), nil
}
