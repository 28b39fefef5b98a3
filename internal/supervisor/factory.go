package supervisor

import (
	"context"
	"time"

	"grid_bot/internal/engine"
	"grid_bot/internal/models"
)

type Runner interface {
	Run(ctx context.Context) (engine.Outcome, error)
}

type Reconciler interface {
	EnsureTakeProfitExists(ctx context.Context) (engine.Report, error)
}

// Factory создаёт движок и разовую сверку. Каждый вызов даёт новое соединение с биржей.
// ExitCleanup сколько Runner может убирать за собой после отмены контекста.
type Factory interface {
	NewRunner(cfg models.EngineConfig, sink engine.StatusSink) (Runner, error)
	NewReconciler(ctx context.Context, cfg models.EngineConfig) (Reconciler, error)
	ExitCleanup() time.Duration
}

type engineFactory struct {
	f *engine.Factory
}

func FromEngine(f *engine.Factory) Factory { return engineFactory{f: f} }

func (e engineFactory) NewRunner(cfg models.EngineConfig, sink engine.StatusSink) (Runner, error) {
	eng, err := e.f.New(cfg, sink)
	if err != nil {
		return nil, err
	}
	return eng, nil
}

func (e engineFactory) ExitCleanup() time.Duration { return e.f.ExitCleanup() }

func (e engineFactory) NewReconciler(ctx context.Context, cfg models.EngineConfig) (Reconciler, error) {
	rec, err := e.f.NewReconciler(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
