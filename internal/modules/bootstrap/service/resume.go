package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"grid_bot/internal/models"
	"grid_bot/internal/supervisor"
)

type Starter interface {
	Start(ctx context.Context, userID int64) (supervisor.StartResult, error)
}

type StatusLister interface {
	ListRunStatuses(ctx context.Context) ([]models.RunStatusRecord, error)
}

type Notifier interface {
	Send(ctx context.Context, chatID int64, msg string) error
}

// Resumer поднимает движки, которые были running до рестарта процесса.
type Resumer struct {
	starter  Starter
	statuses StatusLister
	n        Notifier
	log      *zap.Logger

	// ограничитель параллелизма, чтобы не словить rate limit биржи
	parallel int
}

func NewResumer(starter Starter, statuses StatusLister, n Notifier, parallel int, log *zap.Logger) *Resumer {
	if parallel <= 0 {
		parallel = 4
	}
	return &Resumer{starter: starter, statuses: statuses, n: n, parallel: parallel, log: log.Named("resume")}
}

// Resume возвращает число запущенных движков. Ошибка старта одного пользователя
// не мешает остальным.
func (r *Resumer) Resume(ctx context.Context) (int, error) {
	recs, err := r.statuses.ListRunStatuses(ctx)
	if err != nil {
		return 0, fmt.Errorf("Resumer.Resume: %w", err)
	}

	var started atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)

	for _, rec := range recs {
		if rec.Status != models.StatusRunning {
			continue
		}
		userID := rec.UserID
		g.Go(func() error {
			res, err := r.starter.Start(gctx, userID)
			switch {
			case errors.Is(err, supervisor.ErrAlreadyRunning):
				return nil
			case err != nil:
				r.log.Warn("resume failed", zap.Int64("user", userID), zap.String("status", res.Status), zap.Error(err))
				r.notify(gctx, userID, "⚠️ Бот не перезапущен после рестарта: "+res.Message)
				return nil
			}
			started.Add(1)
			r.notify(gctx, userID, "♻️ Бот перезапущен после рестарта сервиса")
			return nil
		})
	}
	_ = g.Wait()
	return int(started.Load()), ctx.Err()
}

func (r *Resumer) notify(ctx context.Context, userID int64, msg string) {
	if r.n == nil {
		return
	}
	if err := r.n.Send(ctx, userID, msg); err != nil {
		r.log.Debug("notify failed", zap.Int64("user", userID), zap.Error(err))
	}
}
