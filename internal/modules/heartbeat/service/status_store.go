package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"grid_bot/internal/models"
	"grid_bot/internal/supervisor"
)

var _ supervisor.StatusStore = (*StatusStore)(nil)

// StatusStore пишет статусы в основное хранилище, а свежие пульсы дублирует
// в redis. Без кэша работает как само хранилище.
type StatusStore struct {
	store supervisor.StatusStore
	cache *Cache
	log   *zap.Logger
}

func NewStatusStore(store supervisor.StatusStore, cache *Cache, log *zap.Logger) *StatusStore {
	return &StatusStore{store: store, cache: cache, log: log.Named("heartbeat")}
}

func (s *StatusStore) UpdateRunStatus(ctx context.Context, rec models.RunStatusRecord) error {
	if err := s.store.UpdateRunStatus(ctx, rec); err != nil {
		return err
	}
	if s.cache == nil {
		return nil
	}
	var err error
	if rec.Status == models.StatusRunning {
		at := rec.LastHeartbeat
		if at.IsZero() {
			at = time.Now()
		}
		err = s.cache.Put(ctx, Beat{UserID: rec.UserID, RunID: rec.RunID, State: rec.State, At: at})
	} else {
		err = s.cache.Delete(ctx, rec.UserID)
	}
	if err != nil {
		s.log.Warn("redis status write failed", zap.Int64("user", rec.UserID), zap.Error(err))
	}
	return nil
}

func (s *StatusStore) Heartbeat(ctx context.Context, userID int64, state string, at time.Time) error {
	if s.cache != nil {
		if err := s.cache.Put(ctx, Beat{UserID: userID, State: state, At: at}); err != nil {
			s.log.Warn("redis heartbeat failed", zap.Int64("user", userID), zap.Error(err))
		}
	}
	return s.store.Heartbeat(ctx, userID, state, at)
}

func (s *StatusStore) GetRunStatus(ctx context.Context, userID int64) (models.RunStatusRecord, bool, error) {
	rec, ok, err := s.store.GetRunStatus(ctx, userID)
	if err != nil || !ok || s.cache == nil {
		return rec, ok, err
	}
	b, found, cerr := s.cache.Get(ctx, userID)
	if cerr != nil {
		s.log.Debug("redis heartbeat read failed", zap.Error(cerr))
		return rec, ok, nil
	}
	if found {
		overlay(&rec, b)
	}
	return rec, ok, nil
}

func (s *StatusStore) ListRunStatuses(ctx context.Context) ([]models.RunStatusRecord, error) {
	recs, err := s.store.ListRunStatuses(ctx)
	if err != nil || s.cache == nil || len(recs) == 0 {
		return recs, err
	}
	ids := make([]int64, len(recs))
	for i := range recs {
		ids[i] = recs[i].UserID
	}
	beats, cerr := s.cache.GetMany(ctx, ids)
	if cerr != nil {
		s.log.Debug("redis heartbeat read failed", zap.Error(cerr))
		return recs, nil
	}
	for i := range recs {
		if b, ok := beats[recs[i].UserID]; ok {
			overlay(&recs[i], b)
		}
	}
	return recs, nil
}

// overlay пульс из redis свежее строки в БД только пока запуск running.
func overlay(rec *models.RunStatusRecord, b Beat) {
	if rec.Status != models.StatusRunning || !b.At.After(rec.LastHeartbeat) {
		return
	}
	rec.LastHeartbeat = b.At
	if b.State != "" {
		rec.State = b.State
	}
}
