// Package memory хранилище в памяти процесса. Настройки можно сохранять
// снимком в JSON-файл, остальное живёт до перезапуска.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"grid_bot/internal/models"
	"grid_bot/internal/modules/storage/service"
)

var _ service.Store = (*Store)(nil)

type Store struct {
	path string

	mu       sync.RWMutex
	settings map[int64]models.UserSettings
	statuses map[int64]models.RunStatusRecord
	trades   map[int64][]models.TradeRecord
	commands []*models.Command
	tradeSeq int64

	now func() time.Time
}

// New пустое хранилище. path пустой => снимок настроек не пишется.
func New(path string) (*Store, error) {
	s := &Store{
		path:     path,
		settings: make(map[int64]models.UserSettings),
		statuses: make(map[int64]models.RunStatusRecord),
		trades:   make(map[int64][]models.TradeRecord),
		now:      time.Now,
	}
	if path != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) LoadSettings(_ context.Context, userID int64) (models.UserSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	us, ok := s.settings[userID]
	if !ok {
		return models.UserSettings{}, models.ErrNotFound
	}
	return cloneSettings(us), nil
}

func (s *Store) SaveSettings(_ context.Context, us models.UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	us = cloneSettings(us)
	us.UpdatedAt = s.now()
	s.settings[us.UserID] = us
	return s.saveLocked()
}

func (s *Store) ListSettings(context.Context) ([]models.UserSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.UserSettings, 0, len(s.settings))
	for _, us := range s.settings {
		out = append(out, cloneSettings(us))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) SaveTradeRecord(_ context.Context, rec models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradeSeq++
	rec.ID = s.tradeSeq
	s.trades[rec.UserID] = append(s.trades[rec.UserID], rec)
	return nil
}

func (s *Store) ListTrades(_ context.Context, userID int64, limit int) ([]models.TradeRecord, error) {
	if limit <= 0 {
		limit = service.DefaultTradesLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.trades[userID]
	out := make([]models.TradeRecord, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *Store) UpdateRunStatus(_ context.Context, rec models.RunStatusRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.LastHeartbeat.IsZero() {
		rec.LastHeartbeat = s.statuses[rec.UserID].LastHeartbeat
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now()
	}
	s.statuses[rec.UserID] = rec
	return nil
}

func (s *Store) Heartbeat(_ context.Context, userID int64, state string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.statuses[userID]
	if !ok {
		rec = models.RunStatusRecord{UserID: userID, Status: models.StatusRunning}
	}
	rec.State = state
	rec.LastHeartbeat = at
	rec.UpdatedAt = at
	s.statuses[userID] = rec
	return nil
}

func (s *Store) GetRunStatus(_ context.Context, userID int64) (models.RunStatusRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.statuses[userID]
	return rec, ok, nil
}

func (s *Store) ListRunStatuses(context.Context) ([]models.RunStatusRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RunStatusRecord, 0, len(s.statuses))
	for _, rec := range s.statuses {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) EnqueueCommand(_ context.Context, userID int64, typ models.CommandType) (models.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd := &models.Command{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Status:    models.CommandQueued,
		CreatedAt: s.now(),
	}
	s.commands = append(s.commands, cmd)
	return *cmd, nil
}

// ClaimCommand отдаёт команды пользователя в порядке постановки.
func (s *Store) ClaimCommand(_ context.Context, userID int64) (*models.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cmd := range s.commands {
		if cmd.UserID != userID || cmd.Status != models.CommandQueued {
			continue
		}
		cmd.Status = models.CommandPicked
		cmd.PickedAt = s.now()
		cmd.PickedBy = "memory"
		out := *cmd
		return &out, nil
	}
	return nil, nil
}

func (s *Store) CompleteCommand(_ context.Context, id string, cmdErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cmd := range s.commands {
		if cmd.ID != id {
			continue
		}
		cmd.Status = models.CommandDone
		if cmdErr != nil {
			cmd.Status = models.CommandFailed
			cmd.Error = cmdErr.Error()
		}
		// выполненные команды не копим
		s.commands = append(s.commands[:i], s.commands[i+1:]...)
		return nil
	}
	return models.ErrNotFound
}

func cloneSettings(in models.UserSettings) models.UserSettings {
	out := in
	if in.Grids != nil {
		out.Grids = make([]models.GridLeg, len(in.Grids))
		copy(out.Grids, in.Grids)
	}
	return out
}
