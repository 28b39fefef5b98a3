package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"grid_bot/internal/engine"
	"grid_bot/internal/models"
)

// RunHandle один активный запуск движка. Принадлежит супервизору,
// живёт от резервирования в Start до выхода воркера.
type RunHandle struct {
	RunID     string
	UserID    int64
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	restartCount int

	state         atomic.Int32
	lastHeartbeat atomic.Int64
	lastPersist   atomic.Int64
	lastError     atomic.Pointer[string]

	store        StatusStore
	persistEvery time.Duration
	log          *zap.Logger
}

func (h *RunHandle) alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *RunHandle) finish() { h.once.Do(func() { close(h.done) }) }

func (h *RunHandle) State() engine.State { return engine.State(h.state.Load()) }

func (h *RunHandle) LastHeartbeat() time.Time {
	ns := h.lastHeartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (h *RunHandle) LastError() string {
	if p := h.lastError.Load(); p != nil {
		return *p
	}
	return ""
}

// Heartbeat отметка живости; в хранилище пишется не чаще persistEvery.
func (h *RunHandle) Heartbeat(ctx context.Context, state engine.State) {
	now := time.Now()
	h.state.Store(int32(state))
	h.lastHeartbeat.Store(now.UnixNano())

	if now.UnixNano()-h.lastPersist.Load() < int64(h.persistEvery) {
		return
	}
	h.lastPersist.Store(now.UnixNano())
	if err := h.store.Heartbeat(ctx, h.UserID, state.String(), now); err != nil {
		h.log.Debug("heartbeat not persisted", zap.Error(err))
	}
}

func (h *RunHandle) ReportError(ctx context.Context, err error) {
	msg := err.Error()
	h.lastError.Store(&msg)
	if err := h.store.UpdateRunStatus(ctx, h.record(models.StatusRunning)); err != nil {
		h.log.Debug("error not persisted", zap.Error(err))
	}
}

func (h *RunHandle) record(status models.RunStatus) models.RunStatusRecord {
	return models.RunStatusRecord{
		UserID:        h.UserID,
		Status:        status,
		RunID:         h.RunID,
		State:         h.State().String(),
		LastHeartbeat: h.LastHeartbeat(),
		LastError:     h.LastError(),
		RestartCount:  h.restartCount,
		UpdatedAt:     time.Now(),
	}
}
