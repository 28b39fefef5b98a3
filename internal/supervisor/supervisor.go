// Package supervisor держит не больше одного движка на пользователя
// и обслуживает операторские действия: старт, стоп, статус, сверка, команды.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"grid_bot/internal/engine"
	"grid_bot/internal/metrics"
	"grid_bot/internal/models"
	"grid_bot/pkg/logger"
	"grid_bot/pkg/tracing"
)

type SettingsStore interface {
	LoadSettings(ctx context.Context, userID int64) (models.UserSettings, error)
}

type StatusStore interface {
	UpdateRunStatus(ctx context.Context, rec models.RunStatusRecord) error
	Heartbeat(ctx context.Context, userID int64, state string, at time.Time) error
	GetRunStatus(ctx context.Context, userID int64) (models.RunStatusRecord, bool, error)
	ListRunStatuses(ctx context.Context) ([]models.RunStatusRecord, error)
}

type CommandQueue interface {
	EnqueueCommand(ctx context.Context, userID int64, typ models.CommandType) (models.Command, error)
}

// JoinTimeout поднимается до времени уборки движка с запасом, см. joinTimeout.
type Config struct {
	JoinTimeout           time.Duration `mapstructure:"join_timeout"`
	HeartbeatPersistEvery time.Duration `mapstructure:"heartbeat_persist_every"`
}

func DefaultConfig() Config {
	return Config{JoinTimeout: 30 * time.Second, HeartbeatPersistEvery: 30 * time.Second}
}

type Supervisor struct {
	mu   sync.Mutex
	runs map[int64]*RunHandle

	settings SettingsStore
	statuses StatusStore
	commands CommandQueue
	factory  Factory
	cfg      Config
	log      *zap.Logger
}

func New(settings SettingsStore, statuses StatusStore, commands CommandQueue, factory Factory, cfg Config, log *zap.Logger) *Supervisor {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultConfig().JoinTimeout
	}
	cfg.JoinTimeout = joinTimeout(cfg.JoinTimeout, factory.ExitCleanup())
	return &Supervisor{
		runs:     make(map[int64]*RunHandle),
		settings: settings,
		statuses: statuses,
		commands: commands,
		factory:  factory,
		cfg:      cfg,
		log:      log.Named("supervisor"),
	}
}

// joinTimeout Stop должен ждать дольше, чем движок снимает ордера при выходе,
// иначе брошенный воркер снимет ордера следующего запуска.
func joinTimeout(configured, cleanup time.Duration) time.Duration {
	if floor := cleanup + cleanup/5; configured < floor {
		return floor
	}
	return configured
}

// reserve занимает слот пользователя до загрузки настроек, чтобы два
// одновременных Start не запустили два движка.
func (s *Supervisor) reserve(userID int64) (*RunHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.runs[userID]; ok {
		if h.alive() {
			return h, false
		}
		delete(s.runs, userID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &RunHandle{
		RunID:        uuid.NewString(),
		UserID:       userID,
		StartedAt:    time.Now(),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		store:        s.statuses,
		persistEvery: s.cfg.HeartbeatPersistEvery,
	}
	h.log = logger.ForBot(s.log, userID, "", zap.String("run_id", h.RunID))
	s.runs[userID] = h
	return h, true
}

func (s *Supervisor) release(h *RunHandle) {
	s.mu.Lock()
	if s.runs[h.UserID] == h {
		delete(s.runs, h.UserID)
	}
	s.mu.Unlock()
	h.cancel()
	h.finish()
}

func (s *Supervisor) Start(ctx context.Context, userID int64) (res StartResult, err error) {
	span, ctx := tracing.StartBotSpan(ctx, "supervisor.Start", userID, "")
	defer func() { tracing.Finish(span, err) }()
	defer func() { s.count("start", err) }()

	h, ok := s.reserve(userID)
	if !ok {
		msg := "бот уже запущен"
		if h.ctx.Err() != nil {
			msg = "предыдущий запуск ещё останавливается"
		}
		return StartResult{Status: StartAlreadyRunning, Message: msg, RunID: h.RunID}, ErrAlreadyRunning
	}

	settings, err := s.settings.LoadSettings(ctx, userID)
	if err != nil {
		s.release(h)
		if errors.Is(err, models.ErrNotFound) {
			return StartResult{Status: StartError, Message: "настройки пользователя не найдены"}, err
		}
		return StartResult{Status: StartError, Message: err.Error()}, fmt.Errorf("Supervisor.Start: %w", err)
	}
	cfg := settings.Snapshot()
	if !cfg.HasCredentials() {
		s.release(h)
		return StartResult{Status: StartMissingCredentials, Message: "не заданы API-ключи биржи"}, ErrMissingCredentials
	}

	runner, err := s.factory.NewRunner(cfg, h)
	if err != nil {
		s.release(h)
		return StartResult{Status: StartError, Message: err.Error()}, err
	}

	prev, found, err := s.statuses.GetRunStatus(ctx, userID)
	if err != nil {
		h.log.Warn("previous status unavailable", zap.Error(err))
	}
	if found {
		h.restartCount = prev.RestartCount
	}
	h.restartCount++

	if err := s.statuses.UpdateRunStatus(ctx, h.record(models.StatusRunning)); err != nil {
		h.log.Warn("running status not persisted", zap.Error(err))
	}

	metrics.RunningEngines.Inc()
	go s.work(h, runner)

	h.log.Info("engine started", zap.String("symbol", cfg.Symbol), zap.String("exchange", cfg.Exchange))
	return StartResult{Success: true, Status: StartStarted, Message: "бот запущен", RunID: h.RunID}, nil
}

func outcomeStatus(out engine.Outcome) models.RunStatus {
	switch out {
	case engine.OutcomeStopped:
		return models.StatusStopped
	case engine.OutcomeCompleted:
		return models.StatusCompleted
	case engine.OutcomeSafetyStop:
		return models.StatusSafetyStopped
	default:
		return models.StatusFailed
	}
}

// work горутина запуска: сама убирает свой handle и пишет итоговый статус.
func (s *Supervisor) work(h *RunHandle, runner Runner) {
	status := models.StatusFailed
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic: %v", r)
			h.lastError.Store(&msg)
			status = models.StatusFailed
			h.log.Error("engine panicked", zap.Any("panic", r))
		}

		s.mu.Lock()
		if s.runs[h.UserID] == h {
			delete(s.runs, h.UserID)
		}
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.statuses.UpdateRunStatus(ctx, h.record(status)); err != nil {
			h.log.Warn("final status not persisted", zap.Error(err))
		}
		metrics.RunningEngines.Dec()
		h.cancel()
		h.finish()
	}()

	out, err := runner.Run(h.ctx)
	status = outcomeStatus(out)
	var cfgErr *models.ConfigError
	if errors.As(err, &cfgErr) {
		status = models.StatusError
	}
	if err != nil {
		msg := err.Error()
		h.lastError.Store(&msg)
	}
	h.log.Info("engine exited", zap.String("outcome", string(out)), zap.String("status", string(status)), zap.Error(err))
}

// Stop идемпотентен. Ждёт выхода воркера не дольше JoinTimeout; если воркер
// ещё убирает ордера, слот освободит он сам при выходе.
func (s *Supervisor) Stop(ctx context.Context, userID int64) (res ActionResult, err error) {
	span, ctx := tracing.StartBotSpan(ctx, "supervisor.Stop", userID, "")
	defer func() { tracing.Finish(span, err) }()
	defer func() { s.count("stop", err) }()

	s.mu.Lock()
	h, ok := s.runs[userID]
	s.mu.Unlock()

	if !ok || !h.alive() {
		if err := s.markStopped(ctx, userID); err != nil {
			return ActionResult{}, err
		}
		return ActionResult{Success: true, Message: "бот не запущен"}, nil
	}

	h.cancel()
	timer := time.NewTimer(s.cfg.JoinTimeout)
	defer timer.Stop()
	select {
	case <-h.done:
	case <-timer.C:
		// слот остаётся занятым, пока воркер не выйдет сам: новый запуск не должен
		// стартовать, пока старый ещё снимает ордера
		h.log.Warn("engine still cleaning up after join timeout", zap.Duration("timeout", s.cfg.JoinTimeout))
		return ActionResult{Success: true, Message: "бот останавливается, ордера ещё снимаются"}, nil
	}

	s.mu.Lock()
	if s.runs[userID] == h {
		delete(s.runs, userID)
	}
	s.mu.Unlock()

	rec := h.record(models.StatusStopped)
	if err := s.statuses.UpdateRunStatus(ctx, rec); err != nil {
		return ActionResult{Success: true, Message: "бот остановлен, статус не сохранён"}, fmt.Errorf("Supervisor.Stop: %w", err)
	}
	h.log.Info("engine stopped")
	return ActionResult{Success: true, Message: "бот остановлен"}, nil
}

// markStopped статус без живого движка: running в базе после падения процесса превращается в stopped.
func (s *Supervisor) markStopped(ctx context.Context, userID int64) error {
	rec, found, err := s.statuses.GetRunStatus(ctx, userID)
	if err != nil {
		return fmt.Errorf("Supervisor.Stop: %w", err)
	}
	if !found || rec.Status != models.StatusRunning {
		return nil
	}
	rec.Status = models.StatusStopped
	rec.UpdatedAt = time.Now()
	if err := s.statuses.UpdateRunStatus(ctx, rec); err != nil {
		return fmt.Errorf("Supervisor.Stop: %w", err)
	}
	return nil
}

func (s *Supervisor) liveHandle(userID int64) *RunHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.runs[userID]
	if !ok {
		return nil
	}
	if !h.alive() {
		delete(s.runs, userID)
		return nil
	}
	return h
}

func (s *Supervisor) Status(ctx context.Context, userID int64) (StatusResult, error) {
	if h := s.liveHandle(userID); h != nil {
		return statusFromHandle(h, time.Now()), nil
	}
	rec, found, err := s.statuses.GetRunStatus(ctx, userID)
	if err != nil {
		return StatusResult{}, fmt.Errorf("Supervisor.Status: %w", err)
	}
	if !found {
		return StatusResult{UserID: userID, Status: models.StatusStopped}, nil
	}
	res := statusFromRecord(rec)
	// в базе running, а движка в этом процессе нет
	if res.Status == models.StatusRunning {
		res.Status = models.StatusStopped
	}
	return res, nil
}

// AllStatuses объединяет живые запуски и сохранённые строки, попутно убирая мёртвые handle.
func (s *Supervisor) AllStatuses(ctx context.Context) (AdminStatuses, error) {
	s.mu.Lock()
	live := make(map[int64]*RunHandle, len(s.runs))
	for id, h := range s.runs {
		if !h.alive() {
			delete(s.runs, id)
			continue
		}
		live[id] = h
	}
	s.mu.Unlock()

	rows, err := s.statuses.ListRunStatuses(ctx)
	if err != nil {
		return AdminStatuses{}, fmt.Errorf("Supervisor.AllStatuses: %w", err)
	}

	now := time.Now()
	byUser := make(map[int64]StatusResult, len(rows)+len(live))
	for _, rec := range rows {
		st := statusFromRecord(rec)
		if st.Status == models.StatusRunning {
			st.Status = models.StatusStopped
		}
		byUser[rec.UserID] = st
	}
	for id, h := range live {
		byUser[id] = statusFromHandle(h, now)
	}

	out := AdminStatuses{Users: make([]StatusResult, 0, len(byUser))}
	for _, st := range byUser {
		out.Users = append(out.Users, st)
		if st.Running {
			out.Totals.Running++
		}
	}
	sort.Slice(out.Users, func(i, j int) bool { return out.Users[i].UserID < out.Users[j].UserID })
	out.Totals.Managed = len(out.Users)
	return out, nil
}

// Recover сверка TP на свежем соединении. Работающий движок не трогает.
func (s *Supervisor) Recover(ctx context.Context, userID int64) (res RecoverResult, err error) {
	span, ctx := tracing.StartBotSpan(ctx, "supervisor.Recover", userID, "")
	defer func() { tracing.Finish(span, err) }()
	defer func() { s.count("recover", err) }()

	settings, err := s.settings.LoadSettings(ctx, userID)
	if err != nil {
		return RecoverResult{Message: err.Error()}, fmt.Errorf("Supervisor.Recover: %w", err)
	}
	cfg := settings.Snapshot()
	if !cfg.HasCredentials() {
		return RecoverResult{Message: "не заданы API-ключи биржи"}, ErrMissingCredentials
	}

	rec, err := s.factory.NewReconciler(ctx, cfg)
	if err != nil {
		return RecoverResult{Message: err.Error()}, fmt.Errorf("Supervisor.Recover: %w", err)
	}
	rep, err := rec.EnsureTakeProfitExists(ctx)
	if err != nil {
		return RecoverResult{Message: err.Error(), Actions: rep.Actions}, fmt.Errorf("Supervisor.Recover: %w", err)
	}

	msg := "позиции нет, делать нечего"
	if len(rep.Actions) > 0 {
		msg = "сверка выполнена"
	}
	return RecoverResult{Success: true, Message: msg, Actions: rep.Actions}, nil
}

// Refresh ставит команду пересборки ордеров: single = один раз,
// иначе постоянная пересборка до ClearRefresh.
func (s *Supervisor) Refresh(ctx context.Context, userID int64, single bool) (ActionResult, error) {
	typ := models.CommandRefresh
	if single {
		typ = models.CommandSingleRefresh
	}
	return s.enqueue(ctx, userID, typ)
}

func (s *Supervisor) ClearRefresh(ctx context.Context, userID int64) (ActionResult, error) {
	return s.enqueue(ctx, userID, models.CommandClearRefresh)
}

func (s *Supervisor) StopRepeat(ctx context.Context, userID int64) (ActionResult, error) {
	return s.enqueue(ctx, userID, models.CommandStopRepeat)
}

func (s *Supervisor) enqueue(ctx context.Context, userID int64, typ models.CommandType) (res ActionResult, err error) {
	defer func() { s.count(string(typ), err) }()

	if s.liveHandle(userID) == nil {
		return ActionResult{Message: "бот не запущен"}, ErrNotRunning
	}
	cmd, err := s.commands.EnqueueCommand(ctx, userID, typ)
	if err != nil {
		return ActionResult{Message: err.Error()}, fmt.Errorf("Supervisor.%s: %w", typ, err)
	}
	return ActionResult{Success: true, Message: fmt.Sprintf("команда %s поставлена в очередь (%s)", typ, cmd.ID)}, nil
}

// Shutdown останавливает все запуски параллельно.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			_, err := s.Stop(gctx, id)
			return err
		})
	}
	err := g.Wait()
	s.log.Info("supervisor shut down", zap.Int("runs", len(ids)), zap.Error(err))
	return err
}

func (s *Supervisor) count(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.SupervisorActions.WithLabelValues(action, result).Inc()
}
