package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"grid_bot/internal/engine"
	"grid_bot/internal/models"
)

type fakeStore struct {
	mu       sync.Mutex
	settings map[int64]models.UserSettings
	rows     map[int64]models.RunStatusRecord
	commands []models.Command
}

func newFakeStore(users ...models.UserSettings) *fakeStore {
	s := &fakeStore{
		settings: make(map[int64]models.UserSettings),
		rows:     make(map[int64]models.RunStatusRecord),
	}
	for _, u := range users {
		s.settings[u.UserID] = u
	}
	return s
}

func (s *fakeStore) LoadSettings(_ context.Context, userID int64) (models.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.settings[userID]
	if !ok {
		return models.UserSettings{}, models.ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) UpdateRunStatus(_ context.Context, rec models.RunStatusRecord) error {
	s.mu.Lock()
	s.rows[rec.UserID] = rec
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) Heartbeat(_ context.Context, userID int64, state string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.rows[userID]
	rec.UserID, rec.State, rec.LastHeartbeat = userID, state, at
	s.rows[userID] = rec
	return nil
}

func (s *fakeStore) GetRunStatus(_ context.Context, userID int64) (models.RunStatusRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[userID]
	return rec, ok, nil
}

func (s *fakeStore) ListRunStatuses(_ context.Context) ([]models.RunStatusRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RunStatusRecord, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) EnqueueCommand(_ context.Context, userID int64, typ models.CommandType) (models.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd := models.Command{ID: "cmd-1", UserID: userID, Type: typ, Status: models.CommandQueued}
	s.commands = append(s.commands, cmd)
	return cmd, nil
}

func (s *fakeStore) row(userID int64) models.RunStatusRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[userID]
}

// blockingRunner работает до отмены контекста либо до закрытия exit.
// С hold после отмены ещё "снимает ордера", пока hold не закроют.
type blockingRunner struct {
	sink engine.StatusSink
	exit chan engine.Outcome
	hold chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context) (engine.Outcome, error) {
	r.sink.Heartbeat(ctx, engine.StateMonitoring)
	select {
	case <-ctx.Done():
		if r.hold != nil {
			<-r.hold
		}
		return engine.OutcomeStopped, nil
	case out := <-r.exit:
		return out, nil
	}
}

type fakeReconciler struct{ rep engine.Report }

func (f fakeReconciler) EnsureTakeProfitExists(context.Context) (engine.Report, error) {
	return f.rep, nil
}

type fakeFactory struct {
	mu      sync.Mutex
	runners []*blockingRunner
	rep     engine.Report
	cleanup time.Duration
	hold    chan struct{}
}

func (f *fakeFactory) NewRunner(cfg models.EngineConfig, sink engine.StatusSink) (Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &blockingRunner{sink: sink, exit: make(chan engine.Outcome, 1), hold: f.hold}
	f.mu.Lock()
	f.runners = append(f.runners, r)
	f.mu.Unlock()
	return r, nil
}

func (f *fakeFactory) NewReconciler(context.Context, models.EngineConfig) (Reconciler, error) {
	return fakeReconciler{rep: f.rep}, nil
}

func (f *fakeFactory) ExitCleanup() time.Duration { return f.cleanup }

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runners)
}

func (f *fakeFactory) last() *blockingRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runners[len(f.runners)-1]
}

func user(id int64) models.UserSettings {
	return models.UserSettings{
		UserID:        id,
		Exchange:      models.ExchangeBinance,
		APIKey:        "k",
		APISecret:     "s",
		Symbol:        "BTCUSDT",
		Side:          models.Long,
		TakeProfitPct: 1,
		Leverage:      1,
		Rounds:        2,
		Grids:         []models.GridLeg{{Amount: 10}, {Amount: 10, GapPct: 1}},
	}
}

func newTestSupervisor(t *testing.T, users ...models.UserSettings) (*Supervisor, *fakeStore, *fakeFactory) {
	t.Helper()
	return newTestSupervisorWith(t, &fakeFactory{}, Config{JoinTimeout: 2 * time.Second}, users...)
}

func newTestSupervisorWith(t *testing.T, factory *fakeFactory, cfg Config, users ...models.UserSettings) (*Supervisor, *fakeStore, *fakeFactory) {
	t.Helper()
	store := newFakeStore(users...)
	s := New(store, store, store, factory, cfg, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, store, factory
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartTwiceGivesOneRun(t *testing.T) {
	s, store, _ := newTestSupervisor(t, user(1))
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]StartResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Start(ctx, 1)
		}(i)
	}
	wg.Wait()

	started, already := 0, 0
	for i := range results {
		switch {
		case errs[i] == nil && results[i].Status == StartStarted:
			started++
		case errors.Is(errs[i], ErrAlreadyRunning) && results[i].Status == StartAlreadyRunning:
			already++
		}
	}
	if started != 1 || already != 1 {
		t.Fatalf("results = %+v, errs = %v", results, errs)
	}
	if row := store.row(1); row.Status != models.StatusRunning || row.RestartCount != 1 {
		t.Fatalf("row = %+v", row)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s, store, _ := newTestSupervisor(t, user(1))
	ctx := context.Background()

	if _, err := s.Start(ctx, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 2; i++ {
		res, err := s.Stop(ctx, 1)
		if err != nil || !res.Success {
			t.Fatalf("Stop #%d = %+v, %v", i, res, err)
		}
	}
	if row := store.row(1); row.Status != models.StatusStopped {
		t.Fatalf("row = %+v", row)
	}
	st, err := s.Status(ctx, 1)
	if err != nil || st.Running {
		t.Fatalf("status after stop = %+v, %v", st, err)
	}
}

func TestJoinTimeoutCoversEngineCleanup(t *testing.T) {
	tests := []struct {
		name       string
		configured time.Duration
		cleanup    time.Duration
		want       time.Duration
	}{
		{"configured is enough", time.Minute, 25 * time.Second, time.Minute},
		{"raised above cleanup", 10 * time.Second, 25 * time.Second, 30 * time.Second},
		{"no cleanup", 50 * time.Millisecond, 0, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestSupervisorWith(t, &fakeFactory{cleanup: tt.cleanup}, Config{JoinTimeout: tt.configured})
			if s.cfg.JoinTimeout != tt.want {
				t.Fatalf("JoinTimeout = %s, want %s", s.cfg.JoinTimeout, tt.want)
			}
		})
	}

	// настройки по умолчанию с настоящей фабрикой движка
	ef := engine.NewFactory(engine.FactoryDeps{Options: engine.Options{Timing: engine.DefaultTiming()}})
	s := New(newFakeStore(), newFakeStore(), newFakeStore(), FromEngine(ef), DefaultConfig(), zaptest.NewLogger(t))
	if cleanup := engine.DefaultTiming().ExitCleanup(); s.cfg.JoinTimeout <= cleanup {
		t.Fatalf("JoinTimeout %s does not cover engine cleanup %s", s.cfg.JoinTimeout, cleanup)
	}
}

func TestStopKeepsSlotWhileEngineCleansUp(t *testing.T) {
	hold := make(chan struct{})
	s, store, factory := newTestSupervisorWith(t, &fakeFactory{hold: hold}, Config{JoinTimeout: 50 * time.Millisecond}, user(1))
	ctx := context.Background()

	if _, err := s.Start(ctx, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	res, err := s.Stop(ctx, 1)
	if err != nil || !res.Success {
		t.Fatalf("Stop = %+v, %v", res, err)
	}

	// старый воркер ещё снимает ордера: второй движок не стартует
	again, err := s.Start(ctx, 1)
	if !errors.Is(err, ErrAlreadyRunning) || again.Message != "предыдущий запуск ещё останавливается" {
		t.Fatalf("Start during cleanup = %+v, %v", again, err)
	}
	if n := factory.count(); n != 1 {
		t.Fatalf("runners created = %d, want 1", n)
	}

	close(hold)
	waitFor(t, func() bool { return store.row(1).Status == models.StatusStopped })
	waitFor(t, func() bool {
		_, err := s.Start(ctx, 1)
		return err == nil
	})
	if n := factory.count(); n != 2 {
		t.Fatalf("runners created = %d, want 2", n)
	}
}

func TestStartMissingCredentials(t *testing.T) {
	u := user(2)
	u.APISecret = ""
	s, _, _ := newTestSupervisor(t, u)

	res, err := s.Start(context.Background(), 2)
	if !errors.Is(err, ErrMissingCredentials) || res.Status != StartMissingCredentials || res.Success {
		t.Fatalf("Start = %+v, %v", res, err)
	}
	// слот освобождён
	if st, _ := s.Status(context.Background(), 2); st.Running {
		t.Fatalf("handle left after failed start")
	}
}

func TestStartInvalidConfigAndUnknownUser(t *testing.T) {
	u := user(3)
	u.Leverage = 0
	s, _, _ := newTestSupervisor(t, u)

	res, err := s.Start(context.Background(), 3)
	var cfgErr *models.ConfigError
	if !errors.As(err, &cfgErr) || res.Status != StartError {
		t.Fatalf("Start invalid = %+v, %v", res, err)
	}

	res, err = s.Start(context.Background(), 99)
	if !errors.Is(err, models.ErrNotFound) || res.Status != StartError {
		t.Fatalf("Start unknown = %+v, %v", res, err)
	}
}

func TestStatusFallsBackToPersisted(t *testing.T) {
	s, store, _ := newTestSupervisor(t, user(4))
	ctx := context.Background()

	st, err := s.Status(ctx, 4)
	if err != nil || st.Running || st.Status != models.StatusStopped {
		t.Fatalf("status without row = %+v, %v", st, err)
	}

	_ = store.UpdateRunStatus(ctx, models.RunStatusRecord{UserID: 4, Status: models.StatusSafetyStopped, LastError: "foreign order", RestartCount: 3})
	st, err = s.Status(ctx, 4)
	if err != nil || st.Status != models.StatusSafetyStopped || st.LastError != "foreign order" || st.RestartCount != 3 {
		t.Fatalf("persisted status = %+v, %v", st, err)
	}
}

func TestNaturalExitIsReaped(t *testing.T) {
	s, store, factory := newTestSupervisor(t, user(5))
	ctx := context.Background()

	if _, err := s.Start(ctx, 5); err != nil {
		t.Fatalf("Start: %v", err)
	}
	factory.last().exit <- engine.OutcomeCompleted

	waitFor(t, func() bool { return store.row(5).Status == models.StatusCompleted })
	st, err := s.Status(ctx, 5)
	if err != nil || st.Running || st.Status != models.StatusCompleted {
		t.Fatalf("status = %+v, %v", st, err)
	}

	res, err := s.Start(ctx, 5)
	if err != nil || !res.Success {
		t.Fatalf("restart after exit = %+v, %v", res, err)
	}
	if row := store.row(5); row.RestartCount != 2 {
		t.Fatalf("restart count = %d", row.RestartCount)
	}
}

func TestAllStatuses(t *testing.T) {
	s, store, _ := newTestSupervisor(t, user(6), user(7))
	ctx := context.Background()

	_ = store.UpdateRunStatus(ctx, models.RunStatusRecord{UserID: 8, Status: models.StatusFailed})
	if _, err := s.Start(ctx, 6); err != nil {
		t.Fatalf("Start: %v", err)
	}

	all, err := s.AllStatuses(ctx)
	if err != nil {
		t.Fatalf("AllStatuses: %v", err)
	}
	if all.Totals.Managed != 2 || all.Totals.Running != 1 {
		t.Fatalf("totals = %+v", all.Totals)
	}
	if all.Users[0].UserID != 6 || !all.Users[0].Running || all.Users[1].Status != models.StatusFailed {
		t.Fatalf("users = %+v", all.Users)
	}
}

func TestRecoverUsesFreshReconciler(t *testing.T) {
	s, _, factory := newTestSupervisor(t, user(9))
	factory.rep = engine.Report{Actions: []string{"placed take-profit @ 101"}}

	res, err := s.Recover(context.Background(), 9)
	if err != nil || !res.Success || len(res.Actions) != 1 {
		t.Fatalf("Recover = %+v, %v", res, err)
	}
	if len(factory.runners) != 0 {
		t.Fatalf("recover must not start an engine")
	}
}

func TestCommandsRequireRunningBot(t *testing.T) {
	s, store, _ := newTestSupervisor(t, user(10))
	ctx := context.Background()

	if _, err := s.StopRepeat(ctx, 10); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("StopRepeat without run: %v", err)
	}
	if _, err := s.Start(ctx, 10); err != nil {
		t.Fatalf("Start: %v", err)
	}
	res, err := s.Refresh(ctx, 10, true)
	if err != nil || !res.Success {
		t.Fatalf("Refresh = %+v, %v", res, err)
	}
	if len(store.commands) != 1 || store.commands[0].Type != models.CommandSingleRefresh {
		t.Fatalf("commands = %+v", store.commands)
	}
	if _, err := s.ClearRefresh(ctx, 10); err != nil {
		t.Fatalf("ClearRefresh: %v", err)
	}
	if len(store.commands) != 2 || store.commands[1].Type != models.CommandClearRefresh {
		t.Fatalf("commands = %+v", store.commands)
	}
}

func TestShutdownStopsAll(t *testing.T) {
	s, store, _ := newTestSupervisor(t, user(11), user(12))
	ctx := context.Background()
	for _, id := range []int64{11, 12} {
		if _, err := s.Start(ctx, id); err != nil {
			t.Fatalf("Start %d: %v", id, err)
		}
	}
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for _, id := range []int64{11, 12} {
		if row := store.row(id); row.Status != models.StatusStopped {
			t.Fatalf("user %d row = %+v", id, row)
		}
	}
}
