package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Checker проверка зависимости для /healthz (хранилище, redis).
type Checker func(ctx context.Context) error

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	lastActionUnix atomic.Int64 // unix seconds последнего действия оператора

	mu     sync.RWMutex
	checks map[string]Checker
}

func NewState() *State {
	s := &State{startedAt: time.Now(), checks: make(map[string]Checker)}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) TouchAction(t time.Time) { s.lastActionUnix.Store(t.Unix()) }
func (s *State) LastAction() time.Time {
	u := s.lastActionUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

func (s *State) AddCheck(name string, c Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = c
}

// Check прогоняет все проверки; пустая строка в результате означает ok.
func (s *State) Check(ctx context.Context) (map[string]string, bool) {
	s.mu.RLock()
	checks := make(map[string]Checker, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	s.mu.RUnlock()

	out := make(map[string]string, len(checks))
	healthy := true
	for name, c := range checks {
		if err := c(ctx); err != nil {
			out[name] = err.Error()
			healthy = false
			continue
		}
		out[name] = "ok"
	}
	return out, healthy
}
