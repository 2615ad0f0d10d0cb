// Package scheduler triggers recurring jobs. Jobs only initiate work;
// they must never block the scheduler goroutine on long operations.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler is pluggable so tests can drive jobs manually instead of
// waiting on wall-clock time.
type Scheduler interface {
	Schedule(name, cronExpr string, job func()) error
	Start()
	Stop(ctx context.Context) error
}

// CronScheduler wraps robfig/cron with a named-entry registry.
type CronScheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func NewCronScheduler() *CronScheduler {
	return &CronScheduler{
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
	}
}

func (s *CronScheduler) Schedule(name, cronExpr string, job func()) error {
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.entries[name]; exists {
		s.cron.Remove(old)
	}

	id, err := s.cron.AddFunc(cronExpr, job)
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.entries[name] = id
	return nil
}

func (s *CronScheduler) Start() {
	s.cron.Start()
}

func (s *CronScheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ManualScheduler runs jobs only when Trigger is called. Used in tests.
type ManualScheduler struct {
	mu   sync.Mutex
	jobs map[string]func()
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{jobs: make(map[string]func())}
}

func (s *ManualScheduler) Schedule(name, cronExpr string, job func()) error {
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = job
	return nil
}

func (s *ManualScheduler) Start() {}

func (s *ManualScheduler) Stop(ctx context.Context) error { return nil }

// Trigger runs the named job synchronously.
func (s *ManualScheduler) Trigger(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no job scheduled under %q", name)
	}
	job()
	return nil
}
