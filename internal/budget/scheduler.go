package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler checks on a cron schedule whether the monthly reset is due.
type Scheduler struct {
	allocator *Allocator
	schedule  string
	cron      *cron.Cron

	mu      sync.Mutex
	running bool
}

func NewScheduler(allocator *Allocator, schedule string) *Scheduler {
	return &Scheduler{
		allocator: allocator,
		schedule:  schedule,
		cron:      cron.New(),
	}
}

// Start runs one check immediately, then registers the cron job.
// An empty schedule disables the periodic check.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runCheck(ctx)

	if s.schedule == "" {
		zap.L().Info("Reset schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.runCheck(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule reset check: %w", err)
	}

	s.cron.Start()
	s.running = true

	zap.L().Info("Reset scheduler started", zap.String("schedule", s.schedule))
	return nil
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) runCheck(ctx context.Context) {
	performed, err := s.allocator.ResetIfDue(ctx)
	if err != nil {
		zap.L().Error("Scheduled reset check failed", zap.Error(err))
		return
	}
	if performed {
		zap.L().Info("Scheduled monthly reset performed")
	} else {
		zap.L().Debug("Scheduled reset check completed, no reset due")
	}
}

// Stop stops the scheduler and waits for a running check to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		s.running = false
		zap.L().Info("Reset scheduler stopped")
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled check, or nil when not scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
