// File: internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/orquest-service-sync/internal/models"
	"github.com/smartdevs17/orquest-service-sync/pkg/utils"
)

// SyncRunner runs one pull sync
type SyncRunner interface {
	SyncAll(ctx context.Context, trigger string) (*models.SyncResult, error)
}

// Config controls the schedule
type Config struct {
	Interval   time.Duration
	RunOnStart bool
}

// Scheduler triggers pull syncs on a fixed interval
type Scheduler struct {
	runner SyncRunner
	config Config
	logger *logrus.Entry

	// State management
	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	inFlight atomic.Bool

	statsMu sync.RWMutex
	stats   *Stats
}

// Stats provides scheduler statistics
type Stats struct {
	StartTime    time.Time     `json:"start_time"`
	IsRunning    bool          `json:"is_running"`
	Interval     time.Duration `json:"interval"`
	TotalRuns    uint64        `json:"total_runs"`
	FailedRuns   uint64        `json:"failed_runs"`
	SkippedTicks uint64        `json:"skipped_ticks"`
	LastRunAt    *time.Time    `json:"last_run_at,omitempty"`
	LastError    *string       `json:"last_error,omitempty"`
}

// New creates a new scheduler
func New(runner SyncRunner, cfg Config) *Scheduler {
	return &Scheduler{
		runner:   runner,
		config:   cfg,
		logger:   utils.GetLogger().WithField("component", "scheduler"),
		stopChan: make(chan struct{}),
		stats:    &Stats{Interval: cfg.Interval},
	}
}

// Start starts the schedule loop. The loop ends on Stop or when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Scheduler already running", "")
	}
	if s.config.Interval <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Sync interval must be positive", s.config.Interval.String())
	}

	s.running = true
	s.statsMu.Lock()
	s.stats.StartTime = time.Now()
	s.stats.IsRunning = true
	s.statsMu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.WithFields(logrus.Fields{
		"interval":     s.config.Interval,
		"run_on_start": s.config.RunOnStart,
	}).Info("Scheduler started")

	return nil
}

// Stop stops the scheduler and waits for an in-flight sync to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.logger.Info("Stopping scheduler")

	s.running = false
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	// Wait for goroutines to finish
	s.wg.Wait()

	s.statsMu.Lock()
	s.stats.IsRunning = false
	s.statsMu.Unlock()

	s.logger.Info("Scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetStats returns a copy of the scheduler statistics
func (s *Scheduler) GetStats() *Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	stats := *s.stats
	return &stats
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if s.config.RunOnStart {
		s.trigger(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler loop stopped by context")
			return
		case <-s.stopChan:
			s.logger.Info("Scheduler loop stopped by stop signal")
			return
		case <-ticker.C:
			s.trigger(ctx)
		}
	}
}

// trigger starts a sync unless one is still running
func (s *Scheduler) trigger(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.statsMu.Lock()
		s.stats.SkippedTicks++
		s.statsMu.Unlock()
		s.logger.Warn("Previous scheduled sync still running, skipping tick")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		s.runOnce(ctx)
	}()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	result, err := s.runner.SyncAll(ctx, models.TriggerSchedule)

	now := time.Now()
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	s.stats.TotalRuns++
	s.stats.LastRunAt = &now

	switch {
	case err != nil:
		msg := err.Error()
		s.stats.FailedRuns++
		s.stats.LastError = &msg
		s.logger.WithError(err).Error("Scheduled sync could not run")
	case result != nil && !result.Success:
		msg := result.Error
		s.stats.FailedRuns++
		s.stats.LastError = &msg
		s.logger.WithField("error", result.Error).Error("Scheduled sync failed")
	}
}
