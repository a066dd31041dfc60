// Package cron runs periodic maintenance: pruning old task logs and archive
// rows on a configured cron schedule.
package cron

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/taskpilot/internal/persistence"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the maintenance scheduler.
type Config struct {
	History   *persistence.Store
	Logger    *slog.Logger
	Schedule  string        // 5-field cron expression
	Retention time.Duration // rows/logs older than this are pruned
	Interval  time.Duration // tick interval; defaults to 1 minute if zero
}

// Scheduler fires the maintenance pass whenever the cron schedule comes due.
type Scheduler struct {
	history   *persistence.Store
	logger    *slog.Logger
	schedule  cronlib.Schedule
	retention time.Duration
	interval  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	nextRun time.Time
}

// NewScheduler creates a Scheduler. Returns an error for a bad cron spec.
func NewScheduler(cfg Config) (*Scheduler, error) {
	sched, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		history:   cfg.History,
		logger:    logger,
		schedule:  sched,
		retention: cfg.Retention,
		interval:  interval,
		nextRun:   sched.Next(time.Now()),
	}, nil
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("maintenance scheduler started", "next_run", s.nextRun)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("maintenance scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			due := now.After(s.nextRun)
			if due {
				s.nextRun = s.schedule.Next(now)
			}
			s.mu.Unlock()
			if due {
				s.runOnce(ctx, now)
			}
		}
	}
}

// RunOnce executes one maintenance pass immediately. Exposed for tests and
// the doctor command.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.runOnce(ctx, time.Now())
}

func (s *Scheduler) runOnce(ctx context.Context, now time.Time) {
	if s.history == nil {
		return
	}
	cutoff := now.Add(-s.retention)
	paths, err := s.history.PruneOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Warn("history prune failed", "error", err)
		return
	}
	removed := 0
	for _, p := range paths {
		if err := os.Remove(p); err == nil {
			removed++
		} else if !os.IsNotExist(err) {
			s.logger.Warn("task log remove failed", "path", p, "error", err)
		}
	}
	s.logger.Info("maintenance pass complete", "pruned_rows", len(paths), "removed_logs", removed, "cutoff", cutoff)
}
