// Package scheduler runs the relay's daily background tasks.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/space-project/spacerelay/internal/config"
)

// Pruner deletes ledger rows recorded before a cutoff.
type Pruner interface {
	Prune(cutoff time.Time) (int64, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg    config.HistoryConfig
	pruner Pruner
}

// NewScheduler creates a new task scheduler. pruner may be nil when the
// history ledger is disabled.
func NewScheduler(cfg *config.Config, pruner Pruner) *Scheduler {
	return &Scheduler{
		cfg:    cfg.History,
		pruner: pruner,
	}
}

// Start runs the scheduled tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	if s.pruner != nil && s.cfg.RetentionDays > 0 {
		go s.runPruneLoop(ctx)
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

// runPruneLoop prunes the history ledger daily at the configured time.
func (s *Scheduler) runPruneLoop(ctx context.Context) {
	for {
		nextRun := calculateNextCleanupTime(s.cfg.CleanupTime, time.Now())
		sleepDuration := time.Until(nextRun)
		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("history prune scheduled")

		timer := time.NewTimer(sleepDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runPrune(time.Now())
		}
	}
}

// runPrune deletes ledger rows older than the retention window.
func (s *Scheduler) runPrune(now time.Time) {
	cutoff := now.Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)

	log.Info().
		Int("retention_days", s.cfg.RetentionDays).
		Time("cutoff", cutoff).
		Msg("running history prune")

	removed, err := s.pruner.Prune(cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("history prune failed")
		return
	}

	log.Info().Int64("removed_rows", removed).Msg("history prune completed")
}

// calculateNextCleanupTime returns the next occurrence of the HH:MM time of
// day after now.
func calculateNextCleanupTime(cleanupTime string, now time.Time) time.Time {
	parts := strings.Split(cleanupTime, ":")

	hour, minute := 4, 0 // Default: 4:00 AM
	if len(parts) >= 2 {
		fmt.Sscanf(parts[0], "%d", &hour)
		fmt.Sscanf(parts[1], "%d", &minute)
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}

	return next
}
