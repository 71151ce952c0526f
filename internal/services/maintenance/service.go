package maintenance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
)

// Service runs the periodic housekeeping sweep: idle branch-lock
// eviction on the scheduler and, when enabled, removal of orphaned
// result directories left behind by deleted job records.
type Service struct {
	scheduler interfaces.SchedulerService
	jobs      interfaces.JobStore
	files     interfaces.FileService
	config    *common.MaintenanceConfig
	cron      *cron.Cron
	logger    arbor.ILogger
	running   bool
}

// NewService creates the maintenance service
func NewService(scheduler interfaces.SchedulerService, jobs interfaces.JobStore, files interfaces.FileService, config *common.MaintenanceConfig, logger arbor.ILogger) *Service {
	return &Service{
		scheduler: scheduler,
		jobs:      jobs,
		files:     files,
		config:    config,
		cron:      cron.New(),
		logger:    logger,
	}
}

// Start schedules the sweep
func (s *Service) Start() error {
	if !s.config.Enabled {
		s.logger.Info().Msg("Maintenance sweep disabled")
		return nil
	}
	if s.running {
		return fmt.Errorf("maintenance service already running")
	}

	schedule := s.config.Schedule
	if schedule == "" {
		schedule = "@every 5m"
	}

	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return fmt.Errorf("failed to schedule maintenance sweep: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().Str("schedule", schedule).Msg("Maintenance sweep scheduled")
	return nil
}

// Stop halts the sweep; a sweep in flight runs to completion
func (s *Service) Stop() {
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info().Msg("Maintenance service stopped")
}

// sweep is one housekeeping pass
func (s *Service) sweep() {
	evicted := s.scheduler.EvictIdleBranches()
	if evicted > 0 {
		s.logger.Info().Int("evicted", evicted).Msg("Evicted idle branch locks")
	}

	if s.config.SweepOrphans {
		removed, err := s.sweepOrphans()
		if err != nil {
			s.logger.Warn().Err(err).Msg("Orphan sweep failed")
		} else if removed > 0 {
			s.logger.Info().Int("removed", removed).Msg("Removed orphaned result directories")
		}
	}
}

// sweepOrphans deletes result directories with no backing job record.
// Directories for live jobs are never touched, terminal or not; their
// artifacts stay downloadable until the record itself goes away.
func (s *Service) sweepOrphans() (int, error) {
	resultsDir := s.files.ResultsDir()
	entries, err := os.ReadDir(resultsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		jobID := entry.Name()
		if _, err := s.jobs.Get(jobID); err == nil {
			continue
		} else if !errors.Is(err, models.ErrNotFound) {
			return removed, err
		}

		if err := os.RemoveAll(filepath.Join(resultsDir, jobID)); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to remove orphaned result directory")
			continue
		}
		removed++
	}
	return removed, nil
}
