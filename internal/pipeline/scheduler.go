package pipeline

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/dlplabs/proof-service/pkg/logger"
)

// Schedules holds one cron expression per driver pass.
type Schedules struct {
	Generation   string `yaml:"generation"`
	Submission   string `yaml:"submission"`
	StatusUpdate string `yaml:"status_update"`
}

// DefaultSchedules staggers the three passes across each five minute window
// so a file normally moves one stage per window.
func DefaultSchedules() Schedules {
	return Schedules{
		Generation:   "*/5 * * * *",
		Submission:   "2-59/5 * * * *",
		StatusUpdate: "4-59/5 * * * *",
	}
}

// Scheduler runs the batch drivers on their cron cadence. It implements the
// lifecycle Service contract so the process manager owns start and stop.
type Scheduler struct {
	driver    *Driver
	schedules Schedules
	cron      *cron.Cron
	log       *logger.Logger
}

// NewScheduler creates a scheduler over the driver. Empty schedule entries
// fall back to the defaults.
func NewScheduler(schedules Schedules, driver *Driver, log *logger.Logger) *Scheduler {
	defaults := DefaultSchedules()
	if schedules.Generation == "" {
		schedules.Generation = defaults.Generation
	}
	if schedules.Submission == "" {
		schedules.Submission = defaults.Submission
	}
	if schedules.StatusUpdate == "" {
		schedules.StatusUpdate = defaults.StatusUpdate
	}
	if log == nil {
		log = logger.NewDefault("scheduler")
	}

	return &Scheduler{
		driver:    driver,
		schedules: schedules,
		log:       log,
	}
}

// Name implements the lifecycle Service contract.
func (s *Scheduler) Name() string { return "pipeline-scheduler" }

// Start registers the driver entries and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()

	entries := []struct {
		name string
		spec string
		run  func(context.Context) (Report, error)
	}{
		{"generation", s.schedules.Generation, s.driver.DriveGeneration},
		{"submission", s.schedules.Submission, s.driver.DriveSubmission},
		{"status_update", s.schedules.StatusUpdate, s.driver.DriveStatusUpdate},
	}

	for _, entry := range entries {
		entry := entry
		_, err := s.cron.AddFunc(entry.spec, func() {
			if _, err := entry.run(context.Background()); err != nil {
				s.log.WithError(err).WithField("driver", entry.name).Error("batch pass aborted")
			}
		})
		if err != nil {
			return fmt.Errorf("schedule %s (%q): %w", entry.name, entry.spec, err)
		}
	}

	s.cron.Start()
	s.log.WithField("generation", s.schedules.Generation).
		WithField("submission", s.schedules.Submission).
		WithField("status_update", s.schedules.StatusUpdate).
		Info("pipeline scheduler started")
	return nil
}

// Stop halts the cron loop, waiting for a running pass to finish or the
// context to expire, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
