// Package scheduler runs the background maintenance jobs: the daily
// mirror sync and the hourly cache expiry sweeps.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one schedulable maintenance task. Name is stable and shows up
// in every log line the scheduler emits for the job.
type Job interface {
	Run() error
	Name() string
}

// Scheduler owns the cron loop for the maintenance jobs.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a scheduler. Second-resolution schedules are enabled so
// tests can run jobs on sub-minute intervals.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins running registered jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job with a cron schedule:
//   - "0 0 6 * * *" - mirror sync, daily at 06:00
//   - "@hourly"     - memo and provider-cache sweeps
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		started := time.Now()
		s.log.Debug().Str("job", job.Name()).Msg("Job starting")

		if err := job.Run(); err != nil {
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Dur("took", time.Since(started)).
				Msg("Job failed")
			return
		}

		s.log.Debug().
			Str("job", job.Name()).
			Dur("took", time.Since(started)).
			Msg("Job completed")
	})

	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately, outside its schedule. Used for the
// startup sync when the mirror is stale and for the manual sync endpoint.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}
