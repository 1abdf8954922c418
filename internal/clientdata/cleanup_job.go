package clientdata

import (
	"time"

	"github.com/rs/zerolog"
)

// CleanupJob sweeps expired rows out of every provider response table.
// Scheduled hourly so negative entries written during a rate-limit storm
// age out promptly and the quota can be re-spent on those lookups.
type CleanupJob struct {
	repo *Repository
	log  zerolog.Logger
}

// NewCleanupJob creates the scheduled provider-cache sweep job.
func NewCleanupJob(repo *Repository, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo: repo,
		log:  log.With().Str("job", "client_data_cleanup").Logger(),
	}
}

// Run deletes expired responses across all provider tables and reports
// the per-provider counts in one summary line.
func (j *CleanupJob) Run() error {
	started := time.Now()

	results, err := j.repo.DeleteAllExpired()
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to sweep expired provider responses")
		return err
	}

	var total int64
	for _, count := range results {
		total += count
	}
	if total == 0 {
		return nil
	}

	ev := j.log.Info().Int64("total", total).Dur("took", time.Since(started))
	for provider, count := range results {
		if count > 0 {
			ev = ev.Int64(provider, count)
		}
	}
	ev.Msg("Swept expired provider responses")

	return nil
}

// Name returns the job name for scheduler logging.
func (j *CleanupJob) Name() string {
	return "client_data_cleanup"
}
