package localcache

import (
	"context"

	"github.com/rs/zerolog"
)

// SyncJob refreshes the mirror from the community store on a schedule.
type SyncJob struct {
	cache  *Cache
	remote SnapshotSource
	log    zerolog.Logger
}

// NewSyncJob creates the scheduled mirror sync job.
func NewSyncJob(cache *Cache, remote SnapshotSource, log zerolog.Logger) *SyncJob {
	return &SyncJob{
		cache:  cache,
		remote: remote,
		log:    log.With().Str("job", "mirror_sync").Logger(),
	}
}

// Run performs one full mirror sync.
func (j *SyncJob) Run() error {
	result := j.cache.SyncFromRemote(context.Background(), j.remote)
	return result.Err
}

// Name returns the job name for scheduler logging.
func (j *SyncJob) Name() string {
	return "mirror_sync"
}

// MemoCleanupJob sweeps expired negative resolution memos so retries can
// happen once their TTL has passed.
type MemoCleanupJob struct {
	cache *Cache
	log   zerolog.Logger
}

// NewMemoCleanupJob creates the scheduled memo sweep job.
func NewMemoCleanupJob(cache *Cache, log zerolog.Logger) *MemoCleanupJob {
	return &MemoCleanupJob{
		cache: cache,
		log:   log.With().Str("job", "memo_cleanup").Logger(),
	}
}

// Run deletes expired memos.
func (j *MemoCleanupJob) Run() error {
	removed, err := j.cache.CleanupExpiredMemos()
	if err != nil {
		return err
	}
	if removed > 0 {
		j.log.Info().Int64("removed", removed).Msg("Cleaned up expired resolution memos")
	}
	return nil
}

// Name returns the job name for scheduler logging.
func (j *MemoCleanupJob) Name() string {
	return "memo_cleanup"
}
