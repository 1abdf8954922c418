package resolver

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/skeptomenos/prism/internal/domain"
)

// BatchOptions tune one batch run.
type BatchOptions struct {
	// Deadline bounds the whole run. Zero means no deadline. Holdings
	// whose external lookups are cut off by the deadline land unresolved;
	// the batch itself still returns a full result slice.
	Deadline time.Duration
}

// ResolveBatch resolves many holdings concurrently through a bounded
// worker pool. Results are positionally aligned with the input. The
// returned stats are final; the run summary has already been logged.
func (r *Resolver) ResolveBatch(ctx context.Context, holdings []domain.RawHolding, opts BatchOptions) ([]domain.ResolutionResult, *RunStats) {
	runID := uuid.NewString()
	stats := NewRunStats(runID)
	results := make([]domain.ResolutionResult, len(holdings))

	if len(holdings) == 0 {
		return results, stats
	}

	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}

	log := r.log.With().Str("run_id", runID).Logger()
	log.Info().Int("holdings", len(holdings)).Msg("Starting resolution batch")
	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for i, h := range holdings {
		i, h := i, h
		g.Go(func() error {
			// A canceled context means the deadline hit: record the
			// holding as unresolved instead of blocking on lookups.
			if gctx.Err() != nil {
				results[i] = domain.ResolutionResult{
					Source: domain.SourceUnresolved,
					Detail: "deadline_exceeded",
				}
			} else {
				results[i] = r.Resolve(gctx, h)
			}
			stats.Record(results[i])
			return nil
		})
	}

	// Workers never return errors; Wait only joins them.
	_ = g.Wait()

	stats.mu.Lock()
	stats.ContributionFailures = r.contributor.Failures()
	stats.mu.Unlock()

	log.Info().
		Int("total", len(holdings)).
		Dur("took", time.Since(started)).
		Msg("Resolution batch complete")
	log.Info().Msg(stats.Summary())

	return results, stats
}
