package resolver

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/skeptomenos/prism/internal/domain"
)

// RunStats aggregates outcomes across one batch run. Safe for concurrent
// recording from the worker pool.
type RunStats struct {
	mu sync.Mutex

	RunID      string
	Total      int
	Resolved   int
	Unresolved int
	Skipped    int
	ByDetail   map[string]int

	HiveHits             int
	APIHits              int
	ContributionFailures int64
}

// NewRunStats creates an empty stats collector for a run.
func NewRunStats(runID string) *RunStats {
	return &RunStats{
		RunID:    runID,
		ByDetail: make(map[string]int),
	}
}

// Record tallies one resolution outcome.
func (s *RunStats) Record(res domain.ResolutionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Total++
	s.ByDetail[res.Detail]++

	switch {
	case res.Detail == "tier2_skipped":
		s.Skipped++
	case res.Resolved():
		s.Resolved++
		if res.Source == domain.SourceHive {
			s.HiveHits++
		}
		if strings.HasPrefix(res.Detail, "api_") {
			s.APIHits++
		}
	default:
		s.Unresolved++
	}
}

// Stats is a point-in-time copy of run statistics, safe to serialize.
type Stats struct {
	RunID      string
	Total      int
	Resolved   int
	Unresolved int
	Skipped    int
	ByDetail   map[string]int

	HiveHits             int
	APIHits              int
	ContributionFailures int64
}

// Snapshot returns a copy safe to serialize while workers still record.
func (s *RunStats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	byDetail := make(map[string]int, len(s.ByDetail))
	for k, v := range s.ByDetail {
		byDetail[k] = v
	}

	return Stats{
		RunID:                s.RunID,
		Total:                s.Total,
		Resolved:             s.Resolved,
		Unresolved:           s.Unresolved,
		Skipped:              s.Skipped,
		ByDetail:             byDetail,
		HiveHits:             s.HiveHits,
		APIHits:              s.APIHits,
		ContributionFailures: s.ContributionFailures,
	}
}

// Summary renders a human-readable run report for the logs.
func (s *RunStats) Summary() string {
	snap := s.Snapshot()

	if snap.Total == 0 {
		return "No resolutions performed."
	}

	pct := func(n int) float64 { return 100 * float64(n) / float64(snap.Total) }

	lines := []string{
		"=== Resolution Summary ===",
		fmt.Sprintf("Total processed: %d", snap.Total),
		fmt.Sprintf("Resolved:        %d (%.1f%%)", snap.Resolved, pct(snap.Resolved)),
		fmt.Sprintf("Unresolved:      %d (%.1f%%)", snap.Unresolved, pct(snap.Unresolved)),
		fmt.Sprintf("Skipped (Tier2): %d (%.1f%%)", snap.Skipped, pct(snap.Skipped)),
		"",
		"By source:",
	}

	type entry struct {
		detail string
		count  int
	}
	entries := make([]entry, 0, len(snap.ByDetail))
	for d, n := range snap.ByDetail {
		entries = append(entries, entry{d, n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].detail < entries[j].detail
	})
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("  - %s: %d", e.detail, e.count))
	}

	if snap.ContributionFailures > 0 {
		lines = append(lines, fmt.Sprintf("Contribution failures: %d", snap.ContributionFailures))
	}

	return strings.Join(lines, "\n")
}
