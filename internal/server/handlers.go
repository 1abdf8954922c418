package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/skeptomenos/prism/internal/domain"
	"github.com/skeptomenos/prism/internal/resolver"
)

var statsMu sync.Mutex

// handleHealth reports component status: database integrity, mirror
// staleness, community-store configuration and host load.
// GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := "ok"

	cacheDBOK := true
	if err := s.cfg.CacheDB.QuickCheck(ctx); err != nil {
		s.log.Error().Err(err).Msg("Cache database quick check failed")
		cacheDBOK = false
		status = "degraded"
	}

	clientDBOK := true
	if s.cfg.ClientDB != nil {
		if err := s.cfg.ClientDB.QuickCheck(ctx); err != nil {
			s.log.Error().Err(err).Msg("Client data database quick check failed")
			clientDBOK = false
			status = "degraded"
		}
	}

	lastSync, synced, err := s.cfg.Cache.LastSync()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read last sync time")
	}
	stale := s.cfg.Cache.IsStale(s.cfg.Cfg.CacheMaxAge)

	assets, listings, aliases, err := s.cfg.Cache.Counts()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read mirror counts")
	}

	cpuPct, memPct := systemStats(s)

	resp := map[string]interface{}{
		"status":         status,
		"uptime_seconds": int(time.Since(s.cfg.StartedAt).Seconds()),
		"databases": map[string]bool{
			"cache":       cacheDBOK,
			"client_data": clientDBOK,
		},
		"mirror": map[string]interface{}{
			"synced":   synced,
			"stale":    stale,
			"assets":   assets,
			"listings": listings,
			"aliases":  aliases,
		},
		"hive_configured": s.cfg.Hive != nil && s.cfg.Hive.IsConfigured(),
		"system": map[string]float64{
			"cpu_percent": cpuPct,
			"mem_percent": memPct,
		},
	}
	if synced {
		resp["mirror"].(map[string]interface{})["last_sync"] = lastSync.UTC().Format(time.RFC3339)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// systemStats samples CPU and RAM usage. A short interval keeps the
// health endpoint responsive.
func systemStats(s *Server) (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

// handleStats returns the most recent batch run statistics.
// GET /api/resolution/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	statsMu.Lock()
	stats := s.lastStats
	statsMu.Unlock()

	if stats == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"run_id": nil,
			"total":  0,
		})
		return
	}

	snap := stats.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":                snap.RunID,
		"total":                 snap.Total,
		"resolved":              snap.Resolved,
		"unresolved":            snap.Unresolved,
		"skipped":               snap.Skipped,
		"by_detail":             snap.ByDetail,
		"hive_hits":             snap.HiveHits,
		"api_hits":              snap.APIHits,
		"contribution_failures": snap.ContributionFailures,
	})
}

type resolveRequest struct {
	Holdings []domain.RawHolding `json:"holdings"`
}

// handleResolve runs a batch through the cascade and returns the
// positionally aligned results.
// POST /api/resolve
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Holdings) == 0 {
		http.Error(w, "no holdings provided", http.StatusBadRequest)
		return
	}

	results, stats := s.cfg.Resolver.ResolveBatch(r.Context(), req.Holdings, resolver.BatchOptions{
		Deadline: s.cfg.Cfg.BatchDeadline,
	})

	statsMu.Lock()
	s.lastStats = stats
	statsMu.Unlock()

	snap := stats.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":   snap.RunID,
		"results":  results,
		"resolved": snap.Resolved,
		"total":    snap.Total,
	})
}

// handleSync triggers one mirror sync immediately.
// POST /api/sync
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SyncJob == nil {
		http.Error(w, "sync not available: no community store configured", http.StatusServiceUnavailable)
		return
	}

	if err := s.cfg.SyncJob(); err != nil {
		s.log.Error().Err(err).Msg("Manual sync failed")
		s.writeJSON(w, http.StatusBadGateway, map[string]string{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}
