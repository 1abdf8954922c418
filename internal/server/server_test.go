package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeptomenos/prism/internal/config"
	"github.com/skeptomenos/prism/internal/database"
	"github.com/skeptomenos/prism/internal/domain"
	"github.com/skeptomenos/prism/internal/localcache"
	"github.com/skeptomenos/prism/internal/resolver"
)

type fakeHiveStatus struct{ configured bool }

func (f fakeHiveStatus) IsConfigured() bool { return f.configured }

func newTestServer(t *testing.T) (*Server, *localcache.Cache) {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "cache.db"),
		Profile: database.ProfileStandard,
		Name:    "cache",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	cache := localcache.New(db, zerolog.Nop())

	res := resolver.New(cache, nil, nil, resolver.Config{
		Tier1Threshold: 0.5,
		Concurrency:    2,
	}, zerolog.Nop())

	srv := New(Config{
		Log:       zerolog.Nop(),
		Cfg:       &config.Config{CacheMaxAge: 24 * time.Hour, BatchDeadline: time.Minute},
		CacheDB:   db,
		Cache:     cache,
		Resolver:  res,
		Hive:      fakeHiveStatus{configured: false},
		DevMode:   true,
		Port:      0,
		StartedAt: time.Now(),
	})

	return srv, cache
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["hive_configured"])

	mirror, ok := body["mirror"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, mirror["synced"], "fresh database has never synced")
	assert.Equal(t, true, mirror["stale"])

	dbs, ok := body["databases"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, dbs["cache"])
}

func TestStatsEndpointEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/resolution/stats", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Nil(t, body["run_id"])
	assert.Equal(t, float64(0), body["total"])
}

func TestResolveEndpoint(t *testing.T) {
	srv, cache := newTestServer(t)

	require.NoError(t, cache.UpsertListing(domain.Listing{
		Ticker: "AAPL", Exchange: "NASDAQ", ISIN: "US0378331005", Currency: "USD",
	}))

	payload := map[string]interface{}{
		"holdings": []domain.RawHolding{
			{Ticker: "AAPL", Name: "Apple Inc", Weight: 5.0, AssetClass: domain.AssetClassEquity},
			{Ticker: "XYZQ", Name: "Unknown Corp", Weight: 0.1, AssetClass: domain.AssetClassEquity},
		},
	}
	buf, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/resolve", bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		RunID    string                    `json:"run_id"`
		Results  []domain.ResolutionResult `json:"results"`
		Resolved int                       `json:"resolved"`
		Total    int                       `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.NotEmpty(t, body.RunID)
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, 1, body.Resolved)
	require.Len(t, body.Results, 2)
	assert.Equal(t, "US0378331005", body.Results[0].ISIN)
	assert.Equal(t, domain.SourceLocalCache, body.Results[0].Source)

	// The run is now visible on the stats endpoint.
	req = httptest.NewRequest(http.MethodGet, "/api/resolution/stats", nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, body.RunID, stats["run_id"])
	assert.Equal(t, float64(2), stats["total"])
}

func TestResolveEndpointEmptyBody(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/resolve", bytes.NewReader([]byte(`{"holdings":[]}`)))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResolveEndpointMalformed(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/resolve", bytes.NewReader([]byte(`{broken`)))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSyncEndpointUnavailable(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSyncEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	called := false
	srv.cfg.SyncJob = func() error {
		called = true
		return nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}
