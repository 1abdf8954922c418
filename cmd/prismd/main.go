// Package main is the entry point for the Prism identity resolution
// daemon. Prism turns the messy identifiers brokers export (tickers,
// company names, sometimes a real ISIN) into canonical ISINs through a
// tiered cascade: local mirror first, then the shared community store,
// then external lookup APIs for the positions worth the quota.
//
// The daemon owns two SQLite databases:
//   - cache.db: the local mirror of the community store (assets,
//     listings, aliases) plus resolution memos and format attempt logs
//   - client_data.db: raw cached responses from external providers
//
// Background jobs keep both fresh: a daily mirror sync, an hourly memo
// sweep and an hourly provider-cache sweep.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skeptomenos/prism/internal/clientdata"
	"github.com/skeptomenos/prism/internal/clients/finnhub"
	"github.com/skeptomenos/prism/internal/clients/openfigi"
	"github.com/skeptomenos/prism/internal/clients/wikidata"
	"github.com/skeptomenos/prism/internal/clients/yfinance"
	"github.com/skeptomenos/prism/internal/config"
	"github.com/skeptomenos/prism/internal/database"
	"github.com/skeptomenos/prism/internal/hive"
	"github.com/skeptomenos/prism/internal/localcache"
	"github.com/skeptomenos/prism/internal/resolver"
	"github.com/skeptomenos/prism/internal/scheduler"
	"github.com/skeptomenos/prism/internal/server"
	"github.com/skeptomenos/prism/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting Prism")

	// Mirror database: assets, listings, aliases, memos.
	cacheDB, err := database.New(database.Config{
		Path:    cfg.CacheDBPath(),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	if err := cacheDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate cache database")
	}

	// Provider response cache database.
	clientDB, err := database.New(database.Config{
		Path:    cfg.ClientDataDBPath(),
		Profile: database.ProfileCache,
		Name:    "client_data",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open client data database")
	}
	defer clientDB.Close()

	if err := clientDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate client data database")
	}

	cacheRepo := clientdata.NewRepository(clientDB.Conn())
	cache := localcache.New(cacheDB, log)

	// Community store client. Unconfigured is a supported mode: the Hive
	// tiers are skipped and resolution runs on the mirror plus external
	// APIs alone.
	hiveClient := hive.NewClient(cfg.HiveURL, cfg.HiveAnonKey, log)
	if hiveClient.IsConfigured() {
		log.Info().Str("url", cfg.HiveURL).Msg("Community store configured")
	} else {
		log.Warn().Msg("Community store not configured, running standalone")
	}

	// External providers in cascade priority order. Keyed providers run
	// with better rate limits; keyless OpenFIGI still works, Finnhub
	// without a key disables itself.
	providers := []resolver.Provider{
		wikidata.NewClient(cacheRepo, log),
		openfigi.NewClient(cfg.OpenFIGIAPIKey, cacheRepo, log),
		finnhub.NewClient(cfg.FinnhubAPIKey, cacheRepo, log),
		yfinance.NewClient(cacheRepo, log),
	}

	overrides, err := resolver.LoadOverrides(cfg.OverridesPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load manual overrides")
	}
	if len(overrides) > 0 {
		log.Info().Int("count", len(overrides)).Msg("Loaded manual overrides")
	}

	res := resolver.New(cache, hiveClient, providers, resolver.Config{
		Tier1Threshold:         cfg.Tier1Threshold,
		Overrides:              overrides,
		Concurrency:            cfg.ResolveConcurrency,
		CorroborationThreshold: cfg.HiveCorroborationLevel,
	}, log)

	// Background jobs: daily mirror sync at 06:00, hourly sweeps for
	// expired memos and provider cache rows.
	sched := scheduler.New(log)

	var syncJob *localcache.SyncJob
	if hiveClient.IsConfigured() {
		syncJob = localcache.NewSyncJob(cache, hiveClient, log)
		if err := sched.AddJob("0 0 6 * * *", syncJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to register mirror sync job")
		}
	}
	if err := sched.AddJob("@hourly", localcache.NewMemoCleanupJob(cache, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register memo cleanup job")
	}
	if err := sched.AddJob("@hourly", clientdata.NewCleanupJob(cacheRepo, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register client data cleanup job")
	}

	sched.Start()
	defer sched.Stop()

	// A stale mirror gets refreshed immediately instead of waiting for
	// the daily schedule. First boot always lands here.
	if syncJob != nil && cache.IsStale(cfg.CacheMaxAge) {
		go func() {
			if err := sched.RunNow(syncJob); err != nil {
				log.Error().Err(err).Msg("Startup mirror sync failed")
			}
		}()
	}

	var syncFn func() error
	if syncJob != nil {
		syncFn = syncJob.Run
	}

	srv := server.New(server.Config{
		Log:       log,
		Cfg:       cfg,
		CacheDB:   cacheDB,
		ClientDB:  clientDB,
		Cache:     cache,
		Resolver:  res,
		Hive:      hiveClient,
		SyncJob:   syncFn,
		DevMode:   cfg.DevMode,
		Port:      cfg.Port,
		StartedAt: time.Now(),
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Block until SIGINT or SIGTERM, then drain.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Prism stopped")
}
