package resolver

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/skeptomenos/prism/internal/domain"
	"github.com/skeptomenos/prism/internal/localcache"
	"github.com/skeptomenos/prism/internal/normalize"
	"github.com/skeptomenos/prism/internal/scoring"
)

// Contributor pushes externally resolved mappings back to the community
// store and writes them through to the local mirror. Contribution is
// fire-and-forget relative to the resolution result, but every failure
// is logged with full context and counted; silent loss of community data
// is the one failure mode this system refuses to have.
type Contributor struct {
	hive     HiveClient
	cache    *localcache.Cache
	log      zerolog.Logger
	failures atomic.Int64
}

// NewContributor creates a contributor. hiveClient may be nil, which
// disables the remote push but keeps the local write-through.
func NewContributor(hiveClient HiveClient, cache *localcache.Cache, log zerolog.Logger) *Contributor {
	return &Contributor{
		hive:  hiveClient,
		cache: cache,
		log:   log.With().Str("component", "contributor").Logger(),
	}
}

// Failures returns how many contribution attempts have failed so far.
func (c *Contributor) Failures() int64 {
	return c.failures.Load()
}

// Contribute shares one resolution. Only external-API results at or
// above the confidence floor are pushed; low-confidence guesses stay
// local so they cannot pollute the shared store.
func (c *Contributor) Contribute(ctx context.Context, res domain.ResolutionResult, rawTicker, rawName string) {
	if res.ISIN == "" || res.Confidence < scoring.ContributionFloor {
		return
	}

	root, exchange := normalize.ParseTicker(rawTicker)
	if exchange == "" {
		exchange = "UNKNOWN"
	}
	currency := res.Currency
	if currency == "" {
		currency = "USD"
	}

	// Local write-through happens regardless of Hive availability.
	if root != "" {
		if err := c.cache.UpsertListing(domain.Listing{
			Ticker: root, Exchange: exchange, ISIN: res.ISIN, Currency: currency,
		}); err != nil {
			c.log.Warn().Err(err).Str("ticker", root).Msg("Local listing write-through failed")
		}
	}
	normalizedName := normalize.NormalizeName(rawName)
	if len(normalizedName) > 2 {
		if err := c.cache.UpsertAlias(domain.Alias{
			AliasText:  normalizedName,
			ISIN:       res.ISIN,
			AliasType:  domain.AliasName,
			Source:     res.Source,
			Confidence: res.Confidence,
		}); err != nil {
			c.log.Warn().Err(err).Str("alias", normalizedName).Msg("Local alias write-through failed")
		}
	}

	if c.hive == nil || !c.hive.IsConfigured() {
		return
	}

	asset := domain.Asset{
		ISIN:             res.ISIN,
		Name:             strings.TrimSpace(rawName),
		AssetClass:       domain.AssetClassEquity,
		BaseCurrency:     currency,
		EnrichmentStatus: domain.EnrichmentStub,
	}
	if err := c.hive.ContributeAsset(ctx, asset, root, exchange, currency); err != nil {
		c.fail(err, res, "contribute_asset")
		return
	}

	if root != "" {
		if err := c.hive.ContributeListing(ctx, domain.Listing{
			Ticker: root, Exchange: exchange, ISIN: res.ISIN, Currency: currency,
		}); err != nil {
			c.fail(err, res, "contribute_listing")
		}
	}

	if len(normalizedName) > 2 {
		if err := c.hive.ContributeAlias(ctx, domain.Alias{
			AliasText:  normalizedName,
			ISIN:       res.ISIN,
			AliasType:  domain.AliasName,
			Source:     res.Source,
			Confidence: res.Confidence,
		}); err != nil {
			c.fail(err, res, "contribute_alias")
		}
	}

	c.log.Debug().
		Str("isin", res.ISIN).
		Str("ticker", rawTicker).
		Str("source", string(res.Source)).
		Msg("Contributed resolution to Hive")
}

func (c *Contributor) fail(err error, res domain.ResolutionResult, op string) {
	c.failures.Add(1)
	c.log.Error().
		Err(err).
		Str("op", op).
		Str("isin", res.ISIN).
		Str("source", string(res.Source)).
		Float64("confidence", res.Confidence).
		Msg("Contribution failed")
}
