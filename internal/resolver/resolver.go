// Package resolver implements the tiered identity-resolution cascade.
// Each holding runs through cheap local tiers first (provider ISIN,
// manual overrides, mirror cache), then the community store, and only
// for positions above the weight threshold the external lookup APIs.
package resolver

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/skeptomenos/prism/internal/domain"
	"github.com/skeptomenos/prism/internal/hive"
	"github.com/skeptomenos/prism/internal/isin"
	"github.com/skeptomenos/prism/internal/localcache"
	"github.com/skeptomenos/prism/internal/normalize"
	"github.com/skeptomenos/prism/internal/scoring"
)

// Provider is one external lookup API in the cascade.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, ticker, name string) (*domain.ProviderHit, error)
}

// HiveClient is the community-store surface the resolver needs.
type HiveClient interface {
	IsConfigured() bool
	ResolveTicker(ctx context.Context, ticker, exchange string) (*hive.AliasMatch, error)
	LookupByAlias(ctx context.Context, text string) (*hive.AliasMatch, error)
	ContributeAsset(ctx context.Context, asset domain.Asset, ticker, exchange, tradingCurrency string) error
	ContributeAlias(ctx context.Context, alias domain.Alias) error
	ContributeListing(ctx context.Context, listing domain.Listing) error
}

// Config tunes one resolver instance.
type Config struct {
	// Tier1Threshold is the minimum portfolio weight percent a holding
	// needs before external APIs are spent on it.
	Tier1Threshold float64
	// Overrides maps upper-cased tickers or normalized names to curated
	// ISINs.
	Overrides map[string]string
	// Concurrency bounds the batch worker pool.
	Concurrency int
	// CorroborationThreshold sets how many independent submissions count
	// as full corroboration when vetting community matches.
	CorroborationThreshold int
}

// Resolver runs the cascade. Safe for concurrent use; the per-run
// enrichment cache is guarded internally.
type Resolver struct {
	cache       *localcache.Cache
	hive        HiveClient
	providers   []Provider
	contributor *Contributor
	scorer      *scoring.Scorer
	cfg         Config
	log         zerolog.Logger

	mu         sync.Mutex
	enrichment map[string]domain.ResolutionResult
}

// New creates a resolver. hiveClient may be nil (standalone mode) and
// providers may be empty; the corresponding tiers are skipped.
func New(cache *localcache.Cache, hiveClient HiveClient, providers []Provider, cfg Config, log zerolog.Logger) *Resolver {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return &Resolver{
		cache:       cache,
		hive:        hiveClient,
		providers:   providers,
		contributor: NewContributor(hiveClient, cache, log),
		scorer:      scoring.NewScorer(cfg.CorroborationThreshold),
		cfg:         cfg,
		log:         log.With().Str("component", "resolver").Logger(),
		enrichment:  make(map[string]domain.ResolutionResult),
	}
}

// Resolve runs one holding through the cascade and returns the best
// identification it could make. The result is always usable; a holding
// nothing could identify comes back with Source "unresolved" and an
// empty ISIN, which is a terminal state rather than an error.
func (r *Resolver) Resolve(ctx context.Context, h domain.RawHolding) domain.ResolutionResult {
	ticker := strings.ToUpper(strings.TrimSpace(h.Ticker))
	name := strings.TrimSpace(h.Name)

	// Cash, crypto and other non-equity positions get a synthetic stable
	// identifier and never touch the lookup tiers.
	if h.AssetClass == domain.AssetClassCash || h.AssetClass == domain.AssetClassCrypto {
		return domain.ResolutionResult{
			ISIN:       isin.NonEquityKey(ticker),
			Confidence: 1.0,
			Source:     domain.SourceProvider,
			Detail:     "non_equity",
		}
	}

	// Tier 1: the upstream provider already knew the ISIN.
	if res, ok := r.resolveProviderISIN(h); ok {
		return res
	}

	// Tier 2: curated manual overrides.
	if res, ok := r.resolveOverride(ticker, name); ok {
		return res
	}

	tickerVariants := normalize.TickerVariants(ticker)
	nameVariants := normalize.NameVariants(name)
	root, exchange := normalize.ParseTicker(ticker)

	// Tier 3: mirror listings by ticker variant.
	if res, ok := r.resolveLocalTicker(tickerVariants); ok {
		return res
	}

	// Tier 4: mirror aliases by name variant.
	if res, ok := r.resolveLocalAlias(nameVariants); ok {
		return res
	}

	// Tier 5: community store, ticker first, then alias text.
	if res, ok := r.resolveHive(ctx, root, exchange, ticker, nameVariants); ok {
		return res
	}

	// Tier 6: results already produced earlier in this run.
	if res, ok := r.enrichmentGet(ticker, name); ok {
		return res
	}

	// Persisted memos from earlier runs carry their original confidence.
	if res, ok := r.resolveMemo(tickerVariants); ok {
		return res
	}

	// Tier 7 gate: external APIs are reserved for positions that matter.
	if h.Weight <= r.cfg.Tier1Threshold {
		return domain.ResolutionResult{
			Source: domain.SourceUnresolved,
			Detail: "tier2_skipped",
		}
	}

	return r.resolveExternal(ctx, h, ticker, name, tickerVariants, nameVariants)
}

func (r *Resolver) resolveProviderISIN(h domain.RawHolding) (domain.ResolutionResult, bool) {
	candidate := strings.ToUpper(strings.TrimSpace(h.ProviderISIN))
	if candidate == "" || isin.IsPlaceholder(candidate) || !isin.Valid(candidate) {
		return domain.ResolutionResult{}, false
	}

	return domain.ResolutionResult{
		ISIN:       candidate,
		Confidence: scoring.ConfidenceProvider,
		Source:     domain.SourceProvider,
		Detail:     "provider",
	}, true
}

func (r *Resolver) resolveOverride(ticker, name string) (domain.ResolutionResult, bool) {
	if len(r.cfg.Overrides) == 0 {
		return domain.ResolutionResult{}, false
	}

	keys := []string{ticker}
	if root, _ := normalize.ParseTicker(ticker); root != ticker {
		keys = append(keys, root)
	}
	if normalized := normalize.NormalizeName(name); normalized != "" {
		keys = append(keys, normalized)
	}

	for _, key := range keys {
		if key == "" {
			continue
		}
		if mapped, ok := r.cfg.Overrides[key]; ok && isin.Valid(mapped) {
			return domain.ResolutionResult{
				ISIN:       mapped,
				Confidence: scoring.ConfidenceManual,
				Source:     domain.SourceManual,
				Detail:     "manual",
			}, true
		}
	}
	return domain.ResolutionResult{}, false
}

func (r *Resolver) resolveLocalTicker(variants []string) (domain.ResolutionResult, bool) {
	for _, v := range variants {
		listing, err := r.cache.GetByTicker(v)
		if err != nil {
			r.log.Warn().Err(err).Str("ticker", v).Msg("Local ticker lookup failed")
			continue
		}
		if listing == nil {
			continue
		}

		res := domain.ResolutionResult{
			ISIN:       listing.ISIN,
			Confidence: scoring.ConfidenceLocalCache,
			Source:     domain.SourceLocalCache,
			Detail:     "local_cache_ticker",
		}
		res.Currency, res.CurrencySource = currencyFromListing(listing)
		return res, true
	}
	return domain.ResolutionResult{}, false
}

func (r *Resolver) resolveLocalAlias(variants []string) (domain.ResolutionResult, bool) {
	for _, v := range variants {
		alias, err := r.cache.GetByAlias(strings.ToUpper(v))
		if err != nil {
			r.log.Warn().Err(err).Str("alias", v).Msg("Local alias lookup failed")
			continue
		}
		if alias == nil {
			continue
		}

		res := domain.ResolutionResult{
			ISIN:       alias.ISIN,
			Confidence: scoring.ConfidenceLocalCache,
			Source:     domain.SourceLocalCache,
			Detail:     "local_cache_alias",
		}
		if alias.Currency != "" {
			res.Currency = alias.Currency
			res.CurrencySource = alias.CurrencySource
			if res.CurrencySource == "" {
				res.CurrencySource = domain.CurrencyExplicit
			}
		}
		return res, true
	}
	return domain.ResolutionResult{}, false
}

// resolveHive consults the community store. An unavailable store skips
// the tier; it never turns into a negative result.
func (r *Resolver) resolveHive(ctx context.Context, root, exchange, rawTicker string, nameVariants []string) (domain.ResolutionResult, bool) {
	if r.hive == nil || !r.hive.IsConfigured() {
		return domain.ResolutionResult{}, false
	}

	if root != "" {
		match, err := r.hive.ResolveTicker(ctx, root, exchange)
		if err != nil {
			if errors.Is(err, hive.ErrUnavailable) {
				r.log.Warn().Err(err).Msg("Hive unavailable, skipping tier")
				return domain.ResolutionResult{}, false
			}
			r.log.Error().Err(err).Str("ticker", root).Msg("Hive ticker lookup failed")
		}
		if match != nil && r.vetMatch(match) {
			r.writeThrough(root, rawTicker, match)
			return hiveResult(match, "hive_ticker"), true
		}
	}

	for _, v := range nameVariants {
		match, err := r.hive.LookupByAlias(ctx, strings.ToUpper(v))
		if err != nil {
			if errors.Is(err, hive.ErrUnavailable) {
				r.log.Warn().Err(err).Msg("Hive unavailable, skipping tier")
				return domain.ResolutionResult{}, false
			}
			r.log.Error().Err(err).Str("alias", v).Msg("Hive alias lookup failed")
			continue
		}
		if match != nil && r.vetMatch(match) {
			r.writeThrough(root, rawTicker, match)
			return hiveResult(match, "hive_alias"), true
		}
	}

	return domain.ResolutionResult{}, false
}

// vetMatch scores a community match before the cascade accepts it.
// Rejected matches fall through to the next tier instead of poisoning
// the result with a barely corroborated mapping.
func (r *Resolver) vetMatch(match *hive.AliasMatch) bool {
	count := match.ContributorCount
	if count < 1 {
		count = 1
	}

	score := r.scorer.Score(scoring.Factors{
		SubmissionCount:   count,
		SourceReliability: scoring.SourceReliability(domain.Source(match.Source)),
		Freshness:         1.0, // the store only serves live rows
		Consensus:         match.Confidence,
	})

	if scoring.Classify(score) == scoring.VerdictReject {
		r.log.Warn().
			Str("isin", match.ISIN).
			Str("source", match.Source).
			Int("contributors", match.ContributorCount).
			Float64("score", score).
			Msg("Rejected weakly corroborated community match")
		return false
	}
	return true
}

// writeThrough persists a community hit into the local mirror so the
// next run resolves it at tier 3.
func (r *Resolver) writeThrough(root, rawTicker string, match *hive.AliasMatch) {
	ticker := match.Ticker
	if ticker == "" {
		ticker = root
	}
	if ticker == "" {
		ticker = rawTicker
	}
	if ticker == "" {
		return
	}

	exchange := match.Exchange
	if exchange == "" {
		exchange = "UNKNOWN"
	}
	currency := match.Currency
	if currency == "" {
		currency = "USD"
	}

	if err := r.cache.UpsertListing(domain.Listing{
		Ticker: ticker, Exchange: exchange, ISIN: match.ISIN, Currency: currency,
	}); err != nil {
		r.log.Warn().Err(err).Str("ticker", ticker).Msg("Write-through listing failed")
	}

	if match.AliasText != "" {
		if err := r.cache.UpsertAlias(domain.Alias{
			AliasText:  strings.ToUpper(match.AliasText),
			ISIN:       match.ISIN,
			AliasType:  domain.AliasName,
			Source:     domain.SourceHive,
			Confidence: scoring.ConfidenceHive,
		}); err != nil {
			r.log.Warn().Err(err).Str("alias", match.AliasText).Msg("Write-through alias failed")
		}
	}
}

func hiveResult(match *hive.AliasMatch, detail string) domain.ResolutionResult {
	res := domain.ResolutionResult{
		ISIN:       match.ISIN,
		Confidence: scoring.ConfidenceHive,
		Source:     domain.SourceHive,
		Detail:     detail,
	}
	if match.Currency != "" {
		res.Currency = match.Currency
		res.CurrencySource = domain.CurrencyExplicit
	}
	return res
}

// resolveMemo checks persisted positive memos from earlier runs. The
// memo keeps its original source and confidence.
func (r *Resolver) resolveMemo(variants []string) (domain.ResolutionResult, bool) {
	for _, v := range variants {
		memo, err := r.cache.GetMemo(v, string(domain.AliasTicker))
		if err != nil {
			r.log.Warn().Err(err).Str("ticker", v).Msg("Memo lookup failed")
			continue
		}
		if memo == nil || memo.Status != localcache.MemoResolved || memo.ISIN == "" {
			continue
		}

		return domain.ResolutionResult{
			ISIN:       memo.ISIN,
			Confidence: memo.Confidence,
			Source:     domain.Source(memo.Source),
			Detail:     "memo",
		}, true
	}
	return domain.ResolutionResult{}, false
}

func (r *Resolver) enrichmentKey(ticker, name string) string {
	return ticker + "|" + strings.ToUpper(name)
}

func (r *Resolver) enrichmentGet(ticker, name string) (domain.ResolutionResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.enrichment[r.enrichmentKey(ticker, name)]
	return res, ok
}

func (r *Resolver) enrichmentSet(ticker, name string, res domain.ResolutionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enrichment[r.enrichmentKey(ticker, name)] = res
}

// currencyFromListing lifts the trading currency off a listing row, or
// infers it from the exchange when the row has none.
func currencyFromListing(l *domain.Listing) (string, domain.CurrencySource) {
	if l.Currency != "" {
		return l.Currency, domain.CurrencyExplicit
	}
	if inferred, ok := exchangeCurrencies[l.Exchange]; ok {
		return inferred, domain.CurrencyInferred
	}
	return "", ""
}

// exchangeCurrencies maps exchange codes to their trading currency for
// inference when the upstream data carries none.
var exchangeCurrencies = map[string]string{
	"NYSE":     "USD",
	"NASDAQ":   "USD",
	"LSE":      "GBP",
	"XETRA":    "EUR",
	"EURONEXT": "EUR",
	"SIX":      "CHF",
	"TSE":      "JPY",
	"TSX":      "CAD",
	"ASX":      "AUD",
	"HKEX":     "HKD",
	"KRX":      "KRW",
	"TWSE":     "TWD",
}
