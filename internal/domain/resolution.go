package domain

import "errors"

// Source identifies where a resolution or alias came from. The zero value
// is not meaningful; unresolved results carry SourceUnresolved.
type Source string

const (
	SourceProvider   Source = "provider"
	SourceManual     Source = "manual"
	SourceLocalCache Source = "local_cache"
	SourceHive       Source = "hive"
	SourceWikidata   Source = "wikidata"
	SourceOpenFIGI   Source = "openfigi"
	SourceFinnhub    Source = "finnhub"
	SourceYFinance   Source = "yfinance"
	SourceSeed       Source = "seed"
	SourceUser       Source = "user"
	SourceUnresolved Source = "unresolved"
)

/**
 * RawHolding is one unresolved input position: whatever identifying
 * fields the upstream provider supplied, plus the portfolio weight used
 * to gate expensive external lookups.
 */
type RawHolding struct {
	Ticker       string     `json:"ticker,omitempty"`
	Name         string     `json:"name,omitempty"`
	ProviderISIN string     `json:"provider_isin,omitempty"`
	AssetClass   AssetClass `json:"asset_class,omitempty"`
	Weight       float64    `json:"weight,omitempty"` // portfolio weight percent
}

/**
 * ResolutionResult is the outcome of resolving one holding.
 *
 * ISIN == "" with Source == SourceUnresolved is the valid terminal state
 * for inputs nothing could identify; it is not an error. Detail carries
 * the tier label ("local_cache_ticker", "hive_alias", "api_wikidata",
 * "tier2_skipped", ...) for logging and run stats.
 */
type ResolutionResult struct {
	ISIN           string         `json:"isin,omitempty"`
	Confidence     float64        `json:"confidence"`
	Source         Source         `json:"source"`
	Currency       string         `json:"currency,omitempty"`
	CurrencySource CurrencySource `json:"currency_source,omitempty"`
	Detail         string         `json:"detail,omitempty"`
}

// Resolved reports whether the result carries a usable identifier.
func (r *ResolutionResult) Resolved() bool {
	return r.ISIN != "" && r.Source != SourceUnresolved
}

/**
 * ProviderHit is a positive answer from an external lookup provider.
 * Classification fields are optional; only ISIN is guaranteed.
 */
type ProviderHit struct {
	ISIN       string     `json:"isin"`
	Sector     string     `json:"sector,omitempty"`
	Country    string     `json:"country,omitempty"`
	AssetClass AssetClass `json:"asset_class,omitempty"`
	Currency   string     `json:"currency,omitempty"`
}

// ErrRateLimited is returned by external providers when the upstream API
// rejected the call with a rate limit. The resolver shortens the
// negative-cache TTL for these so the alias is retried within the hour.
var ErrRateLimited = errors.New("rate limited by upstream API")
