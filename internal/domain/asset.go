/**
 * Package domain provides the shared identity-resolution data model.
 *
 * This file defines the canonical Asset record plus its Listing and Alias
 * satellites. Assets are keyed by ISIN; listings map (ticker, exchange)
 * pairs to an ISIN; aliases map free-form text (names, tickers,
 * abbreviations) to an ISIN with a confidence weight. These three types
 * mirror the community store schema and the local SQLite cache schema, so
 * the same structs flow from RPC responses through the cache into
 * resolution results without conversions.
 */
package domain

import "time"

// AssetClass classifies an asset for downstream handling.
type AssetClass string

const (
	AssetClassEquity AssetClass = "Equity"
	AssetClassETF    AssetClass = "ETF"
	AssetClassCash   AssetClass = "Cash"
	AssetClassCrypto AssetClass = "Crypto"
	AssetClassBond   AssetClass = "Bond"
	AssetClassFund   AssetClass = "Fund"
)

// EnrichmentStatus tracks how complete an asset record is. A stub carries
// identity only; an active record has been enriched with classification
// data. Contributions never downgrade active to stub.
type EnrichmentStatus string

const (
	EnrichmentStub   EnrichmentStatus = "stub"
	EnrichmentActive EnrichmentStatus = "active"
)

/**
 * Asset is the canonical identifier record for one security.
 *
 * ISIN is the primary key everywhere: the community store, the local
 * cache, and every resolution result all speak ISIN.
 */
type Asset struct {
	ISIN             string           `json:"isin"` // PRIMARY KEY
	Name             string           `json:"name"`
	AssetClass       AssetClass       `json:"asset_class"`
	BaseCurrency     string           `json:"base_currency,omitempty"` // ISO 4217
	Sector           string           `json:"sector,omitempty"`
	Geography        string           `json:"geography,omitempty"`
	EnrichmentStatus EnrichmentStatus `json:"enrichment_status,omitempty"`
	UpdatedAt        *time.Time       `json:"updated_at,omitempty"`
}

// IsStub reports whether the asset is identity-only.
func (a *Asset) IsStub() bool {
	return a.EnrichmentStatus == "" || a.EnrichmentStatus == EnrichmentStub
}

/**
 * Listing maps an exchange listing to its asset.
 *
 * Primary key is (Ticker, Exchange): the same root ticker legitimately
 * maps to different ISINs on different exchanges, and dual listings are
 * never merged.
 */
type Listing struct {
	Ticker   string `json:"ticker"`
	Exchange string `json:"exchange"`
	ISIN     string `json:"isin"`
	Currency string `json:"currency"` // trading currency, required
}

// AliasType labels what kind of text an alias holds.
type AliasType string

const (
	AliasTicker       AliasType = "ticker"
	AliasName         AliasType = "name"
	AliasAbbreviation AliasType = "abbreviation"
	AliasLocalName    AliasType = "local_name"
)

// CurrencySource records whether a currency on an alias came from the
// upstream data or was inferred from the exchange.
type CurrencySource string

const (
	CurrencyExplicit CurrencySource = "explicit"
	CurrencyInferred CurrencySource = "inferred"
)

/**
 * Alias maps a piece of free-form identifying text to an ISIN.
 *
 * Unique on (AliasText, ISIN). ContributorCount and Confidence follow the
 * community merge rules: counts accumulate, confidence takes the max, and
 * the source label only changes when a strictly higher-confidence
 * submission arrives.
 */
type Alias struct {
	AliasText        string         `json:"alias_text"`
	ISIN             string         `json:"isin"`
	AliasType        AliasType      `json:"alias_type"`
	Language         string         `json:"language,omitempty"`
	Source           Source         `json:"source"`
	Confidence       float64        `json:"confidence"` // [0.0, 1.0]
	Currency         string         `json:"currency,omitempty"`
	Exchange         string         `json:"exchange,omitempty"`
	CurrencySource   CurrencySource `json:"currency_source,omitempty"`
	ContributorCount int            `json:"contributor_count"` // >= 1
}
