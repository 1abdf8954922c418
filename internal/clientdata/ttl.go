package clientdata

import "time"

// TTL constants per provider table.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// Very stable data (identity mappings rarely change)
	TTLWikidata = 30 * 24 * time.Hour // 30 days - ISIN claims on Wikidata entities
	TTLOpenFIGI = 30 * 24 * time.Hour // 30 days - ticker-to-FIGI mappings

	// Company profiles (occasionally restated)
	TTLFinnhub = 7 * 24 * time.Hour // 7 days - profile2 responses

	// Least reliable source, shortest retention
	TTLYFinance = 7 * 24 * time.Hour // 7 days - quoteSummary responses
)

// TTLFor returns the storage TTL for a provider table. Unknown tables get
// the most conservative TTL.
func TTLFor(table string) time.Duration {
	switch table {
	case "wikidata":
		return TTLWikidata
	case "openfigi":
		return TTLOpenFIGI
	case "finnhub":
		return TTLFinnhub
	case "yfinance":
		return TTLYFinance
	default:
		return TTLYFinance
	}
}
