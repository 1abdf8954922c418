// Package hive provides the RPC client for the shared community identity
// store. All access goes through PostgREST RPC functions; the underlying
// tables are never queried directly, so the server keeps full control
// over merge rules and trust invariants.
package hive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/skeptomenos/prism/internal/domain"
	"github.com/skeptomenos/prism/internal/isin"
)

// ErrUnavailable indicates the store could not be reached (network error,
// timeout, or a 5xx response). Callers must treat this as "tier skipped",
// never as a negative lookup result.
var ErrUnavailable = errors.New("hive unavailable")

// batchChunkSize limits one batch_resolve_tickers_rpc call.
const batchChunkSize = 100

// snapshotPageSize is the page size for full-table snapshot pulls.
const snapshotPageSize = 1000

// Client talks to the community store over PostgREST RPC.
type Client struct {
	baseURL string
	anonKey string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new Hive RPC client. An empty baseURL produces an
// unconfigured client whose calls all fail with ErrUnavailable.
func NewClient(baseURL, anonKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("client", "hive").Logger(),
	}
}

// IsConfigured reports whether the client has credentials to reach the
// store.
func (c *Client) IsConfigured() bool {
	return c.baseURL != "" && c.anonKey != ""
}

// rpc executes one PostgREST RPC call and decodes the JSON response into
// out (which may be nil for write-only calls).
func (c *Client) rpc(ctx context.Context, fn string, params interface{}, out interface{}) error {
	if !c.IsConfigured() {
		return fmt.Errorf("client not configured: %w", ErrUnavailable)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params for %s: %w", fn, err)
	}

	url := c.baseURL + "/rest/v1/rpc/" + fn
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", fn, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.anonKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s failed: %v: %w", fn, err, ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("rpc %s returned status %d: %w", fn, resp.StatusCode, ErrUnavailable)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("rpc %s returned status %d: %s", fn, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", fn, err)
	}

	return nil
}

// AliasMatch is one row returned by the resolve/lookup RPCs.
type AliasMatch struct {
	ISIN             string  `json:"isin"`
	Name             string  `json:"name,omitempty"`
	AliasText        string  `json:"alias_text,omitempty"`
	Ticker           string  `json:"ticker,omitempty"`
	Exchange         string  `json:"exchange,omitempty"`
	Currency         string  `json:"currency,omitempty"`
	Source           string  `json:"source,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`
	ContributorCount int     `json:"contributor_count,omitempty"`
}

// ResolveTicker looks up a single ticker, optionally narrowed by an
// exchange hint. Returns (nil, nil) when the ticker is unknown.
func (c *Client) ResolveTicker(ctx context.Context, ticker, exchange string) (*AliasMatch, error) {
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return nil, nil
	}

	params := map[string]interface{}{"p_ticker": ticker, "p_exchange": nil}
	if exchange != "" {
		params["p_exchange"] = exchange
	}

	var rows []AliasMatch
	if err := c.rpc(ctx, "resolve_ticker_rpc", params, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// BatchResolveTickers resolves many tickers in one round trip per chunk.
// Input is deduplicated case-insensitively; the server returns at most one
// row per ticker (ties between exchanges break lexicographically on the
// exchange code). The result maps the upper-cased ticker to its ISIN;
// unknown tickers are absent.
func (c *Client) BatchResolveTickers(ctx context.Context, tickers []string) (map[string]string, error) {
	seen := make(map[string]bool, len(tickers))
	var deduped []string
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		deduped = append(deduped, t)
	}

	result := make(map[string]string, len(deduped))
	if len(deduped) == 0 {
		return result, nil
	}

	for start := 0; start < len(deduped); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(deduped) {
			end = len(deduped)
		}

		var rows []AliasMatch
		params := map[string]interface{}{"p_tickers": deduped[start:end]}
		if err := c.rpc(ctx, "batch_resolve_tickers_rpc", params, &rows); err != nil {
			return nil, err
		}

		for _, row := range rows {
			if row.Ticker != "" && row.ISIN != "" {
				result[strings.ToUpper(row.Ticker)] = row.ISIN
			}
		}
	}

	return result, nil
}

// LookupByAlias finds the best alias row for a piece of free-form text.
// Matching is case-insensitive exact; the server orders by confidence
// descending then contributor count descending and returns one row.
// Returns (nil, nil) when nothing matches.
func (c *Client) LookupByAlias(ctx context.Context, text string) (*AliasMatch, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	var rows []AliasMatch
	if err := c.rpc(ctx, "lookup_alias_rpc", map[string]interface{}{"p_alias": text}, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// GetAllAssets pulls the full asset snapshot, paged.
func (c *Client) GetAllAssets(ctx context.Context) ([]domain.Asset, error) {
	var all []domain.Asset
	for offset := 0; ; offset += snapshotPageSize {
		var page []domain.Asset
		params := map[string]interface{}{"p_limit": snapshotPageSize, "p_offset": offset}
		if err := c.rpc(ctx, "get_all_assets_rpc", params, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < snapshotPageSize {
			return all, nil
		}
	}
}

// GetAllListings pulls the full listing snapshot, paged.
func (c *Client) GetAllListings(ctx context.Context) ([]domain.Listing, error) {
	var all []domain.Listing
	for offset := 0; ; offset += snapshotPageSize {
		var page []domain.Listing
		params := map[string]interface{}{"p_limit": snapshotPageSize, "p_offset": offset}
		if err := c.rpc(ctx, "get_all_listings_rpc", params, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < snapshotPageSize {
			return all, nil
		}
	}
}

// GetAllAliases pulls the full alias snapshot, paged.
func (c *Client) GetAllAliases(ctx context.Context) ([]domain.Alias, error) {
	var all []domain.Alias
	for offset := 0; ; offset += snapshotPageSize {
		var page []domain.Alias
		params := map[string]interface{}{"p_limit": snapshotPageSize, "p_offset": offset}
		if err := c.rpc(ctx, "get_all_aliases_rpc", params, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < snapshotPageSize {
			return all, nil
		}
	}
}

// ContributeAsset upserts an asset record together with its primary
// listing. The server enforces the non-downgrade rule on enrichment
// status; the client only refuses obviously invalid identifiers.
func (c *Client) ContributeAsset(ctx context.Context, asset domain.Asset, ticker, exchange, tradingCurrency string) error {
	if !isin.Valid(asset.ISIN) {
		return fmt.Errorf("refusing to contribute invalid ISIN %q", asset.ISIN)
	}

	params := map[string]interface{}{
		"p_isin":             asset.ISIN,
		"p_ticker":           ticker,
		"p_exchange":         exchange,
		"p_name":             asset.Name,
		"p_asset_class":      string(asset.AssetClass),
		"p_base_currency":    asset.BaseCurrency,
		"p_trading_currency": tradingCurrency,
	}

	return c.rpc(ctx, "contribute_asset_rpc", params, nil)
}

// ContributeAlias upserts an alias row. The server merges on
// (alias_text, isin): contributor_count increments, confidence takes the
// max, the source label changes only on strictly greater confidence, and
// currency/exchange fill in only when previously null.
func (c *Client) ContributeAlias(ctx context.Context, alias domain.Alias) error {
	if !isin.Valid(alias.ISIN) {
		return fmt.Errorf("refusing to contribute alias for invalid ISIN %q", alias.ISIN)
	}

	params := map[string]interface{}{
		"p_alias":           alias.AliasText,
		"p_isin":            alias.ISIN,
		"p_alias_type":      string(alias.AliasType),
		"p_source":          string(alias.Source),
		"p_confidence":      alias.Confidence,
		"p_language":        alias.Language,
		"p_currency":        alias.Currency,
		"p_exchange":        alias.Exchange,
		"p_currency_source": string(alias.CurrencySource),
	}

	return c.rpc(ctx, "contribute_alias_rpc", params, nil)
}

// ContributeListing upserts one (ticker, exchange) -> ISIN listing.
func (c *Client) ContributeListing(ctx context.Context, listing domain.Listing) error {
	if !isin.Valid(listing.ISIN) {
		return fmt.Errorf("refusing to contribute listing for invalid ISIN %q", listing.ISIN)
	}

	params := map[string]interface{}{
		"p_isin":     listing.ISIN,
		"p_ticker":   listing.Ticker,
		"p_exchange": listing.Exchange,
		"p_currency": listing.Currency,
	}

	return c.rpc(ctx, "contribute_listing_rpc", params, nil)
}

// HoldingRow is one constituent of an ETF as stored in the community
// holdings tables.
type HoldingRow struct {
	Ticker   string  `json:"ticker"`
	Name     string  `json:"name"`
	ISIN     string  `json:"isin,omitempty"`
	Weight   float64 `json:"weight"`
	Currency string  `json:"currency,omitempty"`
}

// GetETFHoldings fetches the constituents of an ETF by its ISIN.
// Returns (nil, nil) when the ETF is unknown to the community store.
func (c *Client) GetETFHoldings(ctx context.Context, etfISIN string) ([]HoldingRow, error) {
	var rows []HoldingRow
	params := map[string]interface{}{"p_etf_isin": etfISIN}
	if err := c.rpc(ctx, "get_etf_holdings_rpc", params, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows, nil
}
