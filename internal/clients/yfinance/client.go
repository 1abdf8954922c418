// Package yfinance provides the Yahoo Finance quoteSummary lookup
// provider. It is the least reliable external source and runs last in
// the provider cascade.
package yfinance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/skeptomenos/prism/internal/clientdata"
	"github.com/skeptomenos/prism/internal/domain"
	"github.com/skeptomenos/prism/internal/isin"
)

const defaultBaseURL = "https://query1.finance.yahoo.com"

// Client is the Yahoo Finance API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
	cacheRepo  *clientdata.Repository
}

// NewClient creates a new Yahoo Finance client. cacheRepo is optional;
// if nil, caching is disabled.
func NewClient(cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		// Unofficial endpoint, stay well under the radar.
		limiter:   rate.NewLimiter(rate.Every(2*time.Second), 1),
		log:       log.With().Str("component", "yfinance").Logger(),
		cacheRepo: cacheRepo,
	}
}

// Name identifies this provider in logs and stats.
func (c *Client) Name() string {
	return string(domain.SourceYFinance)
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			QuoteType struct {
				Symbol   string `json:"symbol"`
				ISIN     string `json:"isin"`
				Currency string `json:"currency"`
			} `json:"quoteType"`
			AssetProfile struct {
				Sector  string `json:"sector"`
				Country string `json:"country"`
			} `json:"assetProfile"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

// Lookup resolves a ticker through the quoteSummary endpoint. Returns
// (nil, nil) when the symbol is unknown or carries no ISIN, and
// domain.ErrRateLimited on a 429.
func (c *Client) Lookup(ctx context.Context, ticker, name string) (*domain.ProviderHit, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, nil
	}

	if hit, ok := c.getFromCache(ticker, true); ok {
		c.log.Debug().Str("ticker", ticker).Msg("Yahoo cache hit")
		return hit, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := c.baseURL + "/v10/finance/quoteSummary/" + url.PathEscape(ticker) +
		"?" + url.Values{"modules": {"quoteType,assetProfile"}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; prism/1.0)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if stale, ok := c.getFromCache(ticker, false); ok {
			c.log.Warn().Err(err).Str("ticker", ticker).Msg("API failed, using stale cached data")
			return stale, nil
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.ErrRateLimited
	}
	// Unknown symbols come back as 404 with an error envelope.
	if resp.StatusCode == http.StatusNotFound {
		c.setCache(ticker, nil)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("Yahoo returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var summary quoteSummaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, fmt.Errorf("failed to decode quoteSummary: %w", err)
	}

	if summary.QuoteSummary.Error != nil || len(summary.QuoteSummary.Result) == 0 {
		c.setCache(ticker, nil)
		return nil, nil
	}

	result := summary.QuoteSummary.Result[0]
	if !isin.Valid(result.QuoteType.ISIN) {
		c.setCache(ticker, nil)
		return nil, nil
	}

	hit := &domain.ProviderHit{
		ISIN:     strings.ToUpper(strings.TrimSpace(result.QuoteType.ISIN)),
		Sector:   result.AssetProfile.Sector,
		Country:  result.AssetProfile.Country,
		Currency: result.QuoteType.Currency,
	}
	c.setCache(ticker, hit)
	return hit, nil
}

func (c *Client) getFromCache(key string, fresh bool) (*domain.ProviderHit, bool) {
	if c.cacheRepo == nil {
		return nil, false
	}

	var (
		data json.RawMessage
		err  error
	)
	if fresh {
		data, err = c.cacheRepo.GetIfFresh("yfinance", key)
	} else {
		data, err = c.cacheRepo.Get("yfinance", key)
	}
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to get from cache")
		return nil, false
	}
	if data == nil {
		return nil, false
	}

	var hit *domain.ProviderHit
	if err := json.Unmarshal(data, &hit); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to unmarshal cached data")
		return nil, false
	}
	return hit, true
}

func (c *Client) setCache(key string, hit *domain.ProviderHit) {
	if c.cacheRepo == nil {
		return
	}
	if err := c.cacheRepo.Store("yfinance", key, hit, clientdata.TTLYFinance); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to cache Yahoo result")
	}
}
