// Package finnhub provides the Finnhub company-profile lookup provider.
// The profile2 endpoint returns the ISIN along with sector, country and
// currency classification for a ticker.
package finnhub

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

const defaultBaseURL = "https://finnhub.io/api/v1"

// Client is the Finnhub API client. Without an API key the client is
// inert and every lookup is a no-hit.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
	cacheRepo  *clientdata.Repository
}

// profile is the subset of the profile2 response we use.
type profile struct {
	ISIN     string `json:"isin"`
	Name     string `json:"name"`
	Ticker   string `json:"ticker"`
	Currency string `json:"currency"`
	Country  string `json:"country"`
	Industry string `json:"finnhubIndustry"`
	Exchange string `json:"exchange"`
}

// NewClient creates a new Finnhub client. cacheRepo is optional; if nil,
// caching is disabled.
func NewClient(apiKey string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		// Free tier allows 60 requests/minute.
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
		log:       log.With().Str("component", "finnhub").Logger(),
		cacheRepo: cacheRepo,
	}
}

// Name identifies this provider in logs and stats.
func (c *Client) Name() string {
	return string(domain.SourceFinnhub)
}

// Lookup resolves a ticker via the profile2 endpoint. Returns (nil, nil)
// when the ticker is unknown or has no ISIN, and domain.ErrRateLimited
// when the API answers 429 so the caller can shorten its retry window.
func (c *Client) Lookup(ctx context.Context, ticker, name string) (*domain.ProviderHit, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" || c.apiKey == "" {
		return nil, nil
	}

	if hit, ok := c.getFromCache(ticker, true); ok {
		c.log.Debug().Str("ticker", ticker).Msg("Finnhub cache hit")
		return hit, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := c.baseURL + "/stock/profile2?" + url.Values{"symbol": {ticker}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-Finnhub-Token", c.apiKey)

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
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("Finnhub returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var p profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	// Unknown tickers come back as an empty object, not an error status.
	if !isin.Valid(p.ISIN) {
		c.setCache(ticker, nil)
		return nil, nil
	}

	hit := &domain.ProviderHit{
		ISIN:     strings.ToUpper(strings.TrimSpace(p.ISIN)),
		Sector:   p.Industry,
		Country:  p.Country,
		Currency: p.Currency,
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
		data, err = c.cacheRepo.GetIfFresh("finnhub", key)
	} else {
		data, err = c.cacheRepo.Get("finnhub", key)
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
	if err := c.cacheRepo.Store("finnhub", key, hit, clientdata.TTLFinnhub); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to cache Finnhub result")
	}
}
