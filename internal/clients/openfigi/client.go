// Package openfigi provides a client for Bloomberg's OpenFIGI API.
// OpenFIGI is a free service for mapping securities identifiers; here it
// is used in the ticker -> ISIN direction. Not every mapping row carries
// an ISIN, so a successful mapping without one is still a no-hit.
package openfigi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/skeptomenos/prism/internal/clientdata"
	"github.com/skeptomenos/prism/internal/domain"
	"github.com/skeptomenos/prism/internal/isin"
	"github.com/skeptomenos/prism/internal/normalize"
)

const defaultBaseURL = "https://api.openfigi.com/v3"

// MappingRequest represents a request to the OpenFIGI mapping API.
type MappingRequest struct {
	IDType    string `json:"idType"`
	IDValue   string `json:"idValue"`
	ExchCode  string `json:"exchCode,omitempty"`
	MarketSec string `json:"marketSecDes,omitempty"` // e.g., "Equity"
}

// MappingResult represents a single result from the OpenFIGI API.
type MappingResult struct {
	FIGI            string `json:"figi"`
	ISIN            string `json:"isin,omitempty"` // present only on some mappings
	Ticker          string `json:"ticker"`
	ExchCode        string `json:"exchCode"`
	Name            string `json:"name"`
	MarketSector    string `json:"marketSector"`
	SecurityType    string `json:"securityType"`
	CompositeFIGI   string `json:"compositeFIGI"`
	ShareClassFIGI  string `json:"shareClassFIGI"`
	SecurityType2   string `json:"securityType2"`
	MarketSectorDes string `json:"marketSectorDes"`
}

// MappingResponse represents a response item from the OpenFIGI API.
type MappingResponse struct {
	Data    []MappingResult `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Warning string          `json:"warning,omitempty"`
}

// Client is the OpenFIGI API client.
type Client struct {
	baseURL    string
	apiKey     string // Optional - increases rate limits
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
	cacheRepo  *clientdata.Repository
}

// NewClient creates a new OpenFIGI client.
// apiKey is optional but recommended for higher rate limits.
// cacheRepo is optional - if nil, caching is disabled.
func NewClient(apiKey string, cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	// 25 requests/minute without a key, far more with one. The limiter
	// stays at the keyed tier; the keyless tier is handled by backoff on
	// 429 at the call site.
	interval := 240 * time.Millisecond
	if apiKey == "" {
		interval = 2400 * time.Millisecond
	}

	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
		log:       log.With().Str("component", "openfigi").Logger(),
		cacheRepo: cacheRepo,
	}
}

// Name identifies this provider in logs and stats.
func (c *Client) Name() string {
	return string(domain.SourceOpenFIGI)
}

// Lookup maps a ticker to an ISIN via a TICKER mapping request. The
// exchange parsed out of the ticker narrows the request when known.
// Returns (nil, nil) when OpenFIGI has no mapping or the mapping carries
// no ISIN.
func (c *Client) Lookup(ctx context.Context, ticker, name string) (*domain.ProviderHit, error) {
	root, exchange := normalize.ParseTicker(ticker)
	if root == "" {
		return nil, nil
	}

	cacheKey := root
	exchCode := bloombergCode(exchange)
	if exchCode != "" {
		cacheKey = root + "|" + exchCode
	}

	if hit, ok := c.getFromCache(cacheKey, true); ok {
		c.log.Debug().Str("ticker", root).Msg("OpenFIGI cache hit")
		return hit, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := MappingRequest{
		IDType:    "TICKER",
		IDValue:   root,
		ExchCode:  exchCode,
		MarketSec: "Equity",
	}

	responses, err := c.doRequest(ctx, []MappingRequest{req})
	if err != nil {
		if stale, ok := c.getFromCache(cacheKey, false); ok {
			c.log.Warn().Err(err).Str("ticker", root).Msg("API failed, using stale cached data")
			return stale, nil
		}
		return nil, err
	}

	if len(responses) == 0 || len(responses[0].Data) == 0 {
		c.setCache(cacheKey, nil)
		return nil, nil
	}

	for _, result := range responses[0].Data {
		if isin.Valid(result.ISIN) {
			hit := &domain.ProviderHit{
				ISIN:   strings.ToUpper(strings.TrimSpace(result.ISIN)),
				Sector: result.MarketSectorDes,
			}
			c.setCache(cacheKey, hit)
			return hit, nil
		}
	}

	// Mapped, but no row carried an ISIN.
	c.setCache(cacheKey, nil)
	return nil, nil
}

// doRequest performs the HTTP request to the OpenFIGI API.
func (c *Client) doRequest(ctx context.Context, requests []MappingRequest) ([]MappingResponse, error) {
	body, err := json.Marshal(requests)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mapping", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-OPENFIGI-APIKEY", c.apiKey)
	}

	c.log.Debug().Int("count", len(requests)).Msg("Making OpenFIGI request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("OpenFIGI API error: status %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var responses []MappingResponse
	if err := json.NewDecoder(resp.Body).Decode(&responses); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return responses, nil
}

// getFromCache retrieves cached results. fresh selects between the TTL
// window and the stale fallback used when the API is down.
func (c *Client) getFromCache(key string, fresh bool) (*domain.ProviderHit, bool) {
	if c.cacheRepo == nil {
		return nil, false
	}

	var (
		data json.RawMessage
		err  error
	)
	if fresh {
		data, err = c.cacheRepo.GetIfFresh("openfigi", key)
	} else {
		data, err = c.cacheRepo.Get("openfigi", key)
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

// setCache stores a result (or a cached negative as nil) persistently.
func (c *Client) setCache(key string, hit *domain.ProviderHit) {
	if c.cacheRepo == nil {
		return
	}

	if err := c.cacheRepo.Store("openfigi", key, hit, clientdata.TTLOpenFIGI); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to cache OpenFIGI results")
	}
}

// bloombergExchangeCodes maps internal exchange codes to the Bloomberg
// exchange codes OpenFIGI expects.
var bloombergExchangeCodes = map[string]string{
	// Americas
	"US":     "US",
	"NYSE":   "US",
	"NASDAQ": "US",
	"CA":     "CT",
	"TSX":    "CT",

	// Europe
	"GB":       "LN",
	"LSE":      "LN",
	"DE":       "GR",
	"XETRA":    "GR",
	"FR":       "FP",
	"EURONEXT": "FP",

	// Asia-Pacific
	"HK":   "HK",
	"HKEX": "HK",
	"JP":   "JT",
	"TSE":  "JT",
	"AU":   "AU",
	"KRX":  "KS",
	"TW":   "TT",
	"TWSE": "TT",
}

func bloombergCode(exchange string) string {
	if code, ok := bloombergExchangeCodes[exchange]; ok {
		return code
	}
	return ""
}
