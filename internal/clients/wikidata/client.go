// Package wikidata resolves company names to ISINs through the Wikidata
// query service. A batched SPARQL query over several name variants is
// tried first; when that finds nothing, the entity search API is walked
// for an ISIN claim (P946).
package wikidata

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
	"github.com/skeptomenos/prism/internal/normalize"
)

const (
	defaultSparqlURL = "https://query.wikidata.org/sparql"
	defaultAPIURL    = "https://www.wikidata.org/w/api.php"

	userAgent = "prism/1.0 (identity resolution; github.com/skeptomenos/prism)"

	// maxVariants caps the VALUES clause; more variants add query cost
	// without improving hit rate.
	maxVariants = 5
)

// Client is the Wikidata lookup provider.
type Client struct {
	sparqlURL  string
	apiURL     string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
	cacheRepo  *clientdata.Repository
}

// NewClient creates a new Wikidata client. cacheRepo is optional; if nil,
// caching is disabled.
func NewClient(cacheRepo *clientdata.Repository, log zerolog.Logger) *Client {
	return &Client{
		sparqlURL: defaultSparqlURL,
		apiURL:    defaultAPIURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		// 30 requests/minute, polite use of the public query service.
		limiter:   rate.NewLimiter(rate.Every(2*time.Second), 1),
		log:       log.With().Str("component", "wikidata").Logger(),
		cacheRepo: cacheRepo,
	}
}

// Name identifies this provider in logs and stats.
func (c *Client) Name() string {
	return string(domain.SourceWikidata)
}

// Lookup resolves a company name to an ISIN. The ticker is unused here;
// Wikidata labels match names, not symbols. Returns (nil, nil) on no hit.
func (c *Client) Lookup(ctx context.Context, ticker, name string) (*domain.ProviderHit, error) {
	variants := normalize.NameVariants(name)
	if len(variants) == 0 {
		return nil, nil
	}
	if len(variants) > maxVariants {
		variants = variants[:maxVariants]
	}

	cacheKey := strings.ToUpper(variants[0])

	if hit, ok := c.getFromCache(cacheKey, true); ok {
		c.log.Debug().Str("name", cacheKey).Msg("Wikidata cache hit")
		return hit, nil
	}

	found, err := c.sparqlLookup(ctx, variants)
	if err != nil {
		c.log.Debug().Err(err).Str("name", cacheKey).Msg("SPARQL query failed, trying entity search")
		found, err = c.entitySearch(ctx, variants[0])
	}
	if err != nil {
		if stale, ok := c.getFromCache(cacheKey, false); ok {
			c.log.Warn().Err(err).Str("name", cacheKey).Msg("API failed, using stale cached data")
			return stale, nil
		}
		return nil, err
	}

	if found == "" {
		// Negative answers are worth caching too; the query is expensive.
		c.setCache(cacheKey, nil)
		return nil, nil
	}

	hit := &domain.ProviderHit{ISIN: found}
	c.setCache(cacheKey, hit)
	return hit, nil
}

// sparqlLookup runs one VALUES query matching any of the upper-cased
// variants against entity labels that carry an ISIN claim.
func (c *Client) sparqlLookup(ctx context.Context, variants []string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	values := make([]string, 0, len(variants))
	for _, v := range variants {
		values = append(values, `"`+escapeSparql(strings.ToUpper(v))+`"`)
	}

	query := fmt.Sprintf(`SELECT ?item ?isin WHERE {
  VALUES ?searchName { %s }
  ?item rdfs:label ?label .
  FILTER(UCASE(?label) = ?searchName)
  ?item wdt:P946 ?isin .
}
LIMIT 1`, strings.Join(values, " "))

	reqURL := c.sparqlURL + "?" + url.Values{
		"query":  {query},
		"format": {"json"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build SPARQL request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/sparql-results+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("SPARQL request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("SPARQL query returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		Results struct {
			Bindings []struct {
				ISIN struct {
					Value string `json:"value"`
				} `json:"isin"`
			} `json:"bindings"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode SPARQL response: %w", err)
	}

	for _, b := range result.Results.Bindings {
		if isin.Valid(b.ISIN.Value) {
			return strings.ToUpper(strings.TrimSpace(b.ISIN.Value)), nil
		}
	}
	return "", nil
}

// entitySearch is the fallback path: search entities by name, then walk
// the top matches for a P946 (ISIN) claim.
func (c *Client) entitySearch(ctx context.Context, name string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	searchURL := c.apiURL + "?" + url.Values{
		"action":   {"wbsearchentities"},
		"search":   {name},
		"language": {"en"},
		"format":   {"json"},
		"limit":    {"3"},
	}.Encode()

	var search struct {
		Search []struct {
			ID string `json:"id"`
		} `json:"search"`
	}
	if err := c.getJSON(ctx, searchURL, &search); err != nil {
		return "", fmt.Errorf("entity search failed: %w", err)
	}

	for _, hit := range search.Search {
		entityURL := c.apiURL + "?" + url.Values{
			"action": {"wbgetentities"},
			"ids":    {hit.ID},
			"props":  {"claims"},
			"format": {"json"},
		}.Encode()

		var detail struct {
			Entities map[string]struct {
				Claims map[string][]struct {
					Mainsnak struct {
						Datavalue struct {
							Value string `json:"value"`
						} `json:"datavalue"`
					} `json:"mainsnak"`
				} `json:"claims"`
			} `json:"entities"`
		}
		if err := c.getJSON(ctx, entityURL, &detail); err != nil {
			c.log.Debug().Err(err).Str("entity", hit.ID).Msg("Failed to fetch entity claims")
			continue
		}

		entity, ok := detail.Entities[hit.ID]
		if !ok {
			continue
		}
		for _, claim := range entity.Claims["P946"] {
			candidate := claim.Mainsnak.Datavalue.Value
			if isin.Valid(candidate) {
				return strings.ToUpper(strings.TrimSpace(candidate)), nil
			}
		}
	}

	return "", nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// getFromCache retrieves a cached hit. fresh selects between the TTL
// window and the stale fallback. The cached value is nil for a cached
// negative answer.
func (c *Client) getFromCache(key string, fresh bool) (*domain.ProviderHit, bool) {
	if c.cacheRepo == nil {
		return nil, false
	}

	var (
		data json.RawMessage
		err  error
	)
	if fresh {
		data, err = c.cacheRepo.GetIfFresh("wikidata", key)
	} else {
		data, err = c.cacheRepo.Get("wikidata", key)
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
	if err := c.cacheRepo.Store("wikidata", key, hit, clientdata.TTLWikidata); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to cache Wikidata result")
	}
}

func escapeSparql(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
