package yfinance

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/skeptomenos/prism/internal/clientdata"
	"github.com/skeptomenos/prism/internal/domain"
)

func setupCacheRepo(t *testing.T) *clientdata.Repository {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE yfinance (lookup_key TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL)`)
	require.NoError(t, err)

	return clientdata.NewRepository(db)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, repo *clientdata.Repository) *Client {
	t.Helper()

	c := NewClient(repo, zerolog.Nop())
	c.limiter = rate.NewLimiter(rate.Inf, 1)

	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		c.baseURL = srv.URL
	}
	return c
}

const summaryWithISIN = `{"quoteSummary":{"result":[{
	"quoteType":{"symbol":"ASML","isin":"NL0010273215","currency":"EUR"},
	"assetProfile":{"sector":"Technology","country":"Netherlands"}
}],"error":null}}`

func TestLookup(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v10/finance/quoteSummary/ASML", r.URL.Path)
		assert.Equal(t, "quoteType,assetProfile", r.URL.Query().Get("modules"))

		w.Write([]byte(summaryWithISIN))
	}, nil)

	hit, err := c.Lookup(context.Background(), "asml", "")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "NL0010273215", hit.ISIN)
	assert.Equal(t, "Technology", hit.Sector)
	assert.Equal(t, "EUR", hit.Currency)
}

func TestLookupUnknownSymbol(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, nil)

	hit, err := c.Lookup(context.Background(), "NOSUCH", "")
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestLookupWithoutISIN(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quoteSummary":{"result":[{"quoteType":{"symbol":"SPY"}}],"error":null}}`))
	}, nil)

	hit, err := c.Lookup(context.Background(), "SPY", "")
	require.NoError(t, err)
	assert.Nil(t, hit, "a quote without an ISIN is not a hit")
}

func TestLookupRateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}, nil)

	_, err := c.Lookup(context.Background(), "ASML", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
}

func TestLookupUsesCache(t *testing.T) {
	repo := setupCacheRepo(t)

	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(summaryWithISIN))
	}, repo)

	for i := 0; i < 2; i++ {
		hit, err := c.Lookup(context.Background(), "ASML", "")
		require.NoError(t, err)
		require.NotNil(t, hit)
	}
	assert.Equal(t, 1, calls)
}
