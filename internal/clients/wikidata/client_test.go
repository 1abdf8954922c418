package wikidata

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/skeptomenos/prism/internal/clientdata"
)

func setupCacheRepo(t *testing.T) *clientdata.Repository {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE wikidata (lookup_key TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL)`)
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
		c.sparqlURL = srv.URL + "/sparql"
		c.apiURL = srv.URL + "/w/api.php"
	}
	return c
}

func sparqlResult(isin string) string {
	return fmt.Sprintf(`{"results":{"bindings":[{"isin":{"value":%q}}]}}`, isin)
}

func TestLookupViaSparql(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sparql", r.URL.Path)
		assert.Equal(t, "application/sparql-results+json", r.Header.Get("Accept"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))

		query := r.URL.Query().Get("query")
		assert.Contains(t, query, `"NVIDIA CORP"`)
		assert.Contains(t, query, "wdt:P946")

		w.Write([]byte(sparqlResult("US67066G1040")))
	}, nil)

	hit, err := c.Lookup(context.Background(), "", "NVIDIA Corp")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "US67066G1040", hit.ISIN)
}

func TestLookupEmptyName(t *testing.T) {
	c := NewClient(nil, zerolog.Nop())

	hit, err := c.Lookup(context.Background(), "NVDA", "")
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestLookupNoMatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":{"bindings":[]}}`))
	}, nil)

	hit, err := c.Lookup(context.Background(), "", "No Such Company Inc")
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestSparqlFailureFallsBackToEntitySearch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sparql" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		require.Equal(t, "/w/api.php", r.URL.Path)
		switch r.URL.Query().Get("action") {
		case "wbsearchentities":
			assert.Equal(t, "SIEMENS AG", strings.ToUpper(r.URL.Query().Get("search")))
			w.Write([]byte(`{"search":[{"id":"Q81230"}]}`))
		case "wbgetentities":
			assert.Equal(t, "Q81230", r.URL.Query().Get("ids"))
			w.Write([]byte(`{"entities":{"Q81230":{"claims":{"P946":[{"mainsnak":{"datavalue":{"value":"DE0007236101"}}}]}}}}`))
		default:
			t.Errorf("unexpected action %q", r.URL.Query().Get("action"))
		}
	}, nil)

	hit, err := c.Lookup(context.Background(), "", "Siemens AG")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "DE0007236101", hit.ISIN)
}

func TestLookupUsesCache(t *testing.T) {
	repo := setupCacheRepo(t)

	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(sparqlResult("US0378331005")))
	}, repo)

	for i := 0; i < 2; i++ {
		hit, err := c.Lookup(context.Background(), "", "Apple Inc")
		require.NoError(t, err)
		require.NotNil(t, hit)
		assert.Equal(t, "US0378331005", hit.ISIN)
	}
	assert.Equal(t, 1, calls)
}

func TestLookupCachesNegative(t *testing.T) {
	repo := setupCacheRepo(t)

	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"results":{"bindings":[]}}`))
	}, repo)

	for i := 0; i < 2; i++ {
		hit, err := c.Lookup(context.Background(), "", "No Such Company Inc")
		require.NoError(t, err)
		assert.Nil(t, hit)
	}
	assert.Equal(t, 1, calls, "a cached no-hit must not requery the service")
}

func TestEscapeSparql(t *testing.T) {
	assert.Equal(t, `JOHNSON \"J\" CO`, escapeSparql(`JOHNSON "J" CO`))
	assert.Equal(t, `BACK\\SLASH`, escapeSparql(`BACK\SLASH`))
}
