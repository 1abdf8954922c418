package clientdata

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSchema creates all provider tables needed for testing
const testSchema = `
CREATE TABLE wikidata (lookup_key TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL);
CREATE TABLE openfigi (lookup_key TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL);
CREATE TABLE finnhub (lookup_key TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL);
CREATE TABLE yfinance (lookup_key TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL);

CREATE INDEX idx_wikidata_expires ON wikidata(expires_at);
CREATE INDEX idx_openfigi_expires ON openfigi(expires_at);
CREATE INDEX idx_finnhub_expires ON finnhub(expires_at);
CREATE INDEX idx_yfinance_expires ON yfinance(expires_at);
`

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	return db
}

func TestNewRepository(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	assert.NotNil(t, repo)
}

func TestStore(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	data := map[string]interface{}{
		"isin":   "US0378331005",
		"name":   "Apple Inc",
		"sector": "Technology",
	}

	err := repo.Store("wikidata", "APPLE", data, TTLWikidata)
	require.NoError(t, err)

	var storedData string
	var expiresAt int64
	err = db.QueryRow("SELECT data, expires_at FROM wikidata WHERE lookup_key = ?", "APPLE").Scan(&storedData, &expiresAt)
	require.NoError(t, err)

	var parsed map[string]interface{}
	err = json.Unmarshal([]byte(storedData), &parsed)
	require.NoError(t, err)
	assert.Equal(t, "US0378331005", parsed["isin"])
	assert.Equal(t, "Apple Inc", parsed["name"])

	expectedExpires := time.Now().Add(TTLWikidata).Unix()
	assert.InDelta(t, expectedExpires, expiresAt, 5)
}

func TestStoreUpsert(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	err := repo.Store("openfigi", "NVDA", map[string]string{"version": "1"}, time.Hour)
	require.NoError(t, err)

	err = repo.Store("openfigi", "NVDA", map[string]string{"version": "2"}, time.Hour)
	require.NoError(t, err)

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM openfigi WHERE lookup_key = ?", "NVDA").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	result, err := repo.GetIfFresh("openfigi", "NVDA")
	require.NoError(t, err)
	require.NotNil(t, result)

	var parsed map[string]string
	err = json.Unmarshal(result, &parsed)
	require.NoError(t, err)
	assert.Equal(t, "2", parsed["version"])
}

func TestGetIfFresh_Fresh(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	err := repo.Store("finnhub", "NVDA", map[string]string{"status": "fresh"}, time.Hour)
	require.NoError(t, err)

	result, err := repo.GetIfFresh("finnhub", "NVDA")
	require.NoError(t, err)
	require.NotNil(t, result)

	var parsed map[string]string
	err = json.Unmarshal(result, &parsed)
	require.NoError(t, err)
	assert.Equal(t, "fresh", parsed["status"])
}

func TestGetIfFresh_Expired(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	expiredAt := time.Now().Add(-time.Hour).Unix()
	_, err := db.Exec(
		"INSERT INTO finnhub (lookup_key, data, expires_at) VALUES (?, ?, ?)",
		"NVDA",
		`{"status":"expired"}`,
		expiredAt,
	)
	require.NoError(t, err)

	result, err := repo.GetIfFresh("finnhub", "NVDA")
	require.NoError(t, err)
	assert.Nil(t, result, "Expected nil for expired data")
}

func TestGet_ReturnsStaleData(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	expiredAt := time.Now().Add(-time.Hour).Unix()
	_, err := db.Exec(
		"INSERT INTO yfinance (lookup_key, data, expires_at) VALUES (?, ?, ?)",
		"NVDA",
		`{"status":"stale_but_useful"}`,
		expiredAt,
	)
	require.NoError(t, err)

	result, err := repo.GetIfFresh("yfinance", "NVDA")
	require.NoError(t, err)
	assert.Nil(t, result, "GetIfFresh should return nil for expired data")

	// Get should return the stale data (useful when API fails)
	result, err = repo.Get("yfinance", "NVDA")
	require.NoError(t, err)
	require.NotNil(t, result, "Get should return stale data")

	var parsed map[string]string
	err = json.Unmarshal(result, &parsed)
	require.NoError(t, err)
	assert.Equal(t, "stale_but_useful", parsed["status"])
}

func TestGet_NotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	result, err := repo.Get("openfigi", "NONEXISTENT")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestDelete(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	err := repo.Store("yfinance", "NVDA", map[string]string{"to_delete": "true"}, time.Hour)
	require.NoError(t, err)

	err = repo.Delete("yfinance", "NVDA")
	require.NoError(t, err)

	result, err := repo.GetIfFresh("yfinance", "NVDA")
	require.NoError(t, err)
	assert.Nil(t, result)

	// Deleting a non-existent key is not an error.
	err = repo.Delete("yfinance", "NONEXISTENT")
	require.NoError(t, err)
}

func TestDeleteExpired(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	now := time.Now()
	expiredAt := now.Add(-time.Hour).Unix()
	freshAt := now.Add(time.Hour).Unix()

	for _, row := range []struct {
		key       string
		expiresAt int64
	}{
		{"NVDA", expiredAt},
		{"AAPL", expiredAt},
		{"MSFT", expiredAt},
		{"VOD", freshAt},
		{"SAP", freshAt},
	} {
		_, err := db.Exec("INSERT INTO wikidata (lookup_key, data, expires_at) VALUES (?, ?, ?)", row.key, `{}`, row.expiresAt)
		require.NoError(t, err)
	}

	deleted, err := repo.DeleteExpired("wikidata")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM wikidata").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDeleteAllExpired(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	now := time.Now()
	expiredAt := now.Add(-time.Hour).Unix()
	freshAt := now.Add(time.Hour).Unix()

	_, err := db.Exec("INSERT INTO wikidata (lookup_key, data, expires_at) VALUES (?, ?, ?)", "NVDA", `{}`, expiredAt)
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO wikidata (lookup_key, data, expires_at) VALUES (?, ?, ?)", "AAPL", `{}`, freshAt)
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO openfigi (lookup_key, data, expires_at) VALUES (?, ?, ?)", "VOD", `{}`, expiredAt)
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO openfigi (lookup_key, data, expires_at) VALUES (?, ?, ?)", "SAP", `{}`, expiredAt)
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO finnhub (lookup_key, data, expires_at) VALUES (?, ?, ?)", "MSFT", `{}`, freshAt)
	require.NoError(t, err)

	results, err := repo.DeleteAllExpired()
	require.NoError(t, err)

	assert.Equal(t, int64(1), results["wikidata"])
	assert.Equal(t, int64(2), results["openfigi"])
	assert.Equal(t, int64(0), results["finnhub"])
	assert.Equal(t, int64(0), results["yfinance"])

	var count int
	db.QueryRow("SELECT COUNT(*) FROM wikidata").Scan(&count)
	assert.Equal(t, 1, count)

	db.QueryRow("SELECT COUNT(*) FROM openfigi").Scan(&count)
	assert.Equal(t, 0, count)
}

func TestInvalidTableName(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	t.Run("Store", func(t *testing.T) {
		err := repo.Store("invalid_table; DROP TABLE openfigi;--", "key", map[string]string{}, time.Hour)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid table name")
	})

	t.Run("GetIfFresh", func(t *testing.T) {
		_, err := repo.GetIfFresh("users", "key")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid table name")
	})

	t.Run("Get", func(t *testing.T) {
		_, err := repo.Get("passwords", "key")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid table name")
	})

	t.Run("Delete", func(t *testing.T) {
		err := repo.Delete("secrets", "key")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid table name")
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		_, err := repo.DeleteExpired("nonexistent")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid table name")
	})
}

func TestValidateTable(t *testing.T) {
	for _, table := range AllTables {
		t.Run(table, func(t *testing.T) {
			assert.NoError(t, validateTable(table))
		})
	}
}

func TestTTLFor(t *testing.T) {
	assert.Equal(t, TTLWikidata, TTLFor("wikidata"))
	assert.Equal(t, TTLOpenFIGI, TTLFor("openfigi"))
	assert.Equal(t, TTLFinnhub, TTLFor("finnhub"))
	assert.Equal(t, TTLYFinance, TTLFor("yfinance"))
	assert.Equal(t, TTLYFinance, TTLFor("unknown"))
}
