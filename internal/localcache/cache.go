// Package localcache maintains the local SQLite mirror of the community
// identity data (assets, listings, aliases) plus the resolution memo and
// telemetry tables. The mirror is the authoritative fast path of the
// resolution cascade; it is refreshed wholesale from the community store
// and extended incrementally by write-through after remote hits.
package localcache

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/skeptomenos/prism/internal/database"
	"github.com/skeptomenos/prism/internal/domain"
)

// Negative cache TTLs. A rate-limited miss is retried much sooner than a
// genuine exhausted lookup.
const (
	NegativeTTLUnresolved  = 24 * time.Hour
	NegativeTTLRateLimited = time.Hour
)

// Memo statuses stored in isin_cache.
const (
	MemoResolved    = "resolved"
	MemoUnresolved  = "unresolved"
	MemoRateLimited = "rate_limited"
)

// Cache wraps the cache.db mirror.
type Cache struct {
	db     *database.DB
	log    zerolog.Logger
	syncMu sync.Mutex
}

// New creates a cache around an opened cache database.
func New(db *database.DB, log zerolog.Logger) *Cache {
	return &Cache{
		db:  db,
		log: log.With().Str("component", "localcache").Logger(),
	}
}

// GetByTicker returns the listing for a ticker, or (nil, nil) when the
// ticker is unknown. When the same ticker trades on several exchanges the
// lexicographically first exchange wins, keeping repeated lookups
// deterministic.
func (c *Cache) GetByTicker(ticker string) (*domain.Listing, error) {
	row := c.db.QueryRow(
		`SELECT ticker, exchange, isin, currency
		 FROM listings WHERE ticker = ? ORDER BY exchange ASC LIMIT 1`,
		ticker,
	)

	var l domain.Listing
	err := row.Scan(&l.Ticker, &l.Exchange, &l.ISIN, &l.Currency)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing by ticker: %w", err)
	}
	return &l, nil
}

// GetByAlias returns the best alias row for a piece of text, ranked by
// confidence then contributor count. Returns (nil, nil) when unknown.
func (c *Cache) GetByAlias(text string) (*domain.Alias, error) {
	row := c.db.QueryRow(
		`SELECT alias_text, isin, alias_type, language, source, confidence,
		        currency, exchange, currency_source, contributor_count
		 FROM aliases WHERE alias_text = ?
		 ORDER BY confidence DESC, contributor_count DESC LIMIT 1`,
		text,
	)

	var a domain.Alias
	err := row.Scan(
		&a.AliasText, &a.ISIN, &a.AliasType, &a.Language, &a.Source,
		&a.Confidence, &a.Currency, &a.Exchange, &a.CurrencySource,
		&a.ContributorCount,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alias: %w", err)
	}
	return &a, nil
}

// GetAsset returns the asset record for an ISIN, or (nil, nil).
func (c *Cache) GetAsset(isin string) (*domain.Asset, error) {
	row := c.db.QueryRow(
		`SELECT isin, name, asset_class, base_currency, sector, geography, enrichment_status
		 FROM assets WHERE isin = ?`,
		isin,
	)

	var a domain.Asset
	err := row.Scan(&a.ISIN, &a.Name, &a.AssetClass, &a.BaseCurrency, &a.Sector, &a.Geography, &a.EnrichmentStatus)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return &a, nil
}

// LastSync returns the time of the last successful sync. The second
// return value is false when the mirror has never been synced.
func (c *Cache) LastSync() (time.Time, bool, error) {
	var value string
	err := c.db.QueryRow(`SELECT value FROM sync_meta WHERE key = 'last_sync'`).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read last sync: %w", err)
	}

	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse last sync value %q: %w", value, err)
	}
	return time.Unix(unix, 0), true, nil
}

// IsStale reports whether the mirror is older than maxAge. A mirror that
// has never synced is always stale.
func (c *Cache) IsStale(maxAge time.Duration) bool {
	last, ok, err := c.LastSync()
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to determine cache age, treating as stale")
		return true
	}
	if !ok {
		return true
	}
	return time.Since(last) > maxAge
}

// SyncResult reports one sync attempt. Err is set on failure; the counts
// describe the snapshot that was loaded.
type SyncResult struct {
	AssetCount   int
	ListingCount int
	AliasCount   int
	Err          error
}

// SnapshotSource supplies full-table snapshots for sync. Satisfied by the
// hive client.
type SnapshotSource interface {
	GetAllAssets(ctx context.Context) ([]domain.Asset, error)
	GetAllListings(ctx context.Context) ([]domain.Listing, error)
	GetAllAliases(ctx context.Context) ([]domain.Alias, error)
}

// SyncFromRemote replaces the mirror with a fresh snapshot. The snapshot
// is fetched first, then loaded inside one transaction: WAL snapshot
// isolation means concurrent readers see either the old mirror or the
// new one, never a mix. On any error the transaction rolls back and the
// prior contents remain intact.
func (c *Cache) SyncFromRemote(ctx context.Context, remote SnapshotSource) SyncResult {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	started := time.Now()

	assets, err := remote.GetAllAssets(ctx)
	if err != nil {
		return c.failSync(fmt.Errorf("failed to fetch assets: %w", err))
	}
	listings, err := remote.GetAllListings(ctx)
	if err != nil {
		return c.failSync(fmt.Errorf("failed to fetch listings: %w", err))
	}
	aliases, err := remote.GetAllAliases(ctx)
	if err != nil {
		return c.failSync(fmt.Errorf("failed to fetch aliases: %w", err))
	}

	err = database.WithTransaction(c.db.Conn(), func(tx *sql.Tx) error {
		for _, table := range []string{"assets", "listings", "aliases"} {
			if _, err := tx.Exec("DELETE FROM " + table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		assetStmt, err := tx.Prepare(
			`INSERT INTO assets (isin, name, asset_class, base_currency, sector, geography, enrichment_status, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return fmt.Errorf("failed to prepare asset insert: %w", err)
		}
		defer assetStmt.Close()

		now := time.Now().Unix()
		for _, a := range assets {
			status := a.EnrichmentStatus
			if status == "" {
				status = domain.EnrichmentStub
			}
			if _, err := assetStmt.Exec(a.ISIN, a.Name, a.AssetClass, a.BaseCurrency, a.Sector, a.Geography, status, now); err != nil {
				return fmt.Errorf("failed to insert asset %s: %w", a.ISIN, err)
			}
		}

		listingStmt, err := tx.Prepare(
			`INSERT OR REPLACE INTO listings (ticker, exchange, isin, currency) VALUES (?, ?, ?, ?)`,
		)
		if err != nil {
			return fmt.Errorf("failed to prepare listing insert: %w", err)
		}
		defer listingStmt.Close()

		for _, l := range listings {
			if _, err := listingStmt.Exec(l.Ticker, l.Exchange, l.ISIN, l.Currency); err != nil {
				return fmt.Errorf("failed to insert listing %s/%s: %w", l.Ticker, l.Exchange, err)
			}
		}

		aliasStmt, err := tx.Prepare(
			`INSERT OR REPLACE INTO aliases
			 (alias_text, isin, alias_type, language, source, confidence, currency, exchange, currency_source, contributor_count)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return fmt.Errorf("failed to prepare alias insert: %w", err)
		}
		defer aliasStmt.Close()

		for _, a := range aliases {
			count := a.ContributorCount
			if count < 1 {
				count = 1
			}
			if _, err := aliasStmt.Exec(
				a.AliasText, a.ISIN, a.AliasType, a.Language, a.Source,
				a.Confidence, a.Currency, a.Exchange, a.CurrencySource, count,
			); err != nil {
				return fmt.Errorf("failed to insert alias %q: %w", a.AliasText, err)
			}
		}

		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO sync_meta (key, value) VALUES ('last_sync', ?)`,
			strconv.FormatInt(time.Now().Unix(), 10),
		); err != nil {
			return fmt.Errorf("failed to record sync time: %w", err)
		}

		return nil
	})
	if err != nil {
		return c.failSync(err)
	}

	result := SyncResult{
		AssetCount:   len(assets),
		ListingCount: len(listings),
		AliasCount:   len(aliases),
	}

	c.log.Info().
		Int("assets", result.AssetCount).
		Int("listings", result.ListingCount).
		Int("aliases", result.AliasCount).
		Dur("took", time.Since(started)).
		Msg("Mirror sync complete")

	return result
}

func (c *Cache) failSync(err error) SyncResult {
	c.log.Error().Err(err).Msg("Mirror sync failed, previous contents retained")
	return SyncResult{Err: err}
}

// UpsertListing writes through one listing after a remote or external hit.
func (c *Cache) UpsertListing(l domain.Listing) error {
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO listings (ticker, exchange, isin, currency) VALUES (?, ?, ?, ?)`,
		l.Ticker, l.Exchange, l.ISIN, l.Currency,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert listing %s/%s: %w", l.Ticker, l.Exchange, err)
	}
	return nil
}

// UpsertAlias writes through one alias row. The local merge mirrors the
// community rules: contributor count accumulates and confidence never
// decreases.
func (c *Cache) UpsertAlias(a domain.Alias) error {
	if a.ContributorCount < 1 {
		a.ContributorCount = 1
	}
	_, err := c.db.Exec(
		`INSERT INTO aliases
		 (alias_text, isin, alias_type, language, source, confidence, currency, exchange, currency_source, contributor_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(alias_text, isin) DO UPDATE SET
		   contributor_count = aliases.contributor_count + 1,
		   confidence = MAX(aliases.confidence, excluded.confidence),
		   source = CASE WHEN excluded.confidence > aliases.confidence THEN excluded.source ELSE aliases.source END,
		   currency = CASE WHEN aliases.currency = '' THEN excluded.currency ELSE aliases.currency END,
		   exchange = CASE WHEN aliases.exchange = '' THEN excluded.exchange ELSE aliases.exchange END,
		   currency_source = CASE WHEN aliases.currency_source = '' THEN excluded.currency_source ELSE aliases.currency_source END`,
		a.AliasText, a.ISIN, a.AliasType, a.Language, a.Source,
		a.Confidence, a.Currency, a.Exchange, a.CurrencySource, a.ContributorCount,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert alias %q: %w", a.AliasText, err)
	}
	return nil
}

// Memo is one row of the resolution memo table.
type Memo struct {
	Alias      string
	AliasType  string
	ISIN       string
	Status     string
	Confidence float64
	Source     string
}

// SetMemo records a resolution outcome. ttl == 0 means the memo never
// expires (positive results); negative results pass one of the TTL
// constants.
func (c *Cache) SetMemo(m Memo, ttl time.Duration) error {
	var expiresAt interface{}
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Unix()
	}

	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO isin_cache
		 (alias, alias_type, isin, resolution_status, confidence, source, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Alias, m.AliasType, m.ISIN, m.Status, m.Confidence, m.Source, expiresAt, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to set resolution memo for %q: %w", m.Alias, err)
	}
	return nil
}

// GetMemo returns an unexpired memo for an alias, or (nil, nil).
func (c *Cache) GetMemo(alias, aliasType string) (*Memo, error) {
	row := c.db.QueryRow(
		`SELECT alias, alias_type, COALESCE(isin, ''), resolution_status, confidence, source
		 FROM isin_cache
		 WHERE alias = ? AND alias_type = ?
		   AND (expires_at IS NULL OR expires_at > ?)`,
		alias, aliasType, time.Now().Unix(),
	)

	var m Memo
	err := row.Scan(&m.Alias, &m.AliasType, &m.ISIN, &m.Status, &m.Confidence, &m.Source)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resolution memo: %w", err)
	}
	return &m, nil
}

// IsNegativeCached reports whether the alias has an unexpired negative
// memo, meaning external lookups recently failed for it.
func (c *Cache) IsNegativeCached(alias, aliasType string) (bool, error) {
	m, err := c.GetMemo(alias, aliasType)
	if err != nil {
		return false, err
	}
	return m != nil && m.Status != MemoResolved, nil
}

// CleanupExpiredMemos removes expired negative memos. Positive memos
// (expires_at NULL) are never touched.
func (c *Cache) CleanupExpiredMemos() (int64, error) {
	result, err := c.db.Exec(
		`DELETE FROM isin_cache WHERE expires_at IS NOT NULL AND expires_at < ?`,
		time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up expired memos: %w", err)
	}
	return result.RowsAffected()
}

// LogFormatAttempt records which ticker rendering was tried against which
// API and whether it worked. Pure telemetry for tuning the variant order.
func (c *Cache) LogFormatAttempt(input, tried, format, apiSource string, success bool, etfISIN string) error {
	_, err := c.db.Exec(
		`INSERT INTO format_attempts (ticker_input, ticker_tried, format_type, api_source, success, etf_isin, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		input, tried, format, apiSource, boolToInt(success), etfISIN, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to log format attempt: %w", err)
	}
	return nil
}

// Counts returns the mirror table sizes for health and stats reporting.
func (c *Cache) Counts() (assets, listings, aliases int, err error) {
	if err = c.db.QueryRow(`SELECT COUNT(*) FROM assets`).Scan(&assets); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count assets: %w", err)
	}
	if err = c.db.QueryRow(`SELECT COUNT(*) FROM listings`).Scan(&listings); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count listings: %w", err)
	}
	if err = c.db.QueryRow(`SELECT COUNT(*) FROM aliases`).Scan(&aliases); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count aliases: %w", err)
	}
	return assets, listings, aliases, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
