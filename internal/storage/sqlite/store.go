package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"perfwatch/internal/storage"
)

// Store implements storage.Storer on a local SQLite file. It is the
// development and test backend; production deployments use Postgres.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and brings the schema up to
// date. Pass ":memory:" for an ephemeral database.
func New(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection keeps in-memory databases coherent and avoids
	// SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS sites (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS urls (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	site_id    INTEGER NOT NULL,
	url        TEXT NOT NULL,
	created_at TEXT NOT NULL,
	FOREIGN KEY (site_id) REFERENCES sites (id) ON DELETE CASCADE,
	UNIQUE (site_id, url)
);

CREATE TABLE IF NOT EXISTS test_results (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	url_id               INTEGER NOT NULL,
	performance_score    REAL,
	accessibility_score  REAL,
	best_practices_score REAL,
	seo_score            REAL,
	fcp                  REAL,
	lcp                  REAL,
	cls                  REAL,
	tti                  REAL,
	tbt                  REAL,
	speed_index          REAL,
	raw_data             TEXT,
	tested_at            TEXT NOT NULL,
	FOREIGN KEY (url_id) REFERENCES urls (id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_test_results_url_id_tested_at ON test_results (url_id, tested_at);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	// Columns added after the initial release. SQLite has no
	// ADD COLUMN IF NOT EXISTS, so a duplicate-column error means the
	// column is already there.
	additive := []string{
		`ALTER TABLE test_results ADD COLUMN inp REAL`,
		`ALTER TABLE test_results ADD COLUMN ttfb REAL`,
		`ALTER TABLE test_results ADD COLUMN total_byte_weight REAL`,
		`ALTER TABLE test_results ADD COLUMN strategy TEXT DEFAULT 'desktop'`,
	}
	for _, stmt := range additive {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return err
		}
	}
	return nil
}

func mapConstraintErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return storage.ErrConflict
	}
	if strings.Contains(msg, "FOREIGN KEY constraint failed") {
		return storage.ErrNotFound
	}
	return err
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// CreateSite inserts a site, failing with storage.ErrConflict on a
// duplicate name.
func (s *Store) CreateSite(ctx context.Context, name string) (*storage.Site, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sites (name, created_at) VALUES (?, ?)`,
		name, formatTime(now))
	if err != nil {
		return nil, mapConstraintErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &storage.Site{ID: id, Name: name, CreatedAt: now}, nil
}

// ListSites returns all sites ordered by name.
func (s *Store) ListSites(ctx context.Context) ([]storage.Site, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM sites ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sites := []storage.Site{}
	for rows.Next() {
		var site storage.Site
		var createdAt string
		if err := rows.Scan(&site.ID, &site.Name, &createdAt); err != nil {
			return nil, err
		}
		site.CreatedAt = parseTime(createdAt)
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// RenameSite updates a site's name.
func (s *Store) RenameSite(ctx context.Context, id int64, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sites SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return mapConstraintErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteSite removes a site; its URLs and their results cascade.
func (s *Store) DeleteSite(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sites WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreateURL adds a URL to a site. A duplicate (site_id, url) pair fails
// with ErrConflict; an unknown site fails with ErrNotFound.
func (s *Store) CreateURL(ctx context.Context, siteID int64, url string) (*storage.URL, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO urls (site_id, url, created_at) VALUES (?, ?, ?)`,
		siteID, url, formatTime(now))
	if err != nil {
		return nil, mapConstraintErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &storage.URL{ID: id, SiteID: siteID, URL: url, CreatedAt: now}, nil
}

// ListURLsBySite returns a site's URLs ordered by url.
func (s *Store) ListURLsBySite(ctx context.Context, siteID int64) ([]storage.URL, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, site_id, url, created_at FROM urls WHERE site_id = ? ORDER BY url`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	urls := []storage.URL{}
	for rows.Next() {
		var u storage.URL
		var createdAt string
		if err := rows.Scan(&u.ID, &u.SiteID, &u.URL, &createdAt); err != nil {
			return nil, err
		}
		u.CreatedAt = parseTime(createdAt)
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// ListAllURLs returns every URL with its site, ordered by site then url.
func (s *Store) ListAllURLs(ctx context.Context) ([]storage.SiteURL, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.url, s.id, s.name
		FROM urls u
		JOIN sites s ON u.site_id = s.id
		ORDER BY s.name, u.url`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	urls := []storage.SiteURL{}
	for rows.Next() {
		var u storage.SiteURL
		if err := rows.Scan(&u.ID, &u.URL, &u.SiteID, &u.SiteName); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// DeleteURL removes a URL; its results cascade.
func (s *Store) DeleteURL(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM urls WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// InsertResult appends one immutable measurement row.
func (s *Store) InsertResult(ctx context.Context, rec *storage.TestResult) (int64, error) {
	strategy := rec.Strategy
	if strategy == "" {
		strategy = storage.StrategyDesktop
	}
	testedAt := rec.TestedAt
	if testedAt.IsZero() {
		testedAt = time.Now().UTC()
	}
	var raw any
	if len(rec.RawData) > 0 {
		raw = string(rec.RawData)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO test_results (
			url_id, performance_score, accessibility_score, best_practices_score,
			seo_score, fcp, lcp, cls, tti, tbt, speed_index, inp, ttfb,
			total_byte_weight, raw_data, strategy, tested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.URLID, rec.PerformanceScore, rec.AccessibilityScore, rec.BestPracticesScore,
		rec.SEOScore, rec.FCP, rec.LCP, rec.CLS, rec.TTI, rec.TBT, rec.SpeedIndex,
		rec.INP, rec.TTFB, rec.TotalByteWeight, raw, strategy, formatTime(testedAt))
	if err != nil {
		return 0, mapConstraintErr(err)
	}
	return res.LastInsertId()
}

// GetResult looks up a single measurement by id.
func (s *Store) GetResult(ctx context.Context, id int64) (*storage.TestResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, url_id, performance_score, accessibility_score, best_practices_score,
			seo_score, fcp, lcp, cls, tti, tbt, speed_index, inp, ttfb,
			total_byte_weight, raw_data, COALESCE(strategy, 'desktop'), tested_at
		FROM test_results WHERE id = ?`, id)
	var rec storage.TestResult
	var raw sql.NullString
	var testedAt string
	err := row.Scan(&rec.ID, &rec.URLID, &rec.PerformanceScore, &rec.AccessibilityScore,
		&rec.BestPracticesScore, &rec.SEOScore, &rec.FCP, &rec.LCP, &rec.CLS, &rec.TTI,
		&rec.TBT, &rec.SpeedIndex, &rec.INP, &rec.TTFB, &rec.TotalByteWeight,
		&raw, &rec.Strategy, &testedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if raw.Valid {
		rec.RawData = []byte(raw.String)
	}
	rec.TestedAt = parseTime(testedAt)
	return &rec, nil
}

// LatestResults returns the newest measurement per URL for one site and
// strategy. URLs that were never tested still appear, with nil metrics.
func (s *Store) LatestResults(ctx context.Context, siteID int64, strategy string) ([]storage.LatestResult, error) {
	if strategy == "" {
		strategy = storage.StrategyDesktop
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			u.id, u.url,
			tr.performance_score, tr.accessibility_score, tr.best_practices_score,
			tr.seo_score, tr.fcp, tr.lcp, tr.cls, tr.inp, tr.ttfb,
			tr.total_byte_weight, tr.tested_at, COALESCE(tr.strategy, 'desktop')
		FROM urls u
		LEFT JOIN (
			SELECT url_id, MAX(tested_at) AS max_date
			FROM test_results
			WHERE COALESCE(strategy, 'desktop') = ?
			GROUP BY url_id
		) latest ON u.id = latest.url_id
		LEFT JOIN test_results tr ON u.id = tr.url_id AND tr.tested_at = latest.max_date
			AND COALESCE(tr.strategy, 'desktop') = ?
		WHERE u.site_id = ?
		ORDER BY u.url`, strategy, strategy, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []storage.LatestResult{}
	for rows.Next() {
		var r storage.LatestResult
		var testedAt, rowStrategy sql.NullString
		if err := rows.Scan(&r.URLID, &r.URL, &r.PerformanceScore, &r.AccessibilityScore,
			&r.BestPracticesScore, &r.SEOScore, &r.FCP, &r.LCP, &r.CLS, &r.INP,
			&r.TTFB, &r.TotalByteWeight, &testedAt, &rowStrategy); err != nil {
			return nil, err
		}
		if testedAt.Valid {
			t := parseTime(testedAt.String)
			r.TestedAt = &t
		}
		if rowStrategy.Valid {
			r.Strategy = rowStrategy.String
		} else {
			r.Strategy = storage.StrategyDesktop
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// History returns measurements for one URL inside the day window, oldest
// first. The cutoff is computed here so both backends agree on semantics.
func (s *Store) History(ctx context.Context, params storage.HistoryParams) ([]storage.TestResult, error) {
	strategy := params.Strategy
	if strategy == "" {
		strategy = storage.StrategyDesktop
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -params.Days)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url_id, performance_score, accessibility_score, best_practices_score,
			seo_score, fcp, lcp, cls, tti, tbt, speed_index, inp, ttfb,
			total_byte_weight, COALESCE(strategy, 'desktop'), tested_at
		FROM test_results
		WHERE url_id = ? AND tested_at >= ? AND COALESCE(strategy, 'desktop') = ?
		ORDER BY tested_at ASC`,
		params.URLID, formatTime(cutoff), strategy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []storage.TestResult{}
	for rows.Next() {
		var rec storage.TestResult
		var testedAt string
		if err := rows.Scan(&rec.ID, &rec.URLID, &rec.PerformanceScore, &rec.AccessibilityScore,
			&rec.BestPracticesScore, &rec.SEOScore, &rec.FCP, &rec.LCP, &rec.CLS, &rec.TTI,
			&rec.TBT, &rec.SpeedIndex, &rec.INP, &rec.TTFB, &rec.TotalByteWeight,
			&rec.Strategy, &testedAt); err != nil {
			return nil, err
		}
		rec.TestedAt = parseTime(testedAt)
		results = append(results, rec)
	}
	return results, rows.Err()
}
