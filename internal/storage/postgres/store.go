package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"perfwatch/internal/storage"
)

// Store implements storage.Storer on a Postgres pool. Schema management
// lives in migrations/ and is applied by cmd/migrate.
type Store struct {
	Pool *pgxpool.Pool
}

// New connects to the database and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s.Pool != nil {
		s.Pool.Close()
	}
	return nil
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func mapConstraintErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return storage.ErrConflict
		case pgForeignKeyViolation:
			return storage.ErrNotFound
		}
	}
	return err
}

func (s *Store) CreateSite(ctx context.Context, name string) (*storage.Site, error) {
	row := s.Pool.QueryRow(ctx,
		`INSERT INTO sites (name, created_at) VALUES ($1, now()) RETURNING id, name, created_at`, name)
	var site storage.Site
	if err := row.Scan(&site.ID, &site.Name, &site.CreatedAt); err != nil {
		return nil, mapConstraintErr(err)
	}
	return &site, nil
}

func (s *Store) ListSites(ctx context.Context) ([]storage.Site, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, name, created_at FROM sites ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sites := []storage.Site{}
	for rows.Next() {
		var site storage.Site
		if err := rows.Scan(&site.ID, &site.Name, &site.CreatedAt); err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

func (s *Store) RenameSite(ctx context.Context, id int64, name string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE sites SET name=$1 WHERE id=$2`, name, id)
	if err != nil {
		return mapConstraintErr(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSite(ctx context.Context, id int64) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM sites WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CreateURL(ctx context.Context, siteID int64, url string) (*storage.URL, error) {
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO urls (site_id, url, created_at) VALUES ($1, $2, now())
		RETURNING id, site_id, url, created_at`, siteID, url)
	var u storage.URL
	if err := row.Scan(&u.ID, &u.SiteID, &u.URL, &u.CreatedAt); err != nil {
		return nil, mapConstraintErr(err)
	}
	return &u, nil
}

func (s *Store) ListURLsBySite(ctx context.Context, siteID int64) ([]storage.URL, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, site_id, url, created_at FROM urls WHERE site_id=$1 ORDER BY url`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	urls := []storage.URL{}
	for rows.Next() {
		var u storage.URL
		if err := rows.Scan(&u.ID, &u.SiteID, &u.URL, &u.CreatedAt); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

func (s *Store) ListAllURLs(ctx context.Context) ([]storage.SiteURL, error) {
	rows, err := s.Pool.Query(ctx, `
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

func (s *Store) DeleteURL(ctx context.Context, id int64) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM urls WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) InsertResult(ctx context.Context, rec *storage.TestResult) (int64, error) {
	strategy := rec.Strategy
	if strategy == "" {
		strategy = storage.StrategyDesktop
	}
	testedAt := rec.TestedAt
	if testedAt.IsZero() {
		testedAt = time.Now().UTC()
	}
	var raw []byte
	if len(rec.RawData) > 0 {
		raw = rec.RawData
	}
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO test_results (
			url_id, performance_score, accessibility_score, best_practices_score,
			seo_score, fcp, lcp, cls, tti, tbt, speed_index, inp, ttfb,
			total_byte_weight, raw_data, strategy, tested_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING id`,
		rec.URLID, rec.PerformanceScore, rec.AccessibilityScore, rec.BestPracticesScore,
		rec.SEOScore, rec.FCP, rec.LCP, rec.CLS, rec.TTI, rec.TBT, rec.SpeedIndex,
		rec.INP, rec.TTFB, rec.TotalByteWeight, raw, strategy, testedAt)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, mapConstraintErr(err)
	}
	return id, nil
}

func (s *Store) GetResult(ctx context.Context, id int64) (*storage.TestResult, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, url_id, performance_score, accessibility_score, best_practices_score,
			seo_score, fcp, lcp, cls, tti, tbt, speed_index, inp, ttfb,
			total_byte_weight, raw_data, COALESCE(strategy, 'desktop'), tested_at
		FROM test_results WHERE id=$1`, id)
	var rec storage.TestResult
	var raw []byte
	err := row.Scan(&rec.ID, &rec.URLID, &rec.PerformanceScore, &rec.AccessibilityScore,
		&rec.BestPracticesScore, &rec.SEOScore, &rec.FCP, &rec.LCP, &rec.CLS, &rec.TTI,
		&rec.TBT, &rec.SpeedIndex, &rec.INP, &rec.TTFB, &rec.TotalByteWeight,
		&raw, &rec.Strategy, &rec.TestedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		rec.RawData = json.RawMessage(raw)
	}
	return &rec, nil
}

func (s *Store) LatestResults(ctx context.Context, siteID int64, strategy string) ([]storage.LatestResult, error) {
	if strategy == "" {
		strategy = storage.StrategyDesktop
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT
			u.id, u.url,
			tr.performance_score, tr.accessibility_score, tr.best_practices_score,
			tr.seo_score, tr.fcp, tr.lcp, tr.cls, tr.inp, tr.ttfb,
			tr.total_byte_weight, tr.tested_at, COALESCE(tr.strategy, 'desktop')
		FROM urls u
		LEFT JOIN (
			SELECT url_id, MAX(tested_at) AS max_date
			FROM test_results
			WHERE COALESCE(strategy, 'desktop') = $1
			GROUP BY url_id
		) latest ON u.id = latest.url_id
		LEFT JOIN test_results tr ON u.id = tr.url_id AND tr.tested_at = latest.max_date
			AND COALESCE(tr.strategy, 'desktop') = $2
		WHERE u.site_id = $3
		ORDER BY u.url`, strategy, strategy, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []storage.LatestResult{}
	for rows.Next() {
		var r storage.LatestResult
		var rowStrategy *string
		if err := rows.Scan(&r.URLID, &r.URL, &r.PerformanceScore, &r.AccessibilityScore,
			&r.BestPracticesScore, &r.SEOScore, &r.FCP, &r.LCP, &r.CLS, &r.INP,
			&r.TTFB, &r.TotalByteWeight, &r.TestedAt, &rowStrategy); err != nil {
			return nil, err
		}
		if rowStrategy != nil {
			r.Strategy = *rowStrategy
		} else {
			r.Strategy = storage.StrategyDesktop
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) History(ctx context.Context, params storage.HistoryParams) ([]storage.TestResult, error) {
	strategy := params.Strategy
	if strategy == "" {
		strategy = storage.StrategyDesktop
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -params.Days)
	rows, err := s.Pool.Query(ctx, `
		SELECT id, url_id, performance_score, accessibility_score, best_practices_score,
			seo_score, fcp, lcp, cls, tti, tbt, speed_index, inp, ttfb,
			total_byte_weight, COALESCE(strategy, 'desktop'), tested_at
		FROM test_results
		WHERE url_id = $1 AND tested_at >= $2 AND COALESCE(strategy, 'desktop') = $3
		ORDER BY tested_at ASC`,
		params.URLID, cutoff, strategy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []storage.TestResult{}
	for rows.Next() {
		var rec storage.TestResult
		if err := rows.Scan(&rec.ID, &rec.URLID, &rec.PerformanceScore, &rec.AccessibilityScore,
			&rec.BestPracticesScore, &rec.SEOScore, &rec.FCP, &rec.LCP, &rec.CLS, &rec.TTI,
			&rec.TBT, &rec.SpeedIndex, &rec.INP, &rec.TTFB, &rec.TotalByteWeight,
			&rec.Strategy, &rec.TestedAt); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}
