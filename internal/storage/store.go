package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned on uniqueness violations (duplicate site
	// name, duplicate URL within a site).
	ErrConflict = errors.New("conflict")
)

// HistoryParams selects the measurement window for one URL.
type HistoryParams struct {
	URLID    int64
	Days     int
	Strategy string
}

// Storer is the persistence contract shared by the Postgres and SQLite
// implementations. Test results are append-only: there is no update.
type Storer interface {
	CreateSite(ctx context.Context, name string) (*Site, error)
	ListSites(ctx context.Context) ([]Site, error)
	RenameSite(ctx context.Context, id int64, name string) error
	DeleteSite(ctx context.Context, id int64) error

	CreateURL(ctx context.Context, siteID int64, url string) (*URL, error)
	ListURLsBySite(ctx context.Context, siteID int64) ([]URL, error)
	ListAllURLs(ctx context.Context) ([]SiteURL, error)
	DeleteURL(ctx context.Context, id int64) error

	InsertResult(ctx context.Context, rec *TestResult) (int64, error)
	GetResult(ctx context.Context, id int64) (*TestResult, error)
	LatestResults(ctx context.Context, siteID int64, strategy string) ([]LatestResult, error)
	History(ctx context.Context, params HistoryParams) ([]TestResult, error)

	Close() error
}
