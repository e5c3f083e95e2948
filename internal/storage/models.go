package storage

import (
	"encoding/json"
	"time"
)

// Strategy values accepted by the PageSpeed API. Rows written before the
// strategy column existed read back as desktop.
const (
	StrategyDesktop = "desktop"
	StrategyMobile  = "mobile"
)

// Site groups the URLs of one monitored property.
type Site struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// URL is a single monitored page, scoped to a site.
type URL struct {
	ID        int64     `json:"id"`
	SiteID    int64     `json:"site_id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// SiteURL is a URL joined with its owning site, used by the all-URLs batch.
type SiteURL struct {
	ID       int64  `json:"id"`
	URL      string `json:"url"`
	SiteID   int64  `json:"site_id"`
	SiteName string `json:"site_name"`
}

// TestResult is one immutable PageSpeed measurement. Metric fields are
// pointers because the API omits metrics it could not collect.
type TestResult struct {
	ID                 int64           `json:"id"`
	URLID              int64           `json:"url_id"`
	PerformanceScore   *float64        `json:"performance_score"`
	AccessibilityScore *float64        `json:"accessibility_score"`
	BestPracticesScore *float64        `json:"best_practices_score"`
	SEOScore           *float64        `json:"seo_score"`
	FCP                *float64        `json:"fcp"`
	LCP                *float64        `json:"lcp"`
	CLS                *float64        `json:"cls"`
	INP                *float64        `json:"inp"`
	TTFB               *float64        `json:"ttfb"`
	TTI                *float64        `json:"tti"`
	TBT                *float64        `json:"tbt"`
	SpeedIndex         *float64        `json:"speed_index"`
	TotalByteWeight    *float64        `json:"total_byte_weight"`
	RawData            json.RawMessage `json:"raw_data,omitempty"`
	Strategy           string          `json:"strategy"`
	TestedAt           time.Time       `json:"tested_at"`
}

// LatestResult is the most recent measurement for a URL, joined with the
// URL itself. Metric pointers are nil when the URL has never been tested
// with the requested strategy.
type LatestResult struct {
	URLID              int64      `json:"url_id"`
	URL                string     `json:"url"`
	PerformanceScore   *float64   `json:"performance_score"`
	AccessibilityScore *float64   `json:"accessibility_score"`
	BestPracticesScore *float64   `json:"best_practices_score"`
	SEOScore           *float64   `json:"seo_score"`
	FCP                *float64   `json:"fcp"`
	LCP                *float64   `json:"lcp"`
	CLS                *float64   `json:"cls"`
	INP                *float64   `json:"inp"`
	TTFB               *float64   `json:"ttfb"`
	TotalByteWeight    *float64   `json:"total_byte_weight"`
	TestedAt           *time.Time `json:"tested_at"`
	Strategy           string     `json:"strategy"`
}
