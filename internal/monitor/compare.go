package monitor

import (
	"context"
	"fmt"
	"math"

	"perfwatch/internal/storage"
)

// metricNames is the fixed order metrics appear in comparison output.
var metricNames = []string{
	"performance_score",
	"accessibility_score",
	"best_practices_score",
	"seo_score",
	"fcp",
	"lcp",
	"cls",
	"inp",
	"ttfb",
	"total_byte_weight",
}

// lowerIsBetter marks the timing and weight metrics where a smaller value
// wins. Scores are higher-is-better. The set is fixed; new metrics do not
// join it without an explicit decision.
var lowerIsBetter = map[string]bool{
	"fcp":               true,
	"lcp":               true,
	"cls":               true,
	"inp":               true,
	"ttfb":              true,
	"total_byte_weight": true,
}

// SiteSummary aggregates one side of a site comparison. Averages holds the
// arithmetic mean per metric over the URLs that have a value; a metric no
// URL reported is absent. TestedCount zero means "no data".
type SiteSummary struct {
	SiteID      int64                  `json:"site_id"`
	URLCount    int                    `json:"url_count"`
	TestedCount int                    `json:"tested_count"`
	Averages    map[string]float64     `json:"averages"`
	Results     []storage.LatestResult `json:"results"`
}

// SiteComparison pairs the two summaries.
type SiteComparison struct {
	SiteA    SiteSummary `json:"site_a"`
	SiteB    SiteSummary `json:"site_b"`
	Strategy string      `json:"strategy"`
}

// MetricDelta is the directional comparison of one metric between two
// URLs. Better is "a", "b", "tie", or "" when either side has no value.
type MetricDelta struct {
	Metric        string   `json:"metric"`
	A             *float64 `json:"a"`
	B             *float64 `json:"b"`
	LowerIsBetter bool     `json:"lower_is_better"`
	Better        string   `json:"better,omitempty"`
	Margin        float64  `json:"margin,omitempty"`
	Summary       string   `json:"summary,omitempty"`
}

// URLComparison is the per-metric delta between two URLs' latest results.
type URLComparison struct {
	URLA     *storage.TestResult `json:"url_a"`
	URLB     *storage.TestResult `json:"url_b"`
	Deltas   []MetricDelta       `json:"deltas"`
	Strategy string              `json:"strategy"`
}

// CompareSites computes the per-metric means of the latest results on each
// side. A site with no tested URLs yields an empty summary rather than an
// error.
func (s *Service) CompareSites(ctx context.Context, siteA, siteB int64, strategy string) (*SiteComparison, error) {
	if strategy == "" {
		strategy = storage.StrategyDesktop
	}
	a, err := s.summarizeSite(ctx, siteA, strategy)
	if err != nil {
		return nil, err
	}
	b, err := s.summarizeSite(ctx, siteB, strategy)
	if err != nil {
		return nil, err
	}
	return &SiteComparison{SiteA: *a, SiteB: *b, Strategy: strategy}, nil
}

func (s *Service) summarizeSite(ctx context.Context, siteID int64, strategy string) (*SiteSummary, error) {
	latest, err := s.Store.LatestResults(ctx, siteID, strategy)
	if err != nil {
		return nil, err
	}
	summary := &SiteSummary{
		SiteID:   siteID,
		URLCount: len(latest),
		Averages: map[string]float64{},
		Results:  latest,
	}
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, r := range latest {
		if r.TestedAt == nil {
			continue
		}
		summary.TestedCount++
		for name, value := range latestMetrics(&r) {
			if value != nil {
				sums[name] += *value
				counts[name]++
			}
		}
	}
	for name, count := range counts {
		if count > 0 {
			summary.Averages[name] = sums[name] / float64(count)
		}
	}
	return summary, nil
}

// CompareURLs fetches the newest result for each URL and computes a
// directional delta per metric. Either side missing its latest result
// still produces a response; the affected deltas carry no winner.
func (s *Service) CompareURLs(ctx context.Context, urlA, urlB int64, strategy string) (*URLComparison, error) {
	if strategy == "" {
		strategy = storage.StrategyDesktop
	}
	a, err := s.latestForURL(ctx, urlA, strategy)
	if err != nil {
		return nil, err
	}
	b, err := s.latestForURL(ctx, urlB, strategy)
	if err != nil {
		return nil, err
	}
	comparison := &URLComparison{URLA: a, URLB: b, Strategy: strategy}
	for _, name := range metricNames {
		var av, bv *float64
		if a != nil {
			av = resultMetric(a, name)
		}
		if b != nil {
			bv = resultMetric(b, name)
		}
		comparison.Deltas = append(comparison.Deltas, compareMetric(name, av, bv))
	}
	return comparison, nil
}

func compareMetric(name string, a, b *float64) MetricDelta {
	delta := MetricDelta{Metric: name, A: a, B: b, LowerIsBetter: lowerIsBetter[name]}
	if a == nil || b == nil {
		return delta
	}
	margin := math.Abs(*a - *b)
	delta.Margin = margin
	switch {
	case *a == *b:
		delta.Better = "tie"
	case (*a < *b) == delta.LowerIsBetter:
		delta.Better = "a"
	default:
		delta.Better = "b"
	}
	if delta.Better != "tie" {
		delta.Summary = fmt.Sprintf("%s is better by %g", delta.Better, margin)
	}
	return delta
}

// latestForURL finds the most recent history row for the URL. History
// covers a year back; a URL never tested in that window reads as no data.
func (s *Service) latestForURL(ctx context.Context, urlID int64, strategy string) (*storage.TestResult, error) {
	rows, err := s.Store.History(ctx, storage.HistoryParams{URLID: urlID, Days: 365, Strategy: strategy})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	latest := rows[len(rows)-1]
	return &latest, nil
}

func latestMetrics(r *storage.LatestResult) map[string]*float64 {
	return map[string]*float64{
		"performance_score":    r.PerformanceScore,
		"accessibility_score":  r.AccessibilityScore,
		"best_practices_score": r.BestPracticesScore,
		"seo_score":            r.SEOScore,
		"fcp":                  r.FCP,
		"lcp":                  r.LCP,
		"cls":                  r.CLS,
		"inp":                  r.INP,
		"ttfb":                 r.TTFB,
		"total_byte_weight":    r.TotalByteWeight,
	}
}

func resultMetric(r *storage.TestResult, name string) *float64 {
	switch name {
	case "performance_score":
		return r.PerformanceScore
	case "accessibility_score":
		return r.AccessibilityScore
	case "best_practices_score":
		return r.BestPracticesScore
	case "seo_score":
		return r.SEOScore
	case "fcp":
		return r.FCP
	case "lcp":
		return r.LCP
	case "cls":
		return r.CLS
	case "inp":
		return r.INP
	case "ttfb":
		return r.TTFB
	case "total_byte_weight":
		return r.TotalByteWeight
	default:
		return nil
	}
}
