// Package monitor orchestrates the provider clients and the result store:
// it runs PageSpeed test batches, answers comparison and history queries,
// and assembles the context for AI analysis.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"perfwatch/internal/bus"
	"perfwatch/internal/providers"
	"perfwatch/internal/storage"
)

// PageSpeedRunner is the slice of the PageSpeed client the service needs.
type PageSpeedRunner interface {
	Run(ctx context.Context, pageURL, strategy, apiKey string) (*providers.PageSpeedResult, error)
}

// VitalsClient is the slice of the New Relic client used during analysis.
type VitalsClient interface {
	GetCoreWebVitals(ctx context.Context, creds providers.NewRelicCredentials, params providers.CoreWebVitalsRequest) (*providers.CoreWebVitals, error)
}

// LogsClient is the slice of the Azure client used during analysis.
type LogsClient interface {
	SearchLogs(ctx context.Context, creds providers.AzureCredentials, params providers.LogSearchParams) (*providers.LogSearchResult, error)
	GetDashboardSummary(ctx context.Context, creds providers.AzureCredentials, params providers.SummaryParams) (*providers.DashboardSummary, error)
}

// Service is the aggregation layer. All provider credentials arrive with
// each call; the only state here is wiring.
type Service struct {
	Store     storage.Storer
	PageSpeed PageSpeedRunner
	NewRelic  VitalsClient
	Azure     LogsClient
	Analyzers []providers.Analyzer
	Bus       *bus.Publisher
	Logger    *slog.Logger

	// PageSpeedKey is the optional first-party API key from server config;
	// anonymous calls work with a lower quota.
	PageSpeedKey string
	// RequestDelay spaces out sequential PageSpeed calls in a batch to stay
	// under the upstream rate limit.
	RequestDelay time.Duration
}

// TestOutcome is one URL's result inside a batch. A failed URL never
// aborts the batch; every URL gets exactly one outcome.
type TestOutcome struct {
	URLID    int64  `json:"url_id,omitempty"`
	URL      string `json:"url"`
	SiteName string `json:"site_name,omitempty"`
	Success  bool   `json:"success"`
	ResultID int64  `json:"result_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RunURLTest runs one PageSpeed measurement. When urlID is nonzero the
// result is persisted as a new immutable row; ad hoc tests (urlID zero)
// only return the measurement.
func (s *Service) RunURLTest(ctx context.Context, pageURL string, urlID int64, strategy string) (*storage.TestResult, error) {
	if strategy == "" {
		strategy = storage.StrategyDesktop
	}
	measured, err := s.PageSpeed.Run(ctx, pageURL, strategy, s.PageSpeedKey)
	if err != nil {
		return nil, err
	}
	rec := &storage.TestResult{
		URLID:              urlID,
		PerformanceScore:   measured.PerformanceScore,
		AccessibilityScore: measured.AccessibilityScore,
		BestPracticesScore: measured.BestPracticesScore,
		SEOScore:           measured.SEOScore,
		FCP:                measured.FCP,
		LCP:                measured.LCP,
		CLS:                measured.CLS,
		INP:                measured.INP,
		TTFB:               measured.TTFB,
		TTI:                measured.TTI,
		TBT:                measured.TBT,
		SpeedIndex:         measured.SpeedIndex,
		TotalByteWeight:    measured.TotalByteWeight,
		RawData:            measured.RawData,
		Strategy:           strategy,
		TestedAt:           time.Now().UTC(),
	}
	if urlID == 0 {
		return rec, nil
	}
	id, err := s.Store.InsertResult(ctx, rec)
	if err != nil {
		return nil, err
	}
	rec.ID = id
	_ = s.Bus.Publish("perfwatch.result.saved", map[string]any{
		"result_id": id,
		"url_id":    urlID,
		"strategy":  strategy,
	})
	return rec, nil
}

// RunSiteTests tests every URL of one site sequentially.
func (s *Service) RunSiteTests(ctx context.Context, siteID int64, strategy string) ([]TestOutcome, error) {
	urls, err := s.Store.ListURLsBySite(ctx, siteID)
	if err != nil {
		return nil, err
	}
	targets := make([]storage.SiteURL, 0, len(urls))
	for _, u := range urls {
		targets = append(targets, storage.SiteURL{ID: u.ID, URL: u.URL, SiteID: u.SiteID})
	}
	return s.runBatch(ctx, targets, strategy), nil
}

// RunAllTests tests every monitored URL across all sites. This is the
// entry point shared by the manual "test all" action and the daily
// scheduler.
func (s *Service) RunAllTests(ctx context.Context, strategy string) ([]TestOutcome, error) {
	targets, err := s.Store.ListAllURLs(ctx)
	if err != nil {
		return nil, err
	}
	return s.runBatch(ctx, targets, strategy), nil
}

// runBatch tests the targets one at a time. Each URL gets its own outcome;
// a provider failure on one URL is recorded and the batch moves on.
func (s *Service) runBatch(ctx context.Context, targets []storage.SiteURL, strategy string) []TestOutcome {
	runID := uuid.NewString()
	logger := s.logger().With(slog.String("run_id", runID), slog.String("strategy", strategy))
	logger.Info("test batch started", slog.Int("urls", len(targets)))

	outcomes := make([]TestOutcome, 0, len(targets))
	for i, target := range targets {
		if i > 0 && s.RequestDelay > 0 {
			time.Sleep(s.RequestDelay)
		}
		outcome := TestOutcome{URLID: target.ID, URL: target.URL, SiteName: target.SiteName}
		rec, err := s.RunURLTest(ctx, target.URL, target.ID, strategy)
		if err != nil {
			outcome.Error = providers.AsFailure(err).Message
			logger.Warn("url test failed",
				slog.String("url", target.URL), slog.String("error", outcome.Error))
		} else {
			outcome.Success = true
			outcome.ResultID = rec.ID
		}
		outcomes = append(outcomes, outcome)
	}

	succeeded := 0
	for _, o := range outcomes {
		if o.Success {
			succeeded++
		}
	}
	logger.Info("test batch finished",
		slog.Int("succeeded", succeeded), slog.Int("failed", len(outcomes)-succeeded))
	_ = s.Bus.Publish("perfwatch.batch.completed", map[string]any{
		"run_id":    runID,
		"strategy":  strategy,
		"total":     len(outcomes),
		"succeeded": succeeded,
	})
	return outcomes
}

// History returns the ordered measurements for one URL within the day
// window. The sequence is re-queryable, not streamed.
func (s *Service) History(ctx context.Context, urlID int64, days int, strategy string) ([]storage.TestResult, error) {
	if days <= 0 {
		days = 30
	}
	return s.Store.History(ctx, storage.HistoryParams{URLID: urlID, Days: days, Strategy: strategy})
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
