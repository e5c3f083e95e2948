package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"
)

const pagespeedBaseURL = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"

// PageSpeed analyses take a long time upstream; the API regularly needs
// over a minute for slow pages.
const pagespeedTimeout = 90 * time.Second

// PageSpeedClient wraps the PageSpeed Insights API. The API key is
// optional: anonymous calls work with a lower quota.
type PageSpeedClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewPageSpeed returns a client against the public API endpoint.
func NewPageSpeed() *PageSpeedClient {
	return &PageSpeedClient{
		BaseURL:    pagespeedBaseURL,
		HTTPClient: &http.Client{Timeout: pagespeedTimeout},
	}
}

// PageSpeedResult is the normalized measurement extracted from one
// Lighthouse run. Scores are on a 0-100 scale, timings in milliseconds,
// byte weight in bytes. Pointers are nil when Lighthouse omitted a metric.
type PageSpeedResult struct {
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
	RawData            json.RawMessage `json:"raw_data"`
}

type psResponse struct {
	AnalysisUTCTimestamp string `json:"analysisUTCTimestamp"`
	LighthouseResult     *struct {
		FinalURL   string                `json:"finalUrl"`
		Categories map[string]psCategory `json:"categories"`
		Audits     map[string]psAudit    `json:"audits"`
	} `json:"lighthouseResult"`
}

type psCategory struct {
	Score     *float64     `json:"score"`
	AuditRefs []psAuditRef `json:"auditRefs"`
}

type psAuditRef struct {
	ID     string  `json:"id"`
	Weight float64 `json:"weight"`
}

type psAudit struct {
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Score        *float64   `json:"score"`
	DisplayValue string     `json:"displayValue"`
	NumericValue *float64   `json:"numericValue"`
	Details      *psDetails `json:"details"`
}

type psDetails struct {
	Type             string           `json:"type"`
	OverallSavingsMs float64          `json:"overallSavingsMs"`
	Items            []map[string]any `json:"items"`
}

// psAuditDigest is one audit condensed for the raw_data payload.
type psAuditDigest struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Score        *float64 `json:"score"`
	DisplayValue string   `json:"displayValue,omitempty"`
	NumericValue *float64 `json:"numericValue,omitempty"`
	Weight       float64  `json:"weight"`
	SavingsMs    float64  `json:"savingsMs,omitempty"`
}

type psRawData struct {
	FetchTime     string             `json:"fetch_time"`
	FinalURL      string             `json:"final_url"`
	Opportunities []psAuditDigest    `json:"opportunities"`
	FailedAudits  []psAuditDigest    `json:"failed_audits"`
	Diagnostics   []psAuditDigest    `json:"diagnostics"`
	MetricWeights map[string]float64 `json:"metric_weights"`
}

// Run tests one URL with the given strategy and returns the normalized
// result, or a *Failure describing why the call did not succeed.
func (c *PageSpeedClient) Run(ctx context.Context, pageURL, strategy, apiKey string) (*PageSpeedResult, error) {
	params := url.Values{}
	params.Set("url", pageURL)
	params.Set("strategy", strategy)
	for _, category := range []string{"performance", "accessibility", "best-practices", "seo"} {
		params.Add("category", category)
	}
	if apiKey != "" {
		params.Set("key", apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, newFailure(FailureUpstream, "build pagespeed request: %v", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, failureFromTransport("PageSpeed Insights", ctx, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failureFromTransport("PageSpeed Insights", ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, failureFromStatus("PageSpeed Insights", resp.StatusCode, body)
	}

	var parsed psResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, newFailure(FailureMalformed, "invalid JSON from PageSpeed Insights: %v", err)
	}
	if parsed.LighthouseResult == nil {
		return nil, newFailure(FailureMalformed, "PageSpeed response missing lighthouseResult")
	}
	return normalizePageSpeed(&parsed), nil
}

func normalizePageSpeed(parsed *psResponse) *PageSpeedResult {
	lighthouse := parsed.LighthouseResult
	result := &PageSpeedResult{
		PerformanceScore:   scaleScore(lighthouse.Categories["performance"].Score),
		AccessibilityScore: scaleScore(lighthouse.Categories["accessibility"].Score),
		BestPracticesScore: scaleScore(lighthouse.Categories["best-practices"].Score),
		SEOScore:           scaleScore(lighthouse.Categories["seo"].Score),
	}

	audits := lighthouse.Audits
	if metrics, ok := audits["metrics"]; ok && metrics.Details != nil && len(metrics.Details.Items) > 0 {
		item := metrics.Details.Items[0]
		result.FCP = itemFloat(item, "firstContentfulPaint")
		result.LCP = itemFloat(item, "largestContentfulPaint")
		result.TTI = itemFloat(item, "interactive")
		result.TBT = itemFloat(item, "totalBlockingTime")
		result.SpeedIndex = itemFloat(item, "speedIndex")
	}
	result.CLS = audits["cumulative-layout-shift"].NumericValue
	result.INP = audits["interaction-to-next-paint"].NumericValue
	result.TTFB = audits["server-response-time"].NumericValue
	result.TotalByteWeight = audits["total-byte-weight"].NumericValue

	raw := psRawData{
		FetchTime:     parsed.AnalysisUTCTimestamp,
		FinalURL:      lighthouse.FinalURL,
		Opportunities: []psAuditDigest{},
		FailedAudits:  []psAuditDigest{},
		Diagnostics:   []psAuditDigest{},
		MetricWeights: map[string]float64{},
	}
	perfRefs := lighthouse.Categories["performance"].AuditRefs
	for _, ref := range perfRefs {
		audit, ok := audits[ref.ID]
		if !ok {
			continue
		}
		digest := psAuditDigest{
			ID:           ref.ID,
			Title:        audit.Title,
			Description:  audit.Description,
			Score:        audit.Score,
			DisplayValue: audit.DisplayValue,
			NumericValue: audit.NumericValue,
			Weight:       ref.Weight,
		}
		switch {
		case audit.Details != nil && audit.Details.Type == "opportunity":
			if audit.Details.OverallSavingsMs > 0 {
				digest.SavingsMs = audit.Details.OverallSavingsMs
				raw.Opportunities = append(raw.Opportunities, digest)
			}
		case audit.Score != nil:
			if *audit.Score < 1 {
				raw.FailedAudits = append(raw.FailedAudits, digest)
			}
		default:
			raw.Diagnostics = append(raw.Diagnostics, digest)
		}
	}
	sort.Slice(raw.Opportunities, func(i, j int) bool {
		return raw.Opportunities[i].SavingsMs > raw.Opportunities[j].SavingsMs
	})
	raw.Opportunities = topN(raw.Opportunities, 10)
	raw.FailedAudits = topN(raw.FailedAudits, 10)
	raw.Diagnostics = topN(raw.Diagnostics, 5)
	weightIDs := map[string]string{
		"fcp": "first-contentful-paint",
		"lcp": "largest-contentful-paint",
		"cls": "cumulative-layout-shift",
		"tbt": "total-blocking-time",
		"si":  "speed-index",
	}
	for key, auditID := range weightIDs {
		for _, ref := range perfRefs {
			if ref.ID == auditID {
				raw.MetricWeights[key] = ref.Weight
				break
			}
		}
	}
	result.RawData, _ = json.Marshal(raw)
	return result
}

// scaleScore converts Lighthouse's 0-1 category score to 0-100.
func scaleScore(score *float64) *float64 {
	if score == nil {
		return nil
	}
	scaled := *score * 100
	return &scaled
}

func itemFloat(item map[string]any, key string) *float64 {
	val, ok := item[key]
	if !ok {
		return nil
	}
	num, ok := val.(float64)
	if !ok {
		return nil
	}
	return &num
}

func topN(digests []psAuditDigest, n int) []psAuditDigest {
	if len(digests) > n {
		return digests[:n]
	}
	return digests
}
