package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const newrelicEndpoint = "https://api.newrelic.com/graphql"

// NewRelicClient wraps the NerdGraph GraphQL API. The API key travels in
// each request body's companion header and is never retained.
type NewRelicClient struct {
	Endpoint   string
	HTTPClient *http.Client
}

// NewNewRelic returns a client against the public NerdGraph endpoint.
func NewNewRelic() *NewRelicClient {
	return &NewRelicClient{
		Endpoint:   newrelicEndpoint,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewRelicCredentials identify one account for a single request.
type NewRelicCredentials struct {
	APIKey    string `json:"api_key"`
	AccountID int64  `json:"account_id"`
}

// CoreWebVitalsRequest selects the page and window to query.
type CoreWebVitalsRequest struct {
	AppName   string `json:"app_name"`
	PageURL   string `json:"page_url"`
	TimeRange string `json:"time_range"` // NRQL SINCE clause, e.g. "30 minutes ago"
}

// Percentiles carries the p50/p75/p90 spread of one metric. Nil means the
// account had no samples for the window.
type Percentiles struct {
	P50 *float64 `json:"p50"`
	P75 *float64 `json:"p75"`
	P90 *float64 `json:"p90"`
}

// CoreWebVitals is the set of browser timing metrics for one page.
type CoreWebVitals struct {
	LCP           Percentiles `json:"lcp"`
	CLS           Percentiles `json:"cls"`
	PageLoad      Percentiles `json:"pageLoad"`
	Backend       Percentiles `json:"backend"`
	Frontend      Percentiles `json:"frontend"`
	TTFBLike      Percentiles `json:"ttfbLike"`
	DomProcessing Percentiles `json:"domProcessing"`
	Interactions  float64     `json:"interactions"`
}

// Query executes a raw GraphQL query and returns the response body as-is.
func (c *NewRelicClient) Query(ctx context.Context, apiKey, query string) (json.RawMessage, error) {
	if apiKey == "" {
		return nil, newFailure(FailureAuth, "New Relic API key is required")
	}
	payload, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, newFailure(FailureUpstream, "marshal query: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, newFailure(FailureUpstream, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("API-Key", apiKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, failureFromTransport("New Relic", ctx, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failureFromTransport("New Relic", ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, failureFromStatus("New Relic", resp.StatusCode, body)
	}
	if !json.Valid(body) {
		return nil, newFailure(FailureMalformed, "invalid JSON response from New Relic")
	}
	return json.RawMessage(body), nil
}

// GetCoreWebVitals runs the percentile queries for one page and extracts
// the p50/p75/p90 spreads.
func (c *NewRelicClient) GetCoreWebVitals(ctx context.Context, creds NewRelicCredentials, params CoreWebVitalsRequest) (*CoreWebVitals, error) {
	grouped, err := targetGroupedURL(params.PageURL)
	if err != nil {
		return nil, newFailure(FailureUpstream, "invalid page URL: %v", err)
	}
	timeRange := params.TimeRange
	if timeRange == "" {
		timeRange = "30 minutes ago"
	}
	query := buildCoreWebVitalsQuery(creds.AccountID, params.AppName, grouped, params.PageURL, timeRange)

	raw, err := c.Query(ctx, creds.APIKey, query)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data struct {
			Actor struct {
				Account map[string]struct {
					Results []map[string]any `json:"results"`
				} `json:"account"`
			} `json:"actor"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, newFailure(FailureMalformed, "unexpected NerdGraph response shape: %v", err)
	}
	account := parsed.Data.Actor.Account
	if account == nil {
		return nil, newFailure(FailureMalformed, "NerdGraph response missing account data")
	}

	vitals := &CoreWebVitals{
		LCP:           extractPercentiles(account["lcp"].Results),
		CLS:           extractPercentiles(account["cls"].Results),
		PageLoad:      extractPercentiles(account["pageLoad"].Results),
		Backend:       extractPercentiles(account["backend"].Results),
		Frontend:      extractPercentiles(account["frontend"].Results),
		TTFBLike:      extractPercentiles(account["ttfbLike"].Results),
		DomProcessing: extractPercentiles(account["domProcessing"].Results),
		Interactions:  extractCount(account["inpCollectionCheck"].Results),
	}
	return vitals, nil
}

// TestConnection verifies the key by looking up the owning user.
func (c *NewRelicClient) TestConnection(ctx context.Context, apiKey string) (string, error) {
	raw, err := c.Query(ctx, apiKey, `{ actor { user { email name } } }`)
	if err != nil {
		return "", err
	}
	var parsed struct {
		Data struct {
			Actor struct {
				User struct {
					Email string `json:"email"`
					Name  string `json:"name"`
				} `json:"user"`
			} `json:"actor"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Data.Actor.User.Email == "" {
		return "", newFailure(FailureMalformed, "connected but could not retrieve user information")
	}
	user := parsed.Data.Actor.User
	return fmt.Sprintf("Connected as %s (%s)", user.Name, user.Email), nil
}

func buildCoreWebVitalsQuery(accountID int64, appName, groupedURL, pageURL, timeRange string) string {
	nrql := func(alias, query string) string {
		return fmt.Sprintf("%s: nrql(query: %q) { results }", alias, query)
	}
	return fmt.Sprintf(`{ actor { account(id: %d) { %s %s %s %s %s %s %s %s } } }`,
		accountID,
		nrql("lcp", fmt.Sprintf("FROM PageViewTiming SELECT percentile(largestContentfulPaint * 1000, 50, 75, 90) AS LCP_ms WHERE appName = '%s' AND targetGroupedUrl = '%s' AND timingName = 'largestContentfulPaint' SINCE %s", appName, groupedURL, timeRange)),
		nrql("cls", fmt.Sprintf("FROM PageViewTiming SELECT percentile(cumulativeLayoutShift, 50, 75, 90) AS CLS WHERE appName = '%s' AND targetGroupedUrl = '%s' AND timingName = 'windowLoad' SINCE %s", appName, groupedURL, timeRange)),
		nrql("pageLoad", fmt.Sprintf("FROM PageView SELECT percentile(duration, 50, 75, 90) AS PageLoad_ms WHERE appName = '%s' AND pageUrl = '%s' SINCE %s", appName, pageURL, timeRange)),
		nrql("backend", fmt.Sprintf("FROM PageView SELECT percentile(backendDuration, 50, 75, 90) AS Backend_ms WHERE appName = '%s' AND pageUrl = '%s' SINCE %s", appName, pageURL, timeRange)),
		nrql("frontend", fmt.Sprintf("FROM PageView SELECT percentile(domProcessingDuration + pageRenderingDuration, 50, 75, 90) AS Frontend_ms WHERE appName = '%s' AND pageUrl = '%s' SINCE %s", appName, pageURL, timeRange)),
		nrql("ttfbLike", fmt.Sprintf("FROM PageView SELECT percentile(queueDuration + networkDuration, 50, 75, 90) AS TTFB_like_ms WHERE appName = '%s' AND pageUrl = '%s' SINCE %s", appName, pageURL, timeRange)),
		nrql("domProcessing", fmt.Sprintf("FROM PageView SELECT percentile(domProcessingDuration, 50, 75, 90) AS DomProcessing_ms WHERE appName = '%s' AND pageUrl = '%s' SINCE %s", appName, pageURL, timeRange)),
		nrql("inpCollectionCheck", fmt.Sprintf("FROM BrowserInteraction SELECT count(*) AS interactions WHERE appName = '%s' AND pageUrl = '%s' SINCE %s", appName, pageURL, timeRange)),
	)
}

// targetGroupedURL converts a page URL to New Relic's grouped form,
// host:port plus path (https://example.com/x -> example.com:443/x).
func targetGroupedURL(pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("URL %q has no host", pageURL)
	}
	port := parsed.Port()
	host := parsed.Host
	if port == "" {
		if parsed.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
		host = parsed.Host + ":" + port
	}
	return host + parsed.Path, nil
}

// extractPercentiles pulls p50/p75/p90 out of an NRQL percentile result.
// The value arrives nested under the SELECT alias, either as a map keyed
// by percentile ("50", "75", "90") or as a single number.
func extractPercentiles(results []map[string]any) Percentiles {
	if len(results) == 0 {
		return Percentiles{}
	}
	for _, value := range results[0] {
		switch v := value.(type) {
		case map[string]any:
			return Percentiles{
				P50: mapFloat(v, "50"),
				P75: mapFloat(v, "75"),
				P90: mapFloat(v, "90"),
			}
		case float64:
			return Percentiles{P50: &v}
		}
	}
	return Percentiles{}
}

func extractCount(results []map[string]any) float64 {
	if len(results) == 0 {
		return 0
	}
	for _, value := range results[0] {
		switch v := value.(type) {
		case float64:
			return v
		case map[string]any:
			if count := mapFloat(v, "count"); count != nil {
				return *count
			}
		}
	}
	return 0
}

func mapFloat(m map[string]any, key string) *float64 {
	val, ok := m[key]
	if !ok {
		return nil
	}
	num, ok := val.(float64)
	if !ok {
		return nil
	}
	return &num
}
