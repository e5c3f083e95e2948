package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	azureLoginBaseURL = "https://login.microsoftonline.com"
	azureAPIBaseURL   = "https://api.loganalytics.io"
	azureScope        = "https://api.loganalytics.io/.default"
)

// AzureClient wraps the Azure Monitor Log Analytics REST API. Each call
// performs its own client-credentials token exchange: credentials are
// request-scoped and nothing is cached between callers.
type AzureClient struct {
	LoginBaseURL string
	APIBaseURL   string
	HTTPClient   *http.Client
}

// NewAzure returns a client against the public Log Analytics endpoints.
func NewAzure() *AzureClient {
	return &AzureClient{
		LoginBaseURL: azureLoginBaseURL,
		APIBaseURL:   azureAPIBaseURL,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// AzureCredentials identify one app registration and workspace.
type AzureCredentials struct {
	TenantID     string `json:"tenant_id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	WorkspaceID  string `json:"workspace_id"`
}

// LogSearchParams filter the IIS log search.
type LogSearchParams struct {
	StartDate  string `json:"start_date"` // ISO 8601
	EndDate    string `json:"end_date"`
	URLFilter  string `json:"url_filter,omitempty"`  // contains match on csUriStem
	StatusCode string `json:"status_code,omitempty"` // "4" matches 4xx, "404" exact
	SiteName   string `json:"site_name,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// LogSearchResult holds matched IIS log rows.
type LogSearchResult struct {
	Logs     []map[string]any `json:"logs"`
	Count    int              `json:"count"`
	Metadata LogSearchParams  `json:"metadata"`
}

// SummaryParams select the window for the dashboard summary.
type SummaryParams struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	SiteName  string `json:"site_name,omitempty"`
}

// SummaryStats are the aggregate request statistics for the window.
type SummaryStats struct {
	TotalRequests int64   `json:"totalRequests"`
	ErrorCount4xx int64   `json:"errorCount4xx"`
	ErrorCount5xx int64   `json:"errorCount5xx"`
	AvgTimeTaken  float64 `json:"avgTimeTaken"`
	P50TimeTaken  float64 `json:"p50TimeTaken"`
	P90TimeTaken  float64 `json:"p90TimeTaken"`
	P99TimeTaken  float64 `json:"p99TimeTaken"`
	MaxTimeTaken  float64 `json:"maxTimeTaken"`
}

// TopPage is one URL ranked by request count.
type TopPage struct {
	URL          string  `json:"url"`
	RequestCount int64   `json:"requestCount"`
	AvgTimeTaken float64 `json:"avgTimeTaken"`
}

// StatusCount is one HTTP status with its share of traffic.
type StatusCount struct {
	StatusCode string  `json:"statusCode"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// DashboardSummary aggregates the three summary views.
type DashboardSummary struct {
	Summary            SummaryStats  `json:"summary"`
	TopPages           []TopPage     `json:"topPages"`
	StatusDistribution []StatusCount `json:"statusDistribution"`
}

// ConnectionStatus reports the outcome of a workspace probe.
type ConnectionStatus struct {
	Message string `json:"message"`
	Warning bool   `json:"warning,omitempty"`
}

// Requests for static assets drown out the page requests the dashboard
// cares about, so the canned queries exclude them by suffix.
var staticAssetSuffixes = []string{
	".css", ".js", ".png", ".jpg", ".gif", ".ico", ".woff", ".woff2", ".svg", ".map",
}

func (c *AzureClient) token(ctx context.Context, creds AzureCredentials) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	form.Set("scope", azureScope)

	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.LoginBaseURL, creds.TenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", newFailure(FailureUpstream, "build token request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", failureFromTransport("Azure login", ctx, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", failureFromTransport("Azure login", ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", failureFromStatus("Azure login", resp.StatusCode, body)
	}
	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil || tokenResp.AccessToken == "" {
		return "", newFailure(FailureMalformed, "invalid token response from Azure")
	}
	return tokenResp.AccessToken, nil
}

// Query executes a KQL query against the workspace and returns the rows
// of the first result table, column name to value.
func (c *AzureClient) Query(ctx context.Context, creds AzureCredentials, kql, timespan string) ([]map[string]any, error) {
	token, err := c.token(ctx, creds)
	if err != nil {
		return nil, err
	}

	payload := map[string]string{"query": kql}
	if timespan != "" {
		payload["timespan"] = timespan
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, newFailure(FailureUpstream, "marshal query: %v", err)
	}
	queryURL := fmt.Sprintf("%s/v1/workspaces/%s/query", c.APIBaseURL, creds.WorkspaceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, queryURL, bytes.NewReader(body))
	if err != nil {
		return nil, newFailure(FailureUpstream, "build query request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, failureFromTransport("Azure Log Analytics", ctx, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failureFromTransport("Azure Log Analytics", ctx, err)
	}
	if resp.StatusCode == http.StatusForbidden {
		return nil, newFailure(FailureAuth,
			"access denied; ensure the app registration has the Log Analytics Reader role on the workspace")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, failureFromStatus("Azure Log Analytics", resp.StatusCode, respBody)
	}
	return parseTableResponse(respBody)
}

// parseTableResponse flattens the Log Analytics tabular shape
// {"tables":[{"columns":[{"name":...}],"rows":[[...]]}]} into maps.
func parseTableResponse(body []byte) ([]map[string]any, error) {
	var parsed struct {
		Tables []struct {
			Columns []struct {
				Name string `json:"name"`
			} `json:"columns"`
			Rows [][]any `json:"rows"`
		} `json:"tables"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, newFailure(FailureMalformed, "invalid JSON response from Azure Log Analytics: %v", err)
	}
	if len(parsed.Tables) == 0 {
		return []map[string]any{}, nil
	}
	table := parsed.Tables[0]
	rows := make([]map[string]any, 0, len(table.Rows))
	for _, row := range table.Rows {
		entry := map[string]any{}
		for i, col := range table.Columns {
			if i < len(row) {
				entry[col.Name] = row[i]
			}
		}
		rows = append(rows, entry)
	}
	return rows, nil
}

// SearchLogs searches the W3CIISLog table with the given filters.
func (c *AzureClient) SearchLogs(ctx context.Context, creds AzureCredentials, params LogSearchParams) (*LogSearchResult, error) {
	if params.Limit <= 0 {
		params.Limit = 100
	}
	filters := []string{
		fmt.Sprintf("TimeGenerated between (datetime('%s') .. datetime('%s'))", params.StartDate, params.EndDate),
	}
	for _, suffix := range staticAssetSuffixes {
		filters = append(filters, fmt.Sprintf("csUriStem !endswith '%s'", suffix))
	}
	if params.URLFilter != "" {
		filters = append(filters, fmt.Sprintf("csUriStem contains '%s'", params.URLFilter))
	}
	if params.StatusCode != "" {
		if len(params.StatusCode) == 1 {
			filters = append(filters, fmt.Sprintf("scStatus startswith '%s'", params.StatusCode))
		} else {
			filters = append(filters, fmt.Sprintf("scStatus == '%s'", params.StatusCode))
		}
	}
	if params.SiteName != "" {
		filters = append(filters, fmt.Sprintf("sSiteName == '%s'", params.SiteName))
	}

	query := fmt.Sprintf(`W3CIISLog
| where %s
| project TimeGenerated, csMethod, csUriStem, csUriQuery, scStatus, TimeTaken, cIP, sSiteName, scBytes
| order by TimeGenerated desc
| take %d`, strings.Join(filters, "\n| where "), params.Limit)

	rows, err := c.Query(ctx, creds, query, "")
	if err != nil {
		return nil, err
	}
	return &LogSearchResult{Logs: rows, Count: len(rows), Metadata: params}, nil
}

// GetDashboardSummary runs the three summary queries for the window.
func (c *AzureClient) GetDashboardSummary(ctx context.Context, creds AzureCredentials, params SummaryParams) (*DashboardSummary, error) {
	timeFilter := fmt.Sprintf("TimeGenerated between (datetime('%s') .. datetime('%s'))", params.StartDate, params.EndDate)
	siteFilter := ""
	if params.SiteName != "" {
		siteFilter = fmt.Sprintf("| where sSiteName == \"%s\"\n", params.SiteName)
	}
	staticClauses := make([]string, 0, len(staticAssetSuffixes))
	for _, suffix := range staticAssetSuffixes {
		staticClauses = append(staticClauses, fmt.Sprintf("csUriStem !endswith \"%s\"", suffix))
	}
	staticFilter := strings.Join(staticClauses, " and ")

	summaryQuery := fmt.Sprintf(`W3CIISLog
| where %s
%s| where %s
| summarize
    TotalRequests = count(),
    ErrorCount4xx = countif(scStatus startswith "4"),
    ErrorCount5xx = countif(scStatus startswith "5"),
    AvgTimeTaken = avg(TimeTaken),
    P50TimeTaken = percentile(TimeTaken, 50),
    P90TimeTaken = percentile(TimeTaken, 90),
    P99TimeTaken = percentile(TimeTaken, 99),
    MaxTimeTaken = max(TimeTaken)`, timeFilter, siteFilter, staticFilter)

	topPagesQuery := fmt.Sprintf(`W3CIISLog
| where %s
%s| where %s
| summarize RequestCount = count(), AvgTimeTaken = avg(TimeTaken) by csUriStem
| order by RequestCount desc
| take 10`, timeFilter, siteFilter, staticFilter)

	statusQuery := fmt.Sprintf(`W3CIISLog
| where %s
%s| summarize Count = count() by scStatus
| order by Count desc
| take 20`, timeFilter, siteFilter)

	summaryRows, err := c.Query(ctx, creds, summaryQuery, "")
	if err != nil {
		return nil, err
	}
	topPageRows, err := c.Query(ctx, creds, topPagesQuery, "")
	if err != nil {
		return nil, err
	}
	statusRows, err := c.Query(ctx, creds, statusQuery, "")
	if err != nil {
		return nil, err
	}

	result := &DashboardSummary{TopPages: []TopPage{}, StatusDistribution: []StatusCount{}}
	if len(summaryRows) > 0 {
		row := summaryRows[0]
		result.Summary = SummaryStats{
			TotalRequests: rowInt(row, "TotalRequests"),
			ErrorCount4xx: rowInt(row, "ErrorCount4xx"),
			ErrorCount5xx: rowInt(row, "ErrorCount5xx"),
			AvgTimeTaken:  round1(rowFloat(row, "AvgTimeTaken")),
			P50TimeTaken:  round1(rowFloat(row, "P50TimeTaken")),
			P90TimeTaken:  round1(rowFloat(row, "P90TimeTaken")),
			P99TimeTaken:  round1(rowFloat(row, "P99TimeTaken")),
			MaxTimeTaken:  round1(rowFloat(row, "MaxTimeTaken")),
		}
	}
	for _, row := range topPageRows {
		page := TopPage{
			URL:          rowString(row, "csUriStem"),
			RequestCount: rowInt(row, "RequestCount"),
			AvgTimeTaken: round1(rowFloat(row, "AvgTimeTaken")),
		}
		if page.URL == "" {
			page.URL = "Unknown"
		}
		result.TopPages = append(result.TopPages, page)
	}
	var total int64
	for _, row := range statusRows {
		total += rowInt(row, "Count")
	}
	for _, row := range statusRows {
		count := rowInt(row, "Count")
		entry := StatusCount{StatusCode: rowString(row, "scStatus"), Count: count}
		if total > 0 {
			entry.Percentage = round1(float64(count) / float64(total) * 100)
		}
		result.StatusDistribution = append(result.StatusDistribution, entry)
	}
	return result, nil
}

// TestConnection probes the workspace for IIS log data, falling back to
// the Heartbeat table to distinguish "no IIS logs" from "no access".
func (c *AzureClient) TestConnection(ctx context.Context, creds AzureCredentials) (*ConnectionStatus, error) {
	rows, err := c.Query(ctx, creds, `W3CIISLog | take 1 | project TimeGenerated, sSiteName`, "")
	if err != nil {
		if _, fallbackErr := c.Query(ctx, creds, `Heartbeat | take 1`, ""); fallbackErr != nil {
			return nil, err
		}
		return &ConnectionStatus{
			Message: "Connected to workspace, but the W3CIISLog table was not found. IIS logs may not be configured.",
			Warning: true,
		}, nil
	}
	if len(rows) > 0 {
		siteName := rowString(rows[0], "sSiteName")
		if siteName == "" {
			siteName = "Unknown"
		}
		return &ConnectionStatus{
			Message: fmt.Sprintf("Connected to workspace. Found IIS log data (site: %s).", siteName),
		}, nil
	}
	return &ConnectionStatus{
		Message: "Connected to workspace. W3CIISLog table exists but no recent data found.",
	}, nil
}

func rowFloat(row map[string]any, key string) float64 {
	if num, ok := row[key].(float64); ok {
		return num
	}
	return 0
}

func rowInt(row map[string]any, key string) int64 {
	return int64(rowFloat(row, key))
}

func rowString(row map[string]any, key string) string {
	switch v := row[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%g", v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
