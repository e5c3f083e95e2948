package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newAzureTestClient wires both the login and query endpoints to one test
// server. The handler only sees query requests; token requests are
// answered inline.
func newAzureTestClient(t *testing.T, query http.HandlerFunc) (*AzureClient, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/test-tenant/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse token form: %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
		}
		w.Write([]byte(`{"access_token": "test-token", "expires_in": 3599}`))
	})
	mux.HandleFunc("/v1/workspaces/", query)
	srv := httptest.NewServer(mux)
	client := NewAzure()
	client.LoginBaseURL = srv.URL
	client.APIBaseURL = srv.URL
	return client, srv
}

func testAzureCreds() AzureCredentials {
	return AzureCredentials{
		TenantID:     "test-tenant",
		ClientID:     "client",
		ClientSecret: "secret",
		WorkspaceID:  "ws-1",
	}
}

func tableResponse(columns []string, rows ...[]any) string {
	type col struct {
		Name string `json:"name"`
	}
	cols := make([]col, len(columns))
	for i, name := range columns {
		cols[i] = col{Name: name}
	}
	payload := map[string]any{
		"tables": []map[string]any{{"columns": cols, "rows": rows}},
	}
	out, _ := json.Marshal(payload)
	return string(out)
}

func TestAzureQueryFlattensTables(t *testing.T) {
	var gotAuth string
	client, srv := newAzureTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, tableResponse(
			[]string{"TimeGenerated", "scStatus"},
			[]any{"2025-06-01T10:00:00Z", "200"},
			[]any{"2025-06-01T10:01:00Z", "500"},
		))
	})
	defer srv.Close()

	rows, err := client.Query(context.Background(), testAzureCreds(), "W3CIISLog | take 2", "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if len(rows) != 2 || rows[1]["scStatus"] != "500" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestAzureForbiddenIsAuthError(t *testing.T) {
	client, srv := newAzureTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	defer srv.Close()

	_, err := client.Query(context.Background(), testAzureCreds(), "W3CIISLog", "")
	var failure *Failure
	if !errors.As(err, &failure) || failure.Kind != FailureAuth {
		t.Fatalf("want AuthError, got %v", err)
	}
	if !strings.Contains(failure.Message, "Log Analytics Reader") {
		t.Fatalf("message should hint at the missing role: %q", failure.Message)
	}
}

func TestSearchLogsBuildsFilters(t *testing.T) {
	var gotQuery string
	client, srv := newAzureTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]string
		json.Unmarshal(body, &payload)
		gotQuery = payload["query"]
		fmt.Fprint(w, tableResponse([]string{"csUriStem"}, []any{"/checkout"}))
	})
	defer srv.Close()

	result, err := client.SearchLogs(context.Background(), testAzureCreds(), LogSearchParams{
		StartDate:  "2025-06-01T00:00:00Z",
		EndDate:    "2025-06-02T00:00:00Z",
		URLFilter:  "/checkout",
		StatusCode: "4",
		SiteName:   "shop",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if result.Count != 1 {
		t.Fatalf("count = %d", result.Count)
	}
	for _, want := range []string{
		"csUriStem contains '/checkout'",
		"scStatus startswith '4'", // single digit matches the whole class
		"sSiteName == 'shop'",
		"csUriStem !endswith '.css'",
		"take 100",
	} {
		if !strings.Contains(gotQuery, want) {
			t.Fatalf("query missing %q:\n%s", want, gotQuery)
		}
	}
}

func TestSearchLogsExactStatus(t *testing.T) {
	var gotQuery string
	client, srv := newAzureTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]string
		json.Unmarshal(body, &payload)
		gotQuery = payload["query"]
		fmt.Fprint(w, tableResponse([]string{"csUriStem"}))
	})
	defer srv.Close()

	if _, err := client.SearchLogs(context.Background(), testAzureCreds(), LogSearchParams{
		StartDate:  "2025-06-01T00:00:00Z",
		EndDate:    "2025-06-02T00:00:00Z",
		StatusCode: "404",
	}); err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(gotQuery, "scStatus == '404'") {
		t.Fatalf("query missing exact status match:\n%s", gotQuery)
	}
}

func TestDashboardSummaryAggregates(t *testing.T) {
	call := 0
	client, srv := newAzureTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		call++
		switch call {
		case 1:
			fmt.Fprint(w, tableResponse(
				[]string{"TotalRequests", "ErrorCount4xx", "ErrorCount5xx", "AvgTimeTaken", "P50TimeTaken", "P90TimeTaken", "P99TimeTaken", "MaxTimeTaken"},
				[]any{1000.0, 40.0, 5.0, 123.45, 80.0, 300.0, 900.0, 5000.0},
			))
		case 2:
			fmt.Fprint(w, tableResponse(
				[]string{"csUriStem", "RequestCount", "AvgTimeTaken"},
				[]any{"/home", 600.0, 100.0},
				[]any{nil, 400.0, 150.0},
			))
		default:
			fmt.Fprint(w, tableResponse(
				[]string{"scStatus", "Count"},
				[]any{"200", 750.0},
				[]any{"404", 250.0},
			))
		}
	})
	defer srv.Close()

	summary, err := client.GetDashboardSummary(context.Background(), testAzureCreds(), SummaryParams{
		StartDate: "2025-06-01T00:00:00Z",
		EndDate:   "2025-06-02T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Summary.TotalRequests != 1000 || summary.Summary.AvgTimeTaken != 123.5 {
		t.Fatalf("summary = %+v", summary.Summary)
	}
	if len(summary.TopPages) != 2 || summary.TopPages[1].URL != "Unknown" {
		t.Fatalf("top pages = %+v", summary.TopPages)
	}
	if len(summary.StatusDistribution) != 2 || summary.StatusDistribution[0].Percentage != 75 {
		t.Fatalf("status distribution = %+v", summary.StatusDistribution)
	}
}

func TestTestConnectionHeartbeatFallback(t *testing.T) {
	call := 0
	client, srv := newAzureTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		call++
		if call == 1 {
			// W3CIISLog probe fails: table missing.
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": {"message": "table not found"}}`))
			return
		}
		fmt.Fprint(w, tableResponse([]string{"Computer"}, []any{"vm-1"}))
	})
	defer srv.Close()

	status, err := client.TestConnection(context.Background(), testAzureCreds())
	if err != nil {
		t.Fatalf("test connection: %v", err)
	}
	if !status.Warning || !strings.Contains(status.Message, "W3CIISLog") {
		t.Fatalf("status = %+v", status)
	}
}
