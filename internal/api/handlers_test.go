package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"perfwatch/internal/bus"
	"perfwatch/internal/monitor"
	"perfwatch/internal/providers"
	"perfwatch/internal/storage"
	"perfwatch/internal/storage/sqlite"
	"perfwatch/web"
)

type stubPageSpeed struct {
	failOn map[string]bool
}

func (s *stubPageSpeed) Run(ctx context.Context, pageURL, strategy, apiKey string) (*providers.PageSpeedResult, error) {
	if s.failOn[pageURL] {
		return nil, &providers.Failure{Kind: providers.FailureUpstream, Message: "upstream broke"}
	}
	score := 87.0
	lcp := 2400.0
	return &providers.PageSpeedResult{PerformanceScore: &score, LCP: &lcp}, nil
}

type testFixture struct {
	store  storage.Storer
	router chi.Router
	stub   *stubPageSpeed
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	templates, err := web.Templates()
	if err != nil {
		t.Fatalf("parse templates: %v", err)
	}
	publisher, _ := bus.NewPublisher("")
	stub := &stubPageSpeed{failOn: map[string]bool{}}
	svc := &monitor.Service{Store: store, PageSpeed: stub, Bus: publisher}
	handler := &Handler{
		Store:     store,
		Monitor:   svc,
		NewRelic:  providers.NewNewRelic(),
		Azure:     providers.NewAzure(),
		Bus:       publisher,
		Templates: templates,
		Timeout:   5 * time.Second,
	}
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return &testFixture{store: store, router: r, stub: stub}
}

func (f *testFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestSiteEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/sites", map[string]string{"name": "Prod"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create site: %d %s", rec.Code, rec.Body.String())
	}
	site := decodeBody[storage.Site](t, rec)

	if rec := f.do(t, http.MethodPost, "/api/sites", map[string]string{"name": "Prod"}); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate site: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/sites", map[string]string{"name": "  "}); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank name: %d", rec.Code)
	}

	if rec := f.do(t, http.MethodPut, fmt.Sprintf("/api/sites/%d", site.ID), map[string]string{"name": "Production"}); rec.Code != http.StatusOK {
		t.Fatalf("rename: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPut, "/api/sites/9999", map[string]string{"name": "x"}); rec.Code != http.StatusNotFound {
		t.Fatalf("rename missing: %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/sites", nil)
	sites := decodeBody[[]storage.Site](t, rec)
	if len(sites) != 1 || sites[0].Name != "Production" {
		t.Fatalf("sites = %+v", sites)
	}

	if rec := f.do(t, http.MethodDelete, fmt.Sprintf("/api/sites/%d", site.ID), nil); rec.Code != http.StatusOK {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, fmt.Sprintf("/api/sites/%d", site.ID), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("delete again: %d", rec.Code)
	}
}

func TestURLEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/sites", map[string]string{"name": "Prod"})
	site := decodeBody[storage.Site](t, rec)
	base := fmt.Sprintf("/api/sites/%d/urls", site.ID)

	rec = f.do(t, http.MethodPost, base, map[string]string{"url": "https://example.com/"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create url: %d %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[storage.URL](t, rec)

	if rec := f.do(t, http.MethodPost, base, map[string]string{"url": "https://example.com/"}); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate url: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, base, map[string]string{"url": "not-a-url"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("relative url: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/sites/9999/urls", map[string]string{"url": "https://x.example/"}); rec.Code != http.StatusNotFound {
		t.Fatalf("url under missing site: %d", rec.Code)
	}

	if rec := f.do(t, http.MethodDelete, fmt.Sprintf("/api/urls/%d", created.ID), nil); rec.Code != http.StatusOK {
		t.Fatalf("delete url: %d", rec.Code)
	}
}

func TestTestURLPersistsAndLatestResults(t *testing.T) {
	f := newFixture(t)

	site := decodeBody[storage.Site](t, f.do(t, http.MethodPost, "/api/sites", map[string]string{"name": "Prod"}))
	u := decodeBody[storage.URL](t, f.do(t, http.MethodPost, fmt.Sprintf("/api/sites/%d/urls", site.ID), map[string]string{"url": "https://example.com/"}))

	rec := f.do(t, http.MethodPost, "/api/test-url", map[string]any{
		"url": u.URL, "url_id": u.ID, "strategy": "mobile",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("test url: %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/sites/%d/latest-results?strategy=mobile", site.ID), nil)
	results := decodeBody[[]storage.LatestResult](t, rec)
	if len(results) != 1 {
		t.Fatalf("results = %+v", results)
	}
	got := results[0]
	if got.PerformanceScore == nil || *got.PerformanceScore != 87 || got.LCP == nil || *got.LCP != 2400 {
		t.Fatalf("result = %+v", got)
	}
	if got.Strategy != "mobile" {
		t.Fatalf("strategy = %q", got.Strategy)
	}
}

func TestTestURLValidation(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, http.MethodPost, "/api/test-url", map[string]string{"url": ""}); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty url: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/test-url", map[string]string{"url": "https://x.example/", "strategy": "tablet"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad strategy: %d", rec.Code)
	}
}

func TestTestURLProviderFailureStatus(t *testing.T) {
	f := newFixture(t)
	f.stub.failOn["https://down.example/"] = true

	rec := f.do(t, http.MethodPost, "/api/test-url", map[string]string{"url": "https://down.example/"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("provider failure: %d %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]any](t, rec)
	if body["success"] != false || body["error"] == "" {
		t.Fatalf("body = %v", body)
	}
}

func TestTestURLStaleIDIsNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/test-url", map[string]any{
		"url": "https://example.com/", "url_id": 9999,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("stale url_id: %d %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]any](t, rec)
	if body["success"] != false || body["error"] != "url not found" {
		t.Fatalf("body = %v", body)
	}
}

func TestTestAllReportsPerURLOutcomes(t *testing.T) {
	f := newFixture(t)
	f.stub.failOn["https://b.example/"] = true

	site := decodeBody[storage.Site](t, f.do(t, http.MethodPost, "/api/sites", map[string]string{"name": "Prod"}))
	for _, u := range []string{"https://a.example/", "https://b.example/", "https://c.example/"} {
		f.do(t, http.MethodPost, fmt.Sprintf("/api/sites/%d/urls", site.ID), map[string]string{"url": u})
	}

	rec := f.do(t, http.MethodPost, "/api/test-all", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("test all: %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success bool                  `json:"success"`
		Results []monitor.TestOutcome `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("results = %+v", resp.Results)
	}
	failures := 0
	for _, o := range resp.Results {
		if !o.Success {
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("failures = %d, want 1", failures)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	f := newFixture(t)

	site := decodeBody[storage.Site](t, f.do(t, http.MethodPost, "/api/sites", map[string]string{"name": "Prod"}))
	u := decodeBody[storage.URL](t, f.do(t, http.MethodPost, fmt.Sprintf("/api/sites/%d/urls", site.ID), map[string]string{"url": "https://example.com/"}))
	f.do(t, http.MethodPost, "/api/test-url", map[string]any{"url": u.URL, "url_id": u.ID})

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/urls/%d/history?days=30", u.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: %d", rec.Code)
	}
	rows := decodeBody[[]storage.TestResult](t, rec)
	if len(rows) != 1 || rows[0].Strategy != storage.StrategyDesktop {
		t.Fatalf("rows = %+v", rows)
	}

	if rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/urls/%d/history?days=zero", u.ID), nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad days: %d", rec.Code)
	}
}

func TestComparisonEndpoints(t *testing.T) {
	f := newFixture(t)

	siteA := decodeBody[storage.Site](t, f.do(t, http.MethodPost, "/api/sites", map[string]string{"name": "A"}))
	siteB := decodeBody[storage.Site](t, f.do(t, http.MethodPost, "/api/sites", map[string]string{"name": "B"}))
	u := decodeBody[storage.URL](t, f.do(t, http.MethodPost, fmt.Sprintf("/api/sites/%d/urls", siteA.ID), map[string]string{"url": "https://a.example/"}))
	f.do(t, http.MethodPost, "/api/test-url", map[string]any{"url": u.URL, "url_id": u.ID})

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/comparison?site1=%d&site2=%d", siteA.ID, siteB.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("comparison: %d %s", rec.Code, rec.Body.String())
	}
	comparison := decodeBody[monitor.SiteComparison](t, rec)
	if comparison.SiteA.TestedCount != 1 || comparison.SiteB.TestedCount != 0 {
		t.Fatalf("comparison = %+v", comparison)
	}

	if rec := f.do(t, http.MethodGet, "/api/comparison?site1=abc&site2=1", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad params: %d", rec.Code)
	}
}

func TestPagesRender(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/", "/setup", "/test", "/metrics", "/new-relic", "/iis-logs", "/ai-analysis"} {
		rec := f.do(t, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: %d", path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "<nav>") {
			t.Fatalf("%s: missing nav", path)
		}
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
}
