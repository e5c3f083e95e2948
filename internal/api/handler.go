// Package api exposes the dashboard's HTTP surface: page routes rendering
// the embedded templates and the JSON API for site/URL CRUD, test
// execution, history, comparison, and the provider proxies.
package api

import (
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"perfwatch/internal/bus"
	"perfwatch/internal/monitor"
	"perfwatch/internal/providers"
	"perfwatch/internal/storage"
)

type Handler struct {
	Store     storage.Storer
	Monitor   *monitor.Service
	NewRelic  *providers.NewRelicClient
	Azure     *providers.AzureClient
	Bus       *bus.Publisher
	Logger    *slog.Logger
	Templates *template.Template

	// Timeout bounds store-backed requests. Test batches and provider
	// proxies run on the request context instead: a PageSpeed run alone
	// can take over a minute.
	Timeout time.Duration
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	h.registerPageRoutes(r)

	r.Route("/api", func(r chi.Router) {
		r.Get("/sites", h.handleSitesList)
		r.Post("/sites", h.handleSiteCreate)
		r.Put("/sites/{id}", h.handleSiteRename)
		r.Delete("/sites/{id}", h.handleSiteDelete)
		r.Get("/sites/{id}/urls", h.handleURLsList)
		r.Post("/sites/{id}/urls", h.handleURLCreate)
		r.Delete("/urls/{id}", h.handleURLDelete)
		r.Get("/sites/{id}/latest-results", h.handleLatestResults)
		r.Get("/urls/{id}/history", h.handleHistory)
		r.Get("/results/{id}", h.handleResultGet)

		r.Post("/test-url", h.handleTestURL)
		r.Post("/test-site/{id}", h.handleTestSite)
		r.Post("/test-all", h.handleTestAll)

		r.Get("/comparison", h.handleCompareSites)
		r.Get("/comparison/urls", h.handleCompareURLs)

		r.Post("/newrelic/query", h.handleNewRelicQuery)
		r.Post("/newrelic/core-web-vitals", h.handleNewRelicVitals)
		r.Post("/newrelic/test-connection", h.handleNewRelicTest)

		r.Post("/azure/query", h.handleAzureQuery)
		r.Post("/azure/logs/search", h.handleAzureLogSearch)
		r.Post("/azure/logs/summary", h.handleAzureLogSummary)
		r.Post("/azure/test-connection", h.handleAzureTest)

		r.Post("/ai/analyze", h.handleAIAnalyze)
		r.Post("/ai/follow-up", h.handleAIFollowUp)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

// writeStoreError maps the store's sentinel errors to HTTP statuses.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error, notFoundMsg, conflictMsg string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, notFoundMsg)
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, conflictMsg)
	default:
		h.logger().Error("store error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeProviderError maps a provider failure kind to the status the proxy
// endpoints surface.
func writeProviderError(w http.ResponseWriter, err error) {
	failure := providers.AsFailure(err)
	status := http.StatusBadGateway
	switch failure.Kind {
	case providers.FailureAuth:
		status = http.StatusUnauthorized
	case providers.FailureRateLimit:
		status = http.StatusTooManyRequests
	case providers.FailureTimeout:
		status = http.StatusGatewayTimeout
	}
	writeError(w, status, failure.Message)
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
