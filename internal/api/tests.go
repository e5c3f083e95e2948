package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"perfwatch/internal/storage"
)

type testURLRequest struct {
	URL      string `json:"url"`
	URLID    int64  `json:"url_id,omitempty"`
	Strategy string `json:"strategy,omitempty"`
}

func validStrategy(strategy string) (string, bool) {
	switch strategy {
	case "":
		return storage.StrategyDesktop, true
	case storage.StrategyDesktop, storage.StrategyMobile:
		return strategy, true
	default:
		return "", false
	}
}

// handleTestURL runs one PageSpeed test. With url_id set the result is
// persisted; without it the measurement is only returned (used by the
// retest and ad hoc test actions).
func (h *Handler) handleTestURL(w http.ResponseWriter, r *http.Request) {
	var req testURLRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target := strings.TrimSpace(req.URL)
	if target == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if parsed, err := url.Parse(target); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		writeError(w, http.StatusBadRequest, "url must be absolute, e.g. https://example.com/")
		return
	}
	strategy, ok := validStrategy(req.Strategy)
	if !ok {
		writeError(w, http.StatusBadRequest, "strategy must be desktop or mobile")
		return
	}
	result, err := h.Monitor.RunURLTest(r.Context(), target, req.URLID, strategy)
	if err != nil {
		// Persisting against a stale url_id fails at the store boundary,
		// not at the provider.
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrConflict) {
			h.writeStoreError(w, err, "url not found", "conflicting result")
			return
		}
		writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

func (h *Handler) handleTestSite(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid site id")
		return
	}
	strategy, ok := validStrategy(r.URL.Query().Get("strategy"))
	if !ok {
		writeError(w, http.StatusBadRequest, "strategy must be desktop or mobile")
		return
	}
	outcomes, err := h.Monitor.RunSiteTests(r.Context(), id, strategy)
	if err != nil {
		h.writeStoreError(w, err, "site not found", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": outcomes})
}

func (h *Handler) handleTestAll(w http.ResponseWriter, r *http.Request) {
	strategy, ok := validStrategy(r.URL.Query().Get("strategy"))
	if !ok {
		writeError(w, http.StatusBadRequest, "strategy must be desktop or mobile")
		return
	}
	outcomes, err := h.Monitor.RunAllTests(r.Context(), strategy)
	if err != nil {
		h.writeStoreError(w, err, "", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": outcomes})
}

func (h *Handler) handleLatestResults(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid site id")
		return
	}
	strategy, ok := validStrategy(r.URL.Query().Get("strategy"))
	if !ok {
		writeError(w, http.StatusBadRequest, "strategy must be desktop or mobile")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	results, err := h.Store.LatestResults(ctx, id, strategy)
	if err != nil {
		h.writeStoreError(w, err, "site not found", "")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid url id")
		return
	}
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = parsed
	}
	strategy, ok := validStrategy(r.URL.Query().Get("strategy"))
	if !ok {
		writeError(w, http.StatusBadRequest, "strategy must be desktop or mobile")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	results, err := h.Monitor.History(ctx, id, days, strategy)
	if err != nil {
		h.writeStoreError(w, err, "url not found", "")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) handleResultGet(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid result id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	result, err := h.Store.GetResult(ctx, id)
	if err != nil {
		h.writeStoreError(w, err, "result not found", "")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCompareSites(w http.ResponseWriter, r *http.Request) {
	siteA, errA := strconv.ParseInt(r.URL.Query().Get("site1"), 10, 64)
	siteB, errB := strconv.ParseInt(r.URL.Query().Get("site2"), 10, 64)
	if errA != nil || errB != nil {
		writeError(w, http.StatusBadRequest, "site1 and site2 query parameters are required")
		return
	}
	strategy, ok := validStrategy(r.URL.Query().Get("strategy"))
	if !ok {
		writeError(w, http.StatusBadRequest, "strategy must be desktop or mobile")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	comparison, err := h.Monitor.CompareSites(ctx, siteA, siteB, strategy)
	if err != nil {
		h.writeStoreError(w, err, "site not found", "")
		return
	}
	writeJSON(w, http.StatusOK, comparison)
}

func (h *Handler) handleCompareURLs(w http.ResponseWriter, r *http.Request) {
	urlA, errA := strconv.ParseInt(r.URL.Query().Get("url1"), 10, 64)
	urlB, errB := strconv.ParseInt(r.URL.Query().Get("url2"), 10, 64)
	if errA != nil || errB != nil {
		writeError(w, http.StatusBadRequest, "url1 and url2 query parameters are required")
		return
	}
	strategy, ok := validStrategy(r.URL.Query().Get("strategy"))
	if !ok {
		writeError(w, http.StatusBadRequest, "strategy must be desktop or mobile")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	comparison, err := h.Monitor.CompareURLs(ctx, urlA, urlB, strategy)
	if err != nil {
		h.writeStoreError(w, err, "url not found", "")
		return
	}
	writeJSON(w, http.StatusOK, comparison)
}
