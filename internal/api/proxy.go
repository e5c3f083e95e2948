package api

import (
	"net/http"
	"strings"

	"perfwatch/internal/providers"
)

// The proxy endpoints forward caller-supplied credentials to one provider
// and return the normalized response. Credentials live only for the
// request; nothing is cached server-side.

type newRelicQueryRequest struct {
	APIKey string `json:"api_key"`
	Query  string `json:"query"`
}

type newRelicVitalsRequest struct {
	providers.NewRelicCredentials
	AppName   string `json:"app_name"`
	PageURL   string `json:"page_url"`
	TimeRange string `json:"time_range,omitempty"`
}

type newRelicTestRequest struct {
	APIKey string `json:"api_key"`
}

func (h *Handler) handleNewRelicQuery(w http.ResponseWriter, r *http.Request) {
	var req newRelicQueryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	raw, err := h.NewRelic.Query(r.Context(), req.APIKey, req.Query)
	if err != nil {
		writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": raw})
}

func (h *Handler) handleNewRelicVitals(w http.ResponseWriter, r *http.Request) {
	var req newRelicVitalsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.APIKey == "" || req.AccountID == 0 {
		writeError(w, http.StatusBadRequest, "api_key and account_id are required")
		return
	}
	if strings.TrimSpace(req.PageURL) == "" || strings.TrimSpace(req.AppName) == "" {
		writeError(w, http.StatusBadRequest, "app_name and page_url are required")
		return
	}
	vitals, err := h.NewRelic.GetCoreWebVitals(r.Context(), req.NewRelicCredentials, providers.CoreWebVitalsRequest{
		AppName:   req.AppName,
		PageURL:   req.PageURL,
		TimeRange: req.TimeRange,
	})
	if err != nil {
		writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "vitals": vitals})
}

func (h *Handler) handleNewRelicTest(w http.ResponseWriter, r *http.Request) {
	var req newRelicTestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	message, err := h.NewRelic.TestConnection(r.Context(), req.APIKey)
	if err != nil {
		writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": message})
}

type azureQueryRequest struct {
	providers.AzureCredentials
	Query    string `json:"query"`
	Timespan string `json:"timespan,omitempty"`
}

type azureSearchRequest struct {
	providers.AzureCredentials
	providers.LogSearchParams
}

type azureSummaryRequest struct {
	providers.AzureCredentials
	providers.SummaryParams
}

type azureTestRequest struct {
	providers.AzureCredentials
}

func azureCredsMissing(creds providers.AzureCredentials) bool {
	return creds.TenantID == "" || creds.ClientID == "" || creds.ClientSecret == "" || creds.WorkspaceID == ""
}

func (h *Handler) handleAzureQuery(w http.ResponseWriter, r *http.Request) {
	var req azureQueryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if azureCredsMissing(req.AzureCredentials) {
		writeError(w, http.StatusBadRequest, "tenant_id, client_id, client_secret, and workspace_id are required")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	rows, err := h.Azure.Query(r.Context(), req.AzureCredentials, req.Query, req.Timespan)
	if err != nil {
		writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "rows": rows, "count": len(rows)})
}

func (h *Handler) handleAzureLogSearch(w http.ResponseWriter, r *http.Request) {
	var req azureSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if azureCredsMissing(req.AzureCredentials) {
		writeError(w, http.StatusBadRequest, "tenant_id, client_id, client_secret, and workspace_id are required")
		return
	}
	if req.StartDate == "" || req.EndDate == "" {
		writeError(w, http.StatusBadRequest, "start_date and end_date are required")
		return
	}
	result, err := h.Azure.SearchLogs(r.Context(), req.AzureCredentials, req.LogSearchParams)
	if err != nil {
		writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

func (h *Handler) handleAzureLogSummary(w http.ResponseWriter, r *http.Request) {
	var req azureSummaryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if azureCredsMissing(req.AzureCredentials) {
		writeError(w, http.StatusBadRequest, "tenant_id, client_id, client_secret, and workspace_id are required")
		return
	}
	if req.StartDate == "" || req.EndDate == "" {
		writeError(w, http.StatusBadRequest, "start_date and end_date are required")
		return
	}
	summary, err := h.Azure.GetDashboardSummary(r.Context(), req.AzureCredentials, req.SummaryParams)
	if err != nil {
		writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "summary": summary})
}

func (h *Handler) handleAzureTest(w http.ResponseWriter, r *http.Request) {
	var req azureTestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if azureCredsMissing(req.AzureCredentials) {
		writeError(w, http.StatusBadRequest, "tenant_id, client_id, client_secret, and workspace_id are required")
		return
	}
	status, err := h.Azure.TestConnection(r.Context(), req.AzureCredentials)
	if err != nil {
		writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": status})
}
