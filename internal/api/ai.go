package api

import (
	"net/http"
	"strings"

	"perfwatch/internal/monitor"
)

// handleAIAnalyze gathers live telemetry for a URL and asks both AI
// backends side by side. Per-provider failures come back inside the
// response; the endpoint itself only fails on bad input.
func (h *Handler) handleAIAnalyze(w http.ResponseWriter, r *http.Request) {
	var req monitor.AnalyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.Claude.APIKey == "" && req.OpenAI.APIKey == "" {
		writeError(w, http.StatusBadRequest, "at least one AI provider API key is required")
		return
	}
	resp, err := h.Monitor.Analyze(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "analysis": resp})
}

// handleAIFollowUp continues a conversation. The caller resends the
// context and full transcript each turn; no session lives server-side.
func (h *Handler) handleAIFollowUp(w http.ResponseWriter, r *http.Request) {
	var req monitor.FollowUpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.Claude.APIKey == "" && req.OpenAI.APIKey == "" {
		writeError(w, http.StatusBadRequest, "at least one AI provider API key is required")
		return
	}
	resp, err := h.Monitor.FollowUp(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "analysis": resp})
}
