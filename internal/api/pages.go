package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type pageData struct {
	Page  string
	Title string
}

var pages = []struct {
	route    string
	template string
	data     pageData
}{
	{"/", "dashboard.html", pageData{Page: "dashboard", Title: "Dashboard"}},
	{"/setup", "setup.html", pageData{Page: "setup", Title: "Setup"}},
	{"/test", "test.html", pageData{Page: "test", Title: "Run Tests"}},
	{"/metrics", "metrics.html", pageData{Page: "metrics", Title: "Metrics"}},
	{"/new-relic", "new-relic.html", pageData{Page: "new-relic", Title: "New Relic"}},
	{"/iis-logs", "iis-logs.html", pageData{Page: "iis-logs", Title: "IIS Logs"}},
	{"/ai-analysis", "ai-analysis.html", pageData{Page: "ai-analysis", Title: "AI Analysis"}},
}

func (h *Handler) registerPageRoutes(r chi.Router) {
	for _, page := range pages {
		r.Get(page.route, h.renderPage(page.template, page.data))
	}
}

func (h *Handler) renderPage(name string, data pageData) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := h.Templates.ExecuteTemplate(w, name, data); err != nil {
			h.logger().Error("render page failed",
				slog.String("template", name), slog.String("error", err.Error()))
		}
	}
}
