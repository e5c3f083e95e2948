package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

type siteRequest struct {
	Name string `json:"name"`
}

type urlRequest struct {
	URL string `json:"url"`
}

func (h *Handler) handleSitesList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	sites, err := h.Store.ListSites(ctx)
	if err != nil {
		h.writeStoreError(w, err, "", "")
		return
	}
	writeJSON(w, http.StatusOK, sites)
}

func (h *Handler) handleSiteCreate(w http.ResponseWriter, r *http.Request) {
	var req siteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "site name is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	site, err := h.Store.CreateSite(ctx, name)
	if err != nil {
		h.writeStoreError(w, err, "site not found", "a site with that name already exists")
		return
	}
	_ = h.Bus.Publish("perfwatch.site.created", map[string]any{"site_id": site.ID, "name": site.Name})
	writeJSON(w, http.StatusCreated, site)
}

func (h *Handler) handleSiteRename(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid site id")
		return
	}
	var req siteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "site name is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if err := h.Store.RenameSite(ctx, id, name); err != nil {
		h.writeStoreError(w, err, "site not found", "a site with that name already exists")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleSiteDelete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid site id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if err := h.Store.DeleteSite(ctx, id); err != nil {
		h.writeStoreError(w, err, "site not found", "")
		return
	}
	_ = h.Bus.Publish("perfwatch.site.deleted", map[string]any{"site_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) handleURLsList(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid site id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	urls, err := h.Store.ListURLsBySite(ctx, id)
	if err != nil {
		h.writeStoreError(w, err, "site not found", "")
		return
	}
	writeJSON(w, http.StatusOK, urls)
}

func (h *Handler) handleURLCreate(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid site id")
		return
	}
	var req urlRequest
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
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	created, err := h.Store.CreateURL(ctx, id, target)
	if err != nil {
		h.writeStoreError(w, err, "site not found", "that URL is already monitored for this site")
		return
	}
	_ = h.Bus.Publish("perfwatch.url.created", map[string]any{"url_id": created.ID, "site_id": id})
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleURLDelete(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid url id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()
	if err := h.Store.DeleteURL(ctx, id); err != nil {
		h.writeStoreError(w, err, "url not found", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
