// Package httpapi wires the pipeline to gorilla/mux routes: the explicit
// proxy route, the stable document-platform-shaped route, cache purge, and
// health/stats (spec §6).
package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/yourname/notion-image-proxy/internal/apperr"
	"github.com/yourname/notion-image-proxy/internal/cachekey"
	"github.com/yourname/notion-image-proxy/internal/pipeline"
	"github.com/yourname/notion-image-proxy/internal/urlparse"
	"github.com/yourname/notion-image-proxy/internal/validator"
)

// Deps are the collaborators the handlers need. Construction lives in
// cmd/server; this package only renders HTTP around the pipeline.
type Deps struct {
	Pipeline        *pipeline.Pipeline
	AllowedHosts    validator.AllowedHosts
	HealthCheck     func() bool
	CacheTTLSeconds int
}

// NewRouter builds the full route table described in spec §6.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/proxy", d.handleProxy).Methods(http.MethodGet)
	r.HandleFunc("/img/{workspaceId}/{blockId}/{filename}", d.handleStablePath).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/cache", d.handlePurge).Methods(http.MethodDelete)
	r.HandleFunc("/health", d.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/stats", d.handleStats).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(d.handleNotFound)
	return r
}

// handleProxy is GET /api/v1/proxy?url=...&w=&h=&q=&fmt=&fit=. The url
// query parameter is the explicit upstream source; the pipeline runs in
// relay mode (spec §4.7) since the caller supplied a live signed URL.
func (d Deps) handleProxy(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeError(w, r, apperr.New(http.StatusBadRequest, apperr.CodeMissingURL, "url query parameter is required"))
		return
	}

	target, verr := validator.Validate(raw, d.AllowedHosts)
	if verr != nil {
		writeError(w, r, verr)
		return
	}

	opts, perr := parseOptions(r.URL.Query())
	if perr != nil {
		writeError(w, r, perr)
		return
	}

	parsed, _ := urlparse.Parse(target.String())

	req := pipeline.Request{
		CacheBaseURL:      baseURL(target),
		UpstreamURL:       target.String(),
		Opts:              opts,
		WorkspaceID:       parsed.WorkspaceID,
		BlockID:           parsed.BlockID,
		UpstreamErrorMode: pipeline.ModeRelay,
	}
	d.resolve(w, r, req)
}

// handleStablePath is GET /img/:workspaceId/:blockId/:filename?w=&h=&q=&fmt=&fit=.
// It never fetches a fresh signed URL itself, so a miss here is reported
// as IMAGE_NOT_CACHED rather than relayed upstream (spec §4.7, §9).
func (d Deps) handleStablePath(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	workspaceID, blockID, filename := vars["workspaceId"], vars["blockId"], vars["filename"]
	if workspaceID == "" || blockID == "" || filename == "" {
		writeError(w, r, apperr.New(http.StatusBadRequest, apperr.CodeMissingParams, "workspaceId, blockId, and filename are required"))
		return
	}

	opts, perr := parseOptions(r.URL.Query())
	if perr != nil {
		writeError(w, r, perr)
		return
	}

	baseURL := "notion-image-proxy://stable/" + workspaceID + "/" + blockID + "/" + filename

	req := pipeline.Request{
		CacheBaseURL:      baseURL,
		UpstreamURL:       "",
		Opts:              opts,
		WorkspaceID:       workspaceID,
		BlockID:           blockID,
		UpstreamErrorMode: pipeline.ModeCacheMiss,
	}
	d.resolve(w, r, req)
}

func (d Deps) resolve(w http.ResponseWriter, r *http.Request, req pipeline.Request) {
	res, err := d.Pipeline.Resolve(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Bytes)))
	w.Header().Set("Cache-Control", d.cacheControl())
	w.Header().Set("X-Cache", cacheStatus(res.Hit))
	w.Header().Set("X-Cache-Tier", string(res.Tier))
	w.Header().Set("X-Request-Id", pipeline.RequestIDFromContext(r.Context()))
	if res.OriginalSize > 0 {
		w.Header().Set("X-Original-Size", strconv.FormatInt(res.OriginalSize, 10))
	}
	if res.OptimizedSize > 0 {
		w.Header().Set("X-Optimized-Size", strconv.FormatInt(res.OptimizedSize, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Bytes)
}

// cacheControl builds the response Cache-Control header per spec §6.1:
// a short client-side max-age, s-maxage tracking the configured cache TTL,
// and a fixed stale-while-revalidate window.
func (d Deps) cacheControl() string {
	return "public, max-age=3600, s-maxage=" + strconv.Itoa(d.CacheTTLSeconds) + ", stale-while-revalidate=3600"
}

func cacheStatus(hit bool) string {
	if hit {
		return "HIT"
	}
	return "MISS"
}

// handlePurge is DELETE /api/v1/cache?url=.... Purging by page/block ID
// alone is not supported; spec §13 resolves that as 501.
func (d Deps) handlePurge(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeError(w, r, apperr.New(http.StatusNotImplemented, apperr.CodeNotImplemented, "purge by pageId/blockId alone is not supported; pass the explicit url"))
		return
	}
	target, verr := validator.Validate(raw, d.AllowedHosts)
	if verr != nil {
		writeError(w, r, verr)
		return
	}
	if err := d.Pipeline.Purge(r.Context(), baseURL(target)); err != nil {
		writeError(w, r, apperr.Wrap(http.StatusInternalServerError, apperr.CodePurgeFailed, "purge failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purged": true})
}

// baseURL is the upstream URL with its query string removed, so the
// volatile signature never enters the cache key.
func baseURL(u *url.URL) string {
	base := *u
	base.RawQuery = ""
	return base.String()
}

func (d Deps) handleHealth(w http.ResponseWriter, r *http.Request) {
	ok := true
	if d.HealthCheck != nil {
		ok = d.HealthCheck()
	}
	status := "up"
	code := http.StatusOK
	if !ok {
		status = "down"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status})
}

func (d Deps) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"service": "notion-image-proxy", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (d Deps) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, apperr.New(http.StatusNotFound, apperr.CodeNotFound, "no such route"))
}

// parseOptions parses w,h,q,fmt,fit. Per spec §6, an individual invalid
// directive is silently dropped rather than rejecting the whole request.
func parseOptions(q map[string][]string) (cachekey.Options, *apperr.Error) {
	get := func(key string) string {
		if v, ok := q[key]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}

	var opts cachekey.Options
	if v := get("w"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 10000 {
			opts.Width = n
		}
	}
	if v := get("h"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 10000 {
			opts.Height = n
		}
	}
	if v := get("q"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			opts.Quality = n
		}
	}
	if v := get("fmt"); v != "" {
		if f, ok := cachekey.ValidFormat(v); ok {
			opts.Format = f
		}
	}
	if v := get("fit"); v != "" {
		if f, ok := cachekey.ValidFit(v); ok {
			opts.Fit = f
		}
	}
	return opts, nil
}

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, e *apperr.Error) {
	reqID := pipeline.RequestIDFromContext(r.Context())
	log.Warn().Str("code", e.Code).Int("status", e.Status).Str("request_id", reqID).Msg(e.Message)
	writeJSON(w, e.Status, errorBody{Error: errorPayload{
		Status:    e.Status,
		Code:      e.Code,
		Message:   e.Message,
		RequestID: reqID,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
