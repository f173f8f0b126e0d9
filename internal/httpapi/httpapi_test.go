package httpapi

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/yourname/notion-image-proxy/internal/edgecache"
	"github.com/yourname/notion-image-proxy/internal/fetcher"
	"github.com/yourname/notion-image-proxy/internal/pipeline"
	"github.com/yourname/notion-image-proxy/internal/reqid"
	"github.com/yourname/notion-image-proxy/internal/store"
	"github.com/yourname/notion-image-proxy/internal/validator"
)

type memStore struct {
	objects map[string]*store.Object
}

func newMemStore() *memStore { return &memStore{objects: make(map[string]*store.Object)} }

func (m *memStore) Get(_ context.Context, key string) (*store.Object, bool, error) {
	obj, ok := m.objects[key]
	return obj, ok, nil
}
func (m *memStore) Put(_ context.Context, key string, bytes []byte, meta store.Meta) error {
	m.objects[key] = &store.Object{Bytes: bytes, Meta: meta}
	return nil
}
func (m *memStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, _ := m.Get(ctx, key)
	return ok, nil
}
func (m *memStore) Delete(_ context.Context, key string) error { delete(m.objects, key); return nil }
func (m *memStore) DeleteByPrefix(_ context.Context, prefix string) error {
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			delete(m.objects, k)
		}
	}
	return nil
}
func (m *memStore) HealthCheck(context.Context) bool    { return true }
func (m *memStore) Name() string                        { return "mem" }
func (m *memStore) TouchAccess(context.Context, string) {}

func newTestDeps(t *testing.T, originURL string) Deps {
	t.Helper()
	host := strings.TrimPrefix(strings.TrimPrefix(originURL, "https://"), "http://")
	allowed := validator.NewAllowedHosts(host)
	pl := pipeline.New(
		edgecache.NewLRU(100, 1<<20),
		newMemStore(),
		fetcher.New(),
		pipeline.Config{FetchTimeout: 5 * time.Second, MaxSizeBytes: 1 << 20, AllowedHosts: allowed, CacheTTL: time.Minute},
	)
	return Deps{Pipeline: pl, AllowedHosts: allowed, HealthCheck: func() bool { return true }, CacheTTLSeconds: 7200}
}

// newRoutedTestDeps is newTestDeps for tests that reach an origin. The
// validator only admits https URLs on public hostnames, so requests for
// host are dialled to the local TLS test server instead.
func newRoutedTestDeps(t *testing.T, host string, origin *httptest.Server) Deps {
	t.Helper()
	allowed := validator.NewAllowedHosts(host)
	fc := fetcher.New()
	fc.HTTP.Transport = &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, network, origin.Listener.Addr().String())
		},
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	pl := pipeline.New(
		edgecache.NewLRU(100, 1<<20),
		newMemStore(),
		fc,
		pipeline.Config{FetchTimeout: 5 * time.Second, MaxSizeBytes: 1 << 20, AllowedHosts: allowed, CacheTTL: time.Minute},
	)
	return Deps{Pipeline: pl, AllowedHosts: allowed, HealthCheck: func() bool { return true }, CacheTTLSeconds: 7200}
}

func TestHandleProxyMissingURL(t *testing.T) {
	d := newTestDeps(t, "https://example.com")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/proxy", nil)
	req = req.WithContext(reqid.WithID(req.Context(), "req-1"))
	rec := httptest.NewRecorder()

	NewRouter(d).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "MISSING_URL") {
		t.Fatalf("expected MISSING_URL in body, got %s", rec.Body.String())
	}
}

func TestHandleProxySuccess(t *testing.T) {
	origin := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer origin.Close()

	d := newRoutedTestDeps(t, "origin.example.com", origin)
	target := "https://origin.example.com/a.png"
	req := httptest.NewRequest(http.MethodGet, "/api/v1/proxy?url="+url.QueryEscape(target), nil)
	req = req.WithContext(reqid.WithID(req.Context(), "req-2"))
	rec := httptest.NewRecorder()

	NewRouter(d).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "png-bytes" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
	if rec.Header().Get("X-Cache-Tier") != string(pipeline.TierOrigin) {
		t.Fatalf("expected X-Cache-Tier ORIGIN, got %q", rec.Header().Get("X-Cache-Tier"))
	}
	if rec.Header().Get("X-Request-Id") != "req-2" {
		t.Fatalf("expected request id to be echoed, got %q", rec.Header().Get("X-Request-Id"))
	}
	wantCC := "public, max-age=3600, s-maxage=7200, stale-while-revalidate=3600"
	if got := rec.Header().Get("Cache-Control"); got != wantCC {
		t.Fatalf("Cache-Control: got %q, want %q", got, wantCC)
	}
}

func TestHandleProxyDropsOutOfRangeWidthSilently(t *testing.T) {
	origin := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer origin.Close()

	d := newRoutedTestDeps(t, "origin.example.com", origin)
	target := "https://origin.example.com/a.png"
	req := httptest.NewRequest(http.MethodGet, "/api/v1/proxy?url="+url.QueryEscape(target)+"&w=10001", nil)
	rec := httptest.NewRecorder()

	NewRouter(d).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected the out-of-range width to be dropped and the request to succeed, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleProxyRejectsDisallowedHost(t *testing.T) {
	d := newTestDeps(t, "https://allowed.example.com")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/proxy?url="+url.QueryEscape("https://evil.example.com/a.png"), nil)
	req = req.WithContext(reqid.WithID(req.Context(), "req-3"))
	rec := httptest.NewRecorder()

	NewRouter(d).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleStablePathReportsNotCachedOnMiss(t *testing.T) {
	d := newTestDeps(t, "https://example.com")
	req := httptest.NewRequest(http.MethodGet, "/img/ws1/block1/photo.png", nil)
	req = req.WithContext(reqid.WithID(req.Context(), "req-4"))
	rec := httptest.NewRecorder()

	NewRouter(d).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "IMAGE_NOT_CACHED") {
		t.Fatalf("expected IMAGE_NOT_CACHED, got %s", rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	d := newTestDeps(t, "https://example.com")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	NewRouter(d).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandlePurgeWithoutURLReturnsNotImplemented(t *testing.T) {
	d := newTestDeps(t, "https://example.com")
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cache", nil)
	req = req.WithContext(reqid.WithID(req.Context(), "req-5"))
	rec := httptest.NewRecorder()

	NewRouter(d).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleNotFoundRoute(t *testing.T) {
	d := newTestDeps(t, "https://example.com")
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()

	NewRouter(d).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
