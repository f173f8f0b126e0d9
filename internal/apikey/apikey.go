// Package apikey is the optional bearer API-key gate driven by
// API_KEYS_ENABLED/API_KEYS (spec §6.2). External collaborator per spec §1.
package apikey

import (
	"net/http"
	"strings"

	"github.com/yourname/notion-image-proxy/internal/apperr"
)

// Gate checks inbound requests against a fixed set of API keys.
type Gate struct {
	enabled bool
	keys    map[string]struct{}
}

// New builds a Gate. When enabled is false, Middleware is a no-op.
func New(enabled bool, keysCSV string) *Gate {
	keys := make(map[string]struct{})
	for _, k := range strings.Split(keysCSV, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			keys[k] = struct{}{}
		}
	}
	return &Gate{enabled: enabled, keys: keys}
}

// Middleware rejects requests missing a recognised key when enabled.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.enabled {
			next.ServeHTTP(w, r)
			return
		}
		key := extractKey(r)
		if _, ok := g.keys[key]; !ok {
			e := apperr.New(http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid api key")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(e.Status)
			_, _ = w.Write([]byte(`{"error":{"status":401,"code":"UNAUTHORIZED","message":"missing or invalid api key"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-Api-Key")
}
