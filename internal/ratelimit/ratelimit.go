// Package ratelimit is the per-IP admission-control middleware named in
// spec §5 "Backpressure" and configured via RATE_LIMIT_PER_MINUTE (spec
// §6.2). It is an external collaborator (spec §1) — the core pipeline
// never imports it.
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/yourname/notion-image-proxy/internal/apperr"
)

// Limiter rate-limits requests per client IP.
type Limiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	perMinute int
}

// New builds a Limiter allowing perMinute requests per IP, per minute. A
// non-positive perMinute disables limiting.
func New(perMinute int) *Limiter {
	return &Limiter{limiters: make(map[string]*rate.Limiter), perMinute: perMinute}
}

func (l *Limiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute)
		l.limiters[ip] = lim
	}
	return lim
}

// Middleware enforces the limit, writing a RATE_LIMIT_EXCEEDED error when
// exceeded.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.perMinute <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		if !l.limiterFor(ip).Allow() {
			writeRateLimitError(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeRateLimitError(w http.ResponseWriter) {
	e := apperr.New(http.StatusTooManyRequests, apperr.CodeRateLimitExceeded, "rate limit exceeded")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_, _ = w.Write([]byte(`{"error":{"status":` + strconv.Itoa(e.Status) + `,"code":"` + e.Code + `","message":"` + e.Message + `"}}`))
}
