// Package reqid assigns a correlation ID to each inbound request.
package reqid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const maxLen = 128

// HeaderName is the header clients may supply and that responses echo.
const HeaderName = "X-Request-Id"

type ctxKey struct{}

// FromRequest returns the client-supplied request ID if present and within
// the length bound, otherwise generates a new one.
func FromRequest(r *http.Request) string {
	if v := r.Header.Get(HeaderName); v != "" && len(v) <= maxLen {
		return v
	}
	return uuid.NewString()
}

// WithID attaches id to ctx for downstream retrieval by logging and error
// reporting.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the request ID stored in ctx, or "" if none.
func FromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

// Middleware assigns a request ID to every inbound request, attaches it to
// the request context, and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := FromRequest(r)
		w.Header().Set(HeaderName, id)
		r = r.WithContext(WithID(r.Context(), id))
		next.ServeHTTP(w, r)
	})
}
