package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type requestMetrics interface {
	ObserveRequest(route, method string, status int, duration time.Duration)
}

// Metrics records each request under its chi route pattern so path ids do
// not explode label cardinality.
func Metrics(m requestMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)

			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			m.ObserveRequest(route, r.Method, rec.code(), time.Since(start))
		})
	}
}
