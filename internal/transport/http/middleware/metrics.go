package middleware

import (
	"net/http"
	"time"

	"github.com/anubhavg-icpl/grantha-sub000/internal/metrics"

	"github.com/go-chi/chi/v5"
)

// Metrics фиксирует RPS и латентность по шаблону маршрута chi,
// чтобы не раздувать кардинальность сырыми URL.
func Metrics() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := newStatusWriter(w)
			start := time.Now()
			next.ServeHTTP(sw, r)

			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					path = pattern
				}
			}

			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}

			metrics.ObserveHTTP(r.Method, path, status, time.Since(start))
		})
	}
}
