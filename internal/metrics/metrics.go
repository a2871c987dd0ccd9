// metrics — prometheus-метрики auth-сервиса.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LoginAttempts — попытки входа по исходу
	// (success, invalid_credentials, locked, unknown_user, error).
	LoginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// TokensIssued — выпущенные токены по типу (access, refresh).
	TokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Signed tokens issued by type.",
		},
		[]string{"type"},
	)

	// SessionsRevoked — отозванные записи реестра по причине.
	SessionsRevoked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_sessions_revoked_total",
			Help: "Refresh token registry records revoked by reason.",
		},
		[]string{"reason"},
	)

	// AuditWriteFailures — неуспешные записи в журнал аудита.
	// Основную операцию такие сбои не прерывают, но должны быть видимы.
	AuditWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_audit_write_failures_total",
			Help: "Audit log writes that failed and were only logged.",
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Init регистрирует метрики в default-регистре.
func Init() {
	prometheus.MustRegister(
		LoginAttempts,
		TokensIssued,
		SessionsRevoked,
		AuditWriteFailures,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// Handler — хэндлер Prometheus для служебного HTTP-сервера.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTP фиксирует исход HTTP-запроса.
// path передаётся шаблоном маршрута, не сырым URL, чтобы не раздувать кардинальность.
func ObserveHTTP(method, path string, status int, dur time.Duration) {
	code := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, path, code).Inc()
	httpRequestDuration.WithLabelValues(method, path, code).Observe(dur.Seconds())
}
