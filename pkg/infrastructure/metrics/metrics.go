// Package metrics exposes Prometheus instrumentation for the sync engine
// and its HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stridetally_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stridetally_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stridetally_provider_fetches_total",
		Help: "Activity fetches by outcome (ok, credential_expired, permission_denied, rate_limited, transient).",
	}, []string{"outcome"})

	providerRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stridetally_provider_requests_total",
		Help: "Individual provider API page requests issued.",
	})

	refreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stridetally_credential_refreshes_total",
		Help: "Provider credential refreshes by outcome.",
	}, []string{"outcome"})

	batchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stridetally_sync_batch_duration_seconds",
		Help:    "Wall time of one scheduler batch, fetch through bulk upsert.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"category"})

	daysResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stridetally_sync_days_resolved_total",
		Help: "Athlete-days written to the sync store by status.",
	}, []string{"status"})

	storeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stridetally_store_latency_seconds",
		Help:    "Histogram of document store operation latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

// Middleware records request metrics labelled by chi route pattern.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := routePattern(r)
			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch counts one fetch outcome.
func ObserveFetch(outcome string) {
	fetchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveProviderRequest counts one provider page request.
func ObserveProviderRequest() {
	providerRequestsTotal.Inc()
}

// ObserveRefresh counts one credential refresh outcome.
func ObserveRefresh(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	refreshesTotal.WithLabelValues(outcome).Inc()
}

// ObserveBatch records a batch duration.
func ObserveBatch(category string, start time.Time) {
	batchDuration.WithLabelValues(category).Observe(time.Since(start).Seconds())
}

// ObserveDaysResolved counts resolved athlete-days.
func ObserveDaysResolved(status string, n int) {
	if n > 0 {
		daysResolvedTotal.WithLabelValues(status).Add(float64(n))
	}
}

// ObserveStoreLatency records store latency for a given operation.
func ObserveStoreLatency(operation string, start time.Time) {
	storeLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
