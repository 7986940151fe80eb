package metrics

import (
	"context"
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

type ctxKey string

const (
	routeLabelKey   ctxKey = "metrics_route"
	requestIDCtxKey ctxKey = "metrics_request_id"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studydesk_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studydesk_http_errors_total",
		Help: "Total number of HTTP requests resulting in server errors.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "studydesk_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	dbLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "studydesk_db_latency_seconds",
		Help:    "Histogram of local store operation latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "route"})

	online = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "studydesk_online",
		Help: "1 when the connectivity monitor considers the network reachable.",
	})

	connectivityTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studydesk_connectivity_transitions_total",
		Help: "Online/offline transitions observed by the connectivity monitor.",
	}, []string{"to"})

	syncQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studydesk_sync_queued_total",
		Help: "Pending changes recorded while offline.",
	})

	syncEnqueueFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studydesk_sync_enqueue_failures_total",
		Help: "Pending changes that could not be recorded.",
	})

	syncDrained = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studydesk_sync_drained_total",
		Help: "Pending changes marked synced by a drain.",
	})

	assetRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studydesk_asset_cache_requests_total",
		Help: "Asset requests handled by the cache service, by result.",
	}, []string{"result"})

	authEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studydesk_auth_events_total",
		Help: "Session transitions by kind and outcome.",
	}, []string{"event", "outcome"})
)

// Middleware records request metrics and enriches the context with labels for downstream instrumentation.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())

			ctx := r.Context()
			if reqID != "" {
				ctx = context.WithValue(ctx, requestIDCtxKey, reqID)
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(ctx))

			// chi fills in the route pattern while routing, so read it afterwards.
			route := routePattern(r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			method := r.Method
			duration := time.Since(start).Seconds()
			statusCode := strconv.Itoa(status)

			httpRequestsTotal.WithLabelValues(method, route).Inc()
			httpRequestDuration.WithLabelValues(method, route, statusCode).Observe(duration)
			if status >= http.StatusInternalServerError {
				httpErrorsTotal.WithLabelValues(method, route, statusCode).Inc()
			}
		})
	}
}

// WithRoute labels ctx with a route for DB latency observations made outside HTTP handlers.
func WithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, routeLabelKey, route)
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDBLatency records database latency for a given operation, associating it with request labels when available.
func ObserveDBLatency(ctx context.Context, operation string, start time.Time) {
	route := routeFromContext(ctx)
	dbLatency.WithLabelValues(operation, route).Observe(time.Since(start).Seconds())
}

// SetOnline mirrors the connectivity state into a gauge.
func SetOnline(v bool) {
	if v {
		online.Set(1)
		return
	}
	online.Set(0)
}

// ConnectivityTransition counts a change of connectivity state.
func ConnectivityTransition(to bool) {
	if to {
		connectivityTransitions.WithLabelValues("online").Inc()
		return
	}
	connectivityTransitions.WithLabelValues("offline").Inc()
}

// SyncQueued counts a recorded pending change.
func SyncQueued() { syncQueued.Inc() }

// SyncEnqueueFailed counts a pending change that could not be stored.
func SyncEnqueueFailed() { syncEnqueueFailures.Inc() }

// SyncDrained counts changes marked synced.
func SyncDrained(n int) { syncDrained.Add(float64(n)) }

// AssetRequest counts an asset cache result: hit, miss, network, offline or bypass.
func AssetRequest(result string) { assetRequests.WithLabelValues(result).Inc() }

// AuthEvent counts sign-up, sign-in and sign-out attempts.
func AuthEvent(event string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	authEvents.WithLabelValues(event, outcome).Inc()
}

// RequestIDFromContext extracts the request ID stored by the metrics middleware.
func RequestIDFromContext(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDCtxKey).(string); ok {
		return reqID
	}
	return ""
}

func routeFromContext(ctx context.Context) string {
	if route, ok := ctx.Value(routeLabelKey).(string); ok && route != "" {
		return route
	}
	if rctx := chi.RouteContext(ctx); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
