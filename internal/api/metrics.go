package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stkledger",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed, labeled by route and status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stkledger",
		Name:      "http_request_duration_seconds",
		Help:      "Latency distribution of HTTP requests",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "endpoint"})

	stkPushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stkledger",
		Name:      "stk_push_total",
		Help:      "STK push attempts by outcome",
	}, []string{"outcome"})

	callbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stkledger",
		Name:      "callbacks_total",
		Help:      "Gateway result notifications by resulting status",
	}, []string{"status"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// unmatchedEndpoint labels requests no route accepted. 404 and 405
// responses share it instead of getting a series per path.
const unmatchedEndpoint = "unmatched"

// MetricsMiddleware records request counts and latency per route template,
// so /api/transactions/{id} is one series rather than one per id. It wraps
// the router because mux middleware never runs for unmatched requests.
func MetricsMiddleware(router *mux.Router) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		endpoint := unmatchedEndpoint
		var match mux.RouteMatch
		if router.Match(r, &match) && match.Route != nil {
			if tpl, err := match.Route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		router.ServeHTTP(rec, r)

		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}
