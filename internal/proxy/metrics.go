package proxy

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// upstreamReqs counts proxied requests by route, method, outcome and the
	// status returned to the caller.
	upstreamReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_upstream_requests_total",
			Help: "Total number of requests handled by the upstream proxy.",
		},
		[]string{"route", "method", "outcome", "status"},
	)

	// upstreamLat records the full proxy exchange duration. Status is left out
	// to keep histogram cardinality low.
	upstreamLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "proxy_upstream_duration_seconds",
			Help: "Duration of upstream proxy exchanges in seconds.",
			// Upstream routes run up to 30s by default.
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"route", "method"},
	)
)

func init() {
	prometheus.MustRegister(upstreamReqs, upstreamLat)
}

func observe(ex *exchange, latency time.Duration) {
	outcome := string(ex.outcome)
	if outcome == "" {
		outcome = "unknown"
	}
	upstreamReqs.WithLabelValues(ex.route, ex.method, outcome, strconv.Itoa(ex.status)).Inc()
	upstreamLat.WithLabelValues(ex.route, ex.method).Observe(latency.Seconds())
}
