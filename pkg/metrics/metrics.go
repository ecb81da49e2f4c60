package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranchhand_polls_total",
			Help: "Total vendor polls by group and result.",
		},
		[]string{"group", "result"},
	)
	pollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ranchhand_poll_duration_seconds",
			Help:    "Vendor poll duration by group.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"group"},
	)
	readingsStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranchhand_readings_stored_total",
			Help: "History rows written by kind (sensor or power).",
		},
		[]string{"kind"},
	)
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranchhand_http_requests_total",
			Help: "Total HTTP requests by method and status.",
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(pollsTotal, pollDuration, readingsStored, requestsTotal)
}

// ObservePoll records the outcome of a single vendor poll. The result label
// is "ok" or the error kind.
func ObservePoll(group, result string, duration time.Duration) {
	pollsTotal.WithLabelValues(group, result).Inc()
	pollDuration.WithLabelValues(group).Observe(duration.Seconds())
}

// ReadingStored increments the stored-row counter for a history kind.
func ReadingStored(kind string) {
	readingsStored.WithLabelValues(kind).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware counts requests by method and status.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		requestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
