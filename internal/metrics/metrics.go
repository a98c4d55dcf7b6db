package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usergate_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "usergate_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)

	// RatelimitDecisions counts limiter checks by limiter name and outcome
	RatelimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usergate_ratelimit_decisions_total",
			Help: "Rate limiter checks by limiter and outcome.",
		},
		[]string{"limiter", "outcome"},
	)

	// Redemptions counts invite and signup redemptions by kind and outcome
	Redemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usergate_redemptions_total",
			Help: "Invite grants and signup confirmations by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// MailFailures counts mails that could not be delivered after retries
	MailFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usergate_mail_failures_total",
			Help: "Mails that failed after all retries, by template.",
		},
		[]string{"template"},
	)

	// CleanupPurged counts rows removed by the cleanup worker
	CleanupPurged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usergate_cleanup_purged_total",
			Help: "Expired rows removed by the cleanup worker.",
		},
		[]string{"kind"},
	)
)

// Register adds all collectors to reg
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		httpRequestsTotal, httpRequestDuration,
		RatelimitDecisions, Redemptions, MailFailures, CleanupPurged,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the collectors of the default gatherer
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records count and latency of every request
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
