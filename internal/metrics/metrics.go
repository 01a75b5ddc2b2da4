// Package metrics provides Prometheus metrics for seekbot.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request pipeline metrics
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seekbot_requests_total",
			Help: "Download requests by terminal state",
		},
		[]string{"state"},
	)

	searchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seekbot_search_duration_seconds",
			Help:    "Time from issuing a network search to receiving its results",
			Buckets: []float64{1, 2, 5, 10, 15, 20, 30, 45, 60},
		},
	)

	searchResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seekbot_search_results",
			Help:    "Number of results per search, raw and after filtering",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"kind"},
	)

	rejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seekbot_result_rejections_total",
			Help: "Search results rejected, by first failed rule",
		},
		[]string{"reason"},
	)

	// Transfer metrics
	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seekbot_downloads_total",
			Help: "Retrievals issued, by outcome",
		},
		[]string{"status"},
	)

	downloadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seekbot_download_bytes_total",
			Help: "Bytes of successfully retrieved files",
		},
	)

	downloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seekbot_download_duration_seconds",
			Help:    "Time from issuing a retrieval to its completion",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	inFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seekbot_requests_in_flight",
			Help: "Requests currently being processed",
		},
	)

	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seekbot_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordRequest(state string) {
	requestsTotal.WithLabelValues(state).Inc()
}

func RequestStarted() {
	inFlight.Inc()
}

func RequestFinished() {
	inFlight.Dec()
}

func RecordSearch(duration time.Duration, raw, admissible int) {
	searchDuration.Observe(duration.Seconds())
	searchResults.WithLabelValues("raw").Observe(float64(raw))
	searchResults.WithLabelValues("admissible").Observe(float64(admissible))
}

func RecordRejections(counts map[string]int) {
	for reason, n := range counts {
		rejectionsTotal.WithLabelValues(reason).Add(float64(n))
	}
}

func RecordDownload(duration time.Duration, size int64, err error) {
	if err != nil {
		downloadsTotal.WithLabelValues("failed").Inc()
		return
	}
	downloadsTotal.WithLabelValues("completed").Inc()
	downloadDuration.Observe(duration.Seconds())
	downloadBytes.Add(float64(size))
}

func RecordHTTPRequest(method, path string, status int) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}
