package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Oura API client
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oura_api_requests_total",
			Help: "Oura API requests by path and outcome",
		},
		[]string{"path", "outcome"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oura_api_request_duration_seconds",
			Help:    "Duration of single Oura API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	APIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oura_api_retries_total",
			Help: "Oura API retries by path and failure kind",
		},
		[]string{"path", "kind"},
	)

	// Sync
	RecordsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oura_sync_records_upserted_total",
			Help: "Rows written per endpoint",
		},
		[]string{"endpoint"},
	)

	TransformErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oura_sync_transform_errors_total",
			Help: "Records skipped because their transform failed",
		},
		[]string{"endpoint"},
	)

	EndpointFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oura_sync_endpoint_failures_total",
			Help: "Endpoint syncs that ended in error",
		},
		[]string{"endpoint"},
	)

	EndpointLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oura_sync_endpoint_last_success_timestamp_seconds",
			Help: "Unix time of the last successful endpoint sync",
		},
		[]string{"endpoint"},
	)

	PassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "oura_sync_pass_duration_seconds",
			Help:    "Duration of full sync passes",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	PassesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oura_sync_passes_skipped_total",
			Help: "Sync passes skipped because another was running",
		},
	)

	// HTTP API
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oura_http_requests_total",
			Help: "Requests served by the control API",
		},
		[]string{"method", "route", "status"},
	)
)

func RecordAPIRequest(path, outcome string, d time.Duration) {
	APIRequests.WithLabelValues(path, outcome).Inc()
	APIRequestDuration.WithLabelValues(path).Observe(d.Seconds())
}

func RecordAPIRetry(path, kind string) {
	APIRetries.WithLabelValues(path, kind).Inc()
}

// RecordEndpointSync records the outcome of one endpoint sync.
func RecordEndpointSync(endpoint string, count int, err error) {
	if err != nil {
		EndpointFailures.WithLabelValues(endpoint).Inc()
		return
	}
	RecordsUpserted.WithLabelValues(endpoint).Add(float64(count))
	EndpointLastSuccess.WithLabelValues(endpoint).SetToCurrentTime()
}

func RecordTransformError(endpoint string) {
	TransformErrors.WithLabelValues(endpoint).Inc()
}

func RecordPass(d time.Duration) {
	PassDuration.Observe(d.Seconds())
}

func RecordSkippedPass() {
	PassesSkipped.Inc()
}

func RecordHTTPRequest(method, route string, status int) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
