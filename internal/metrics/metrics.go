// Package metrics exposes Prometheus collectors for the conversion service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec
	uploadsTotal                *prometheus.CounterVec
	uploadBytesTotal            prometheus.Counter
	conversionsTotal            *prometheus.CounterVec
	conversionDurationSeconds   *prometheus.HistogramVec
	activeWorkers               prometheus.Gauge
	websocketSubscribers        prometheus.Gauge
	notificationsDroppedTotal   prometheus.Counter
	notificationsDeliveredTotal *prometheus.CounterVec
	uploadRateLimitedTotal      prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		uploadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "converter_uploads_total",
				Help: "Total number of upload attempts, labeled by conversion type and outcome.",
			},
			[]string{"conversion_type", "outcome"},
		)

		uploadBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "converter_upload_bytes_total",
				Help: "Total number of bytes accepted by the upload endpoint.",
			},
		)

		conversionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "converter_conversions_total",
				Help: "Total number of conversions finished, labeled by type and status.",
			},
			[]string{"conversion_type", "status"},
		)

		conversionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "converter_conversion_duration_seconds",
				Help:    "Histogram of conversion durations, labeled by type.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"conversion_type"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "converter_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		websocketSubscribers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "converter_websocket_subscribers",
				Help: "Number of websocket connections in the broadcast group.",
			},
		)

		notificationsDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "converter_notifications_dropped_total",
				Help: "Total number of status frames dropped because a queue was full.",
			},
		)

		notificationsDeliveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "converter_notifications_total",
				Help: "Total number of status notifications, labeled by sink and outcome.",
			},
			[]string{"sink", "outcome"},
		)

		uploadRateLimitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "converter_upload_rate_limited_total",
				Help: "Total number of uploads rejected by the per-client limiter.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveUpload records an upload attempt. Bytes are counted only when positive.
func ObserveUpload(conversionType, outcome string, bytes int64) {
	Init()
	if conversionType == "" {
		conversionType = "unknown"
	}
	uploadsTotal.WithLabelValues(conversionType, outcome).Inc()
	if bytes > 0 {
		uploadBytesTotal.Add(float64(bytes))
	}
}

// ObserveConversion records a finished conversion.
func ObserveConversion(conversionType, status string, duration time.Duration) {
	Init()
	conversionsTotal.WithLabelValues(conversionType, status).Inc()
	conversionDurationSeconds.WithLabelValues(conversionType).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// SetSubscribers reports the current websocket subscriber count.
func SetSubscribers(n int) {
	Init()
	websocketSubscribers.Set(float64(n))
}

// ObserveDroppedNotification increments the dropped frame counter.
func ObserveDroppedNotification() {
	Init()
	notificationsDroppedTotal.Inc()
}

// ObserveNotification records a notification attempt for a sink.
func ObserveNotification(sink string, err error) {
	Init()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	notificationsDeliveredTotal.WithLabelValues(sink, outcome).Inc()
}

// ObserveRateLimited increments the rejected upload counter.
func ObserveRateLimited() {
	Init()
	uploadRateLimitedTotal.Inc()
}
