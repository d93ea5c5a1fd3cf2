// Package observability provides Prometheus metrics and structured logging.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	RefreshesTotal     *prometheus.CounterVec
	SamplesInserted    prometheus.Counter
	SamplesRejected    prometheus.Counter
	RefreshDuration    prometheus.Histogram
	QueueSize          prometheus.Gauge
	LastSuccessfulTick prometheus.Gauge

	// Catalog metrics
	CatalogRefreshes *prometheus.CounterVec
	CatalogAssets    prometheus.Gauge
	CatalogVersion   prometheus.Gauge
	FXRate           *prometheus.GaugeVec

	// Upstream metrics
	FeedRequestLatency *prometheus.HistogramVec
	FeedRequestErrors  *prometheus.CounterVec

	// Valuation metrics
	ValuationDuration *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "portfolio_tracker"
	}

	return &Metrics{
		// Ingestion metrics
		RefreshesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "refreshes_total",
			Help:      "Total number of asset history refreshes by outcome",
		}, []string{"outcome"}),
		SamplesInserted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "samples_inserted_total",
			Help:      "Total number of price samples stored",
		}),
		SamplesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "samples_rejected_total",
			Help:      "Total number of invalid price samples dropped before storage",
		}),
		RefreshDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of a single asset refresh",
			Buckets:   prometheus.DefBuckets,
		}),
		QueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "queue_size",
			Help:      "Number of assets in the refresh queue",
		}),
		LastSuccessfulTick: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "last_successful_refresh_timestamp",
			Help:      "Unix timestamp of the last successful asset refresh",
		}),

		// Catalog metrics
		CatalogRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "refreshes_total",
			Help:      "Total number of catalog and FX refreshes by kind and status",
		}, []string{"kind", "status"}),
		CatalogAssets: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "assets",
			Help:      "Number of assets in the current catalog snapshot",
		}),
		CatalogVersion: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "version",
			Help:      "Version of the current catalog snapshot",
		}),
		FXRate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "fx_rate",
			Help:      "Current USD conversion rate by target currency",
		}, []string{"currency"}),

		// Upstream metrics
		FeedRequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "request_latency_seconds",
			Help:      "Latency of upstream feed requests by endpoint",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"endpoint"}),
		FeedRequestErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "request_errors_total",
			Help:      "Total number of failed upstream requests by endpoint and kind",
		}, []string{"endpoint", "kind"}),

		// Valuation metrics
		ValuationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "valuation",
			Name:      "duration_seconds",
			Help:      "Duration of valuation queries by kind",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordRefresh records the outcome of one asset refresh.
func RecordRefresh(outcome string, inserted, rejected int, durationSeconds float64) {
	DefaultMetrics.RefreshesTotal.WithLabelValues(outcome).Inc()
	DefaultMetrics.SamplesInserted.Add(float64(inserted))
	DefaultMetrics.SamplesRejected.Add(float64(rejected))
	DefaultMetrics.RefreshDuration.Observe(durationSeconds)
}

// RecordRefreshSuccess stores the time of the last successful refresh.
func RecordRefreshSuccess(unixSeconds int64) {
	DefaultMetrics.LastSuccessfulTick.Set(float64(unixSeconds))
}

// UpdateQueueSize updates the refresh queue size gauge.
func UpdateQueueSize(n int) {
	DefaultMetrics.QueueSize.Set(float64(n))
}

// RecordCatalogRefresh records a catalog or FX refresh attempt.
func RecordCatalogRefresh(kind, status string) {
	DefaultMetrics.CatalogRefreshes.WithLabelValues(kind, status).Inc()
}

// UpdateCatalog updates catalog snapshot gauges.
func UpdateCatalog(assets int, version uint64) {
	DefaultMetrics.CatalogAssets.Set(float64(assets))
	DefaultMetrics.CatalogVersion.Set(float64(version))
}

// UpdateFXRate updates the FX rate gauge.
func UpdateFXRate(currency string, rate float64) {
	DefaultMetrics.FXRate.WithLabelValues(currency).Set(rate)
}

// RecordFeedRequest records upstream request latency and failures.
// kind is empty for successful requests.
func RecordFeedRequest(endpoint, kind string, seconds float64) {
	DefaultMetrics.FeedRequestLatency.WithLabelValues(endpoint).Observe(seconds)
	if kind != "" {
		DefaultMetrics.FeedRequestErrors.WithLabelValues(endpoint, kind).Inc()
	}
}

// RecordValuation records valuation query latency.
func RecordValuation(kind string, seconds float64) {
	DefaultMetrics.ValuationDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
