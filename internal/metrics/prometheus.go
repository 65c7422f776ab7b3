package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the service sync
type PrometheusMetrics struct {
	// Pull sync metrics
	SyncRunsTotal         *prometheus.CounterVec
	SyncDuration          prometheus.Histogram
	ServicesUpsertedTotal prometheus.Counter
	ServiceFailuresTotal  prometheus.Counter
	ServicesPrunedTotal   prometheus.Counter
	LastSuccessfulSync    prometheus.Gauge

	// Webhook metrics
	WebhookEventsTotal *prometheus.CounterVec

	// Provider metrics
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderRequestDuration prometheus.Histogram

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec
	ServicesMirrored          prometheus.Gauge

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them on reg. A nil
// reg uses the default registerer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		SyncRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orquest_sync_runs_total",
				Help: "Total number of pull sync runs",
			},
			[]string{"trigger", "status"},
		),

		SyncDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orquest_sync_duration_seconds",
				Help:    "Duration of pull sync runs",
				Buckets: prometheus.DefBuckets,
			},
		),

		ServicesUpsertedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "orquest_sync_services_upserted_total",
				Help: "Total number of services upserted by pull sync",
			},
		),

		ServiceFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "orquest_sync_service_failures_total",
				Help: "Total number of service records skipped by pull sync",
			},
		),

		ServicesPrunedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "orquest_sync_services_pruned_total",
				Help: "Total number of mirrored services pruned by pull sync",
			},
		),

		LastSuccessfulSync: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "orquest_sync_last_success_timestamp_seconds",
				Help: "Unix time of the last successful pull sync",
			},
		),

		WebhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orquest_webhook_events_total",
				Help: "Total number of webhook events received",
			},
			[]string{"event_type", "status"},
		),

		ProviderRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orquest_provider_requests_total",
				Help: "Total number of requests made to the Orquest API",
			},
			[]string{"endpoint", "status"},
		),

		ProviderRequestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orquest_provider_request_duration_seconds",
				Help:    "Duration of requests to the Orquest API",
				Buckets: prometheus.DefBuckets,
			},
		),

		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orquest_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orquest_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		ServicesMirrored: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "orquest_services_mirrored",
				Help: "Number of services currently in the mirror table",
			},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orquest_http_requests_total",
				Help: "Total number of HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orquest_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "orquest_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orquest_component_health",
				Help: "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "orquest_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "orquest_goroutines",
				Help: "Number of running goroutines",
			},
		),
	}
}

// RecordSyncRun records the outcome of a pull sync
func (m *PrometheusMetrics) RecordSyncRun(trigger, status string, duration time.Duration) {
	m.SyncRunsTotal.WithLabelValues(trigger, status).Inc()
	m.SyncDuration.Observe(duration.Seconds())
	if status == "success" {
		m.LastSuccessfulSync.SetToCurrentTime()
	}
}

// RecordServicesUpserted adds n upserted services
func (m *PrometheusMetrics) RecordServicesUpserted(n int) {
	m.ServicesUpsertedTotal.Add(float64(n))
}

// RecordServiceFailures adds n skipped service records
func (m *PrometheusMetrics) RecordServiceFailures(n int) {
	m.ServiceFailuresTotal.Add(float64(n))
}

// RecordServicesPruned adds n pruned services
func (m *PrometheusMetrics) RecordServicesPruned(n int) {
	m.ServicesPrunedTotal.Add(float64(n))
}

// RecordWebhookEvent records a received webhook event
func (m *PrometheusMetrics) RecordWebhookEvent(eventType, status string) {
	m.WebhookEventsTotal.WithLabelValues(eventType, status).Inc()
}

// RecordProviderRequest records a request to the Orquest API
func (m *PrometheusMetrics) RecordProviderRequest(endpoint, status string, duration time.Duration) {
	m.ProviderRequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.ProviderRequestDuration.Observe(duration.Seconds())
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// UpdateServicesMirrored updates the mirrored service count
func (m *PrometheusMetrics) UpdateServicesMirrored(count int64) {
	m.ServicesMirrored.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
