package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Manager handles all application metrics
type Manager struct {
	prometheus *PrometheusMetrics
	gatherer   prometheus.Gatherer
	logger     *logrus.Entry
	startTime  time.Time
}

// NewManager creates a new metrics manager registered on reg. A nil reg
// uses the default registry; a *prometheus.Registry is also used to serve
// the scrape endpoint.
func NewManager(reg prometheus.Registerer) *Manager {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	return &Manager{
		prometheus: NewPrometheusMetrics(reg),
		gatherer:   gatherer,
		logger:     logrus.WithField("component", "metrics"),
		startTime:  time.Now(),
	}
}

// GetPrometheusMetrics returns the Prometheus metrics instance
func (m *Manager) GetPrometheusMetrics() *PrometheusMetrics {
	return m.prometheus
}

// Handler serves the registry in the Prometheus exposition format
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// UpdateSystemMetrics updates system-level metrics like memory and goroutines
func (m *Manager) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.prometheus.UpdateMemoryUsage(memStats.Alloc)
	m.prometheus.UpdateGoroutineCount(runtime.NumGoroutine())
	m.prometheus.UpdateApplicationUptime(m.startTime)

	m.logger.WithFields(logrus.Fields{
		"heap_alloc": memStats.Alloc,
		"goroutines": runtime.NumGoroutine(),
	}).Debug("System metrics updated")
}

// Uptime returns how long the manager has existed
func (m *Manager) Uptime() time.Duration {
	return time.Since(m.startTime)
}
