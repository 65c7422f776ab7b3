// File: internal/server/server.go
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/orquest-service-sync/internal/metrics"
	"github.com/smartdevs17/orquest-service-sync/internal/models"
	"github.com/smartdevs17/orquest-service-sync/internal/processor"
	"github.com/smartdevs17/orquest-service-sync/internal/scheduler"
	"github.com/smartdevs17/orquest-service-sync/internal/storage"
	"github.com/smartdevs17/orquest-service-sync/pkg/utils"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port              int           `json:"port"`
	Host              string        `json:"host"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	EnableMetrics     bool          `json:"enable_metrics"`
	EnableHealth      bool          `json:"enable_health"`
	CORSAllowedOrigin string        `json:"cors_allowed_origin"`
	Version           string        `json:"version"`

	// Webhook receiver
	WebhookSecret   string `json:"-"`
	SignatureHeader string `json:"signature_header"`
	MaxBodyBytes    int64  `json:"max_body_bytes"`
}

// Syncer runs a pull sync on request
type Syncer interface {
	HasAPIKey() bool
	SyncAll(ctx context.Context, trigger string) (*models.SyncResult, error)
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         *ServerConfig
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	syncer         Syncer
	processor      *processor.EventProcessor
	scheduler      *scheduler.Scheduler
	metricsManager *metrics.Manager
	logger         *logrus.Logger

	stopChan chan struct{}
}

// NewHTTPServer creates a new HTTP server. scheduler and metricsManager may
// be nil.
func NewHTTPServer(
	config *ServerConfig,
	storage storage.Storage,
	syncer Syncer,
	processor *processor.EventProcessor,
	scheduler *scheduler.Scheduler,
	metricsManager *metrics.Manager,
) (*HTTPServer, error) {
	if storage == nil || syncer == nil || processor == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Server requires storage, syncer and processor")
	}
	if config.CORSAllowedOrigin == "" {
		config.CORSAllowedOrigin = "*"
	}
	if config.SignatureHeader == "" {
		config.SignatureHeader = "X-Orquest-Signature"
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}

	server := &HTTPServer{
		config:         config,
		storage:        storage,
		syncer:         syncer,
		processor:      processor,
		scheduler:      scheduler,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
		stopChan:       make(chan struct{}),
	}

	// Setup router
	server.setupRouter()

	// Create HTTP server
	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server, nil
}

// Handler returns the root handler, for tests and embedding
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	// Preflight for every path; the CORS middleware answers it
	s.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	// Function endpoints
	functions := s.router.PathPrefix("/functions/v1").Subrouter()
	functions.HandleFunc("/orquest-sync", s.syncHandler).Methods(http.MethodPost)
	functions.HandleFunc("/orquest-webhook", s.webhookHandler).Methods(http.MethodPost)

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Health check endpoint
	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods(http.MethodGet)
	}

	// Metrics endpoint
	if s.config.EnableMetrics && s.metricsManager != nil {
		s.router.Handle("/metrics", s.metricsManager.Handler()).Methods(http.MethodGet)
		api.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	}

	// Mirror read endpoints
	api.HandleFunc("/services", s.listServicesHandler).Methods(http.MethodGet)
	api.HandleFunc("/services/{id}", s.getServiceHandler).Methods(http.MethodGet)
	api.HandleFunc("/sync/runs", s.listSyncRunsHandler).Methods(http.MethodGet)
	api.HandleFunc("/webhooks/events", s.listWebhookEventsHandler).Methods(http.MethodGet)
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
		"signed_webhooks": s.config.WebhookSecret != "",
	}).Info("Starting HTTP server")

	// Immediately update system and component metrics so they appear on first scrape
	if s.metricsManager != nil {
		s.updateComponentMetrics()
		go s.systemMetricsUpdater()
	}

	// Create a channel to receive startup errors
	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to start and check for immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.updateComponentMetrics()
		}
	}
}

func (s *HTTPServer) updateComponentMetrics() {
	s.metricsManager.UpdateSystemMetrics()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := s.metricsManager.GetPrometheusMetrics()
	m.UpdateComponentHealth("storage", s.storage.GetHealth(ctx).Healthy)
	if s.scheduler != nil {
		m.UpdateComponentHealth("scheduler", s.scheduler.IsRunning())
	}
	if count, err := s.storage.GetServiceCount(ctx); err == nil {
		m.UpdateServicesMirrored(count)
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}
