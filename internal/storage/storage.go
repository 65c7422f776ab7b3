// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/orquest-service-sync/internal/models"
)

// Storage defines the interface for the service mirror and its audit tables
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Service mirror operations
	UpsertService(ctx context.Context, service *models.Service) error
	PatchService(ctx context.Context, patch *models.ServicePatch) error
	DeleteService(ctx context.Context, id string) error
	GetService(ctx context.Context, id string) (*models.Service, error)
	GetServices(ctx context.Context, filter models.ServiceFilter) ([]*models.Service, error)
	GetServiceIDs(ctx context.Context) ([]string, error)
	GetServiceCount(ctx context.Context) (int64, error)

	// Sync run history
	SaveSyncRun(ctx context.Context, run *models.SyncRun) error
	GetSyncRuns(ctx context.Context, limit int) ([]*models.SyncRun, error)

	// Webhook audit trail
	SaveWebhookEvent(ctx context.Context, record *models.WebhookEventRecord) error
	GetWebhookEvents(ctx context.Context, filter models.WebhookEventFilter) ([]*models.WebhookEventRecord, error)

	// Statistics and monitoring
	GetStats(ctx context.Context) (*StorageStats, error)
	GetHealth(ctx context.Context) *HealthStatus
}

// StorageStats provides storage statistics
type StorageStats struct {
	Backend             string     `json:"backend"`
	TotalServices       int64      `json:"total_services"`
	LatestServiceUpdate *time.Time `json:"latest_service_update,omitempty"`
	TotalSyncRuns       int64      `json:"total_sync_runs"`
	FailedSyncRuns      int64      `json:"failed_sync_runs"`
	LastSuccessfulSync  *time.Time `json:"last_successful_sync,omitempty"`
	TotalWebhookEvents  int64      `json:"total_webhook_events"`
	FailedWebhookEvents int64      `json:"failed_webhook_events"`
}

// HealthStatus is the result of a storage health check
type HealthStatus struct {
	Healthy      bool          `json:"healthy"`
	Backend      string        `json:"backend"`
	ResponseTime time.Duration `json:"response_time"`
	OpenConns    int           `json:"open_connections"`
	Error        string        `json:"error,omitempty"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	Credential       string        `json:"-"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
