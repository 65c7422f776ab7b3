package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/orquest-service-sync/internal/metrics"
	"github.com/smartdevs17/orquest-service-sync/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics
type StorageWithMetrics struct {
	Storage
	metricsManager *metrics.Manager
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, metricsManager *metrics.Manager) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage:        storage,
		metricsManager: metricsManager,
	}
}

func (s *StorageWithMetrics) record(operation, table string, start time.Time, err error) {
	if s.metricsManager == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	s.metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(
		operation,
		table,
		status,
		time.Since(start),
	)
}

// UpsertService upserts a service and records metrics
func (s *StorageWithMetrics) UpsertService(ctx context.Context, service *models.Service) error {
	start := time.Now()
	err := s.Storage.UpsertService(ctx, service)
	s.record("upsert", "services", start, err)
	return err
}

// PatchService applies a webhook patch and records metrics
func (s *StorageWithMetrics) PatchService(ctx context.Context, patch *models.ServicePatch) error {
	start := time.Now()
	err := s.Storage.PatchService(ctx, patch)
	s.record("patch", "services", start, err)
	return err
}

// DeleteService deletes a service and records metrics
func (s *StorageWithMetrics) DeleteService(ctx context.Context, id string) error {
	start := time.Now()
	err := s.Storage.DeleteService(ctx, id)
	s.record("delete", "services", start, err)
	return err
}

// GetServices lists services and records metrics
func (s *StorageWithMetrics) GetServices(ctx context.Context, filter models.ServiceFilter) ([]*models.Service, error) {
	start := time.Now()
	services, err := s.Storage.GetServices(ctx, filter)
	s.record("select", "services", start, err)
	return services, err
}

// GetServiceCount counts services and refreshes the mirrored gauge
func (s *StorageWithMetrics) GetServiceCount(ctx context.Context) (int64, error) {
	start := time.Now()
	count, err := s.Storage.GetServiceCount(ctx)
	s.record("count", "services", start, err)
	if err == nil && s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().UpdateServicesMirrored(count)
	}
	return count, err
}

// SaveSyncRun saves a sync run and records metrics
func (s *StorageWithMetrics) SaveSyncRun(ctx context.Context, run *models.SyncRun) error {
	start := time.Now()
	err := s.Storage.SaveSyncRun(ctx, run)
	s.record("insert", "sync_runs", start, err)
	return err
}

// SaveWebhookEvent saves a webhook record and records metrics
func (s *StorageWithMetrics) SaveWebhookEvent(ctx context.Context, record *models.WebhookEventRecord) error {
	start := time.Now()
	err := s.Storage.SaveWebhookEvent(ctx, record)
	s.record("insert", "webhook_events", start, err)
	return err
}
