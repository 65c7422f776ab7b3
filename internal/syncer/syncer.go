// Package syncer pulls the full Orquest service list into the local mirror.
package syncer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/orquest-service-sync/internal/config"
	"github.com/smartdevs17/orquest-service-sync/internal/metrics"
	"github.com/smartdevs17/orquest-service-sync/internal/models"
	"github.com/smartdevs17/orquest-service-sync/pkg/utils"
)

// ErrAPIKeyMissing is returned before any work when no provider credentials
// are configured
var ErrAPIKeyMissing = utils.NewAppError(utils.ErrCodeConfiguration, "Orquest API key not configured")

// ServiceLister fetches the provider's service list
type ServiceLister interface {
	HasAPIKey() bool
	ListServices(ctx context.Context) ([]json.RawMessage, error)
}

// Store is the part of storage the syncer writes to
type Store interface {
	UpsertService(ctx context.Context, service *models.Service) error
	DeleteService(ctx context.Context, id string) error
	GetServiceIDs(ctx context.Context) ([]string, error)
	SaveSyncRun(ctx context.Context, run *models.SyncRun) error
}

// Syncer reconciles the mirror table with the provider's full service list
type Syncer struct {
	lister         ServiceLister
	store          Store
	config         *config.SyncConfig
	logger         *logrus.Entry
	metricsManager *metrics.Manager
	now            func() time.Time

	mu         sync.RWMutex
	lastResult *models.SyncResult
}

// New creates a new Syncer. metricsManager may be nil.
func New(lister ServiceLister, store Store, cfg *config.SyncConfig, metricsManager *metrics.Manager) *Syncer {
	if cfg == nil {
		cfg = &config.SyncConfig{}
	}
	return &Syncer{
		lister:         lister,
		store:          store,
		config:         cfg,
		logger:         utils.GetLogger().WithField("component", "syncer"),
		metricsManager: metricsManager,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// HasAPIKey reports whether the provider credentials are configured
func (s *Syncer) HasAPIKey() bool {
	return s.lister.HasAPIKey()
}

// SyncAll fetches every service from Orquest and upserts it. A failed fetch
// is reported in the result, not as an error; the only error is a missing
// API key.
func (s *Syncer) SyncAll(ctx context.Context, trigger string) (*models.SyncResult, error) {
	if !s.lister.HasAPIKey() {
		s.logger.WithField("trigger", trigger).Warn("Sync requested without Orquest API key")
		return nil, ErrAPIKeyMissing
	}

	start := s.now()
	run := &models.SyncRun{
		ID:        utils.GenerateID(),
		Trigger:   trigger,
		StartedAt: start,
	}
	logger := s.logger.WithFields(logrus.Fields{
		"run_id":  run.ID,
		"trigger": trigger,
	})
	logger.Info("Starting service sync")

	records, err := s.lister.ListServices(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to fetch services from Orquest")
		result := &models.SyncResult{
			Success: false,
			Error:   err.Error(),
			RunID:   run.ID,
		}
		s.finish(ctx, run, result, start)
		return result, nil
	}

	result := &models.SyncResult{RunID: run.ID, ServicesFetched: len(records)}
	seen := make(map[string]struct{}, len(records))
	parseFailures := 0

	for i, record := range records {
		service, err := models.ServiceFromRecord(record, s.now())
		if err != nil {
			logger.WithError(err).WithField("index", i).Warn("Skipping unparseable service record")
			result.ServicesFailed++
			parseFailures++
			continue
		}
		seen[service.ID] = struct{}{}

		if err := s.store.UpsertService(ctx, service); err != nil {
			logger.WithError(err).WithField("service_id", service.ID).Warn("Failed to upsert service")
			result.ServicesFailed++
			continue
		}
		result.ServicesUpdated++
	}

	if s.config.PruneMissing {
		result.ServicesPruned = s.prune(ctx, logger, seen, parseFailures)
	}

	finished := s.now()
	result.Success = true
	result.LastSync = &finished
	s.finish(ctx, run, result, start)

	logger.WithFields(logrus.Fields{
		"fetched": result.ServicesFetched,
		"updated": result.ServicesUpdated,
		"failed":  result.ServicesFailed,
		"pruned":  result.ServicesPruned,
	}).Info("Service sync completed")

	return result, nil
}

// prune deletes mirrored services absent from the fetched set. It does
// nothing when the set is empty or incomplete.
func (s *Syncer) prune(ctx context.Context, logger *logrus.Entry, seen map[string]struct{}, parseFailures int) int {
	if len(seen) == 0 || parseFailures > 0 {
		logger.WithField("parse_failures", parseFailures).Warn("Skipping prune: fetched service set is empty or incomplete")
		return 0
	}

	ids, err := s.store.GetServiceIDs(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to list mirrored services for prune")
		return 0
	}

	pruned := 0
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		if err := s.store.DeleteService(ctx, id); err != nil {
			logger.WithError(err).WithField("service_id", id).Warn("Failed to prune service")
			continue
		}
		pruned++
	}
	return pruned
}

// finish writes the sync run row and records metrics. Neither can change
// the result.
func (s *Syncer) finish(ctx context.Context, run *models.SyncRun, result *models.SyncResult, start time.Time) {
	finished := s.now()
	run.FinishedAt = &finished
	run.ServicesFetched = result.ServicesFetched
	run.ServicesUpdated = result.ServicesUpdated
	run.ServicesFailed = result.ServicesFailed
	run.ServicesPruned = result.ServicesPruned
	run.Status = models.SyncStatusSuccess
	if !result.Success {
		run.Status = models.SyncStatusFailed
		run.Error = &result.Error
	}

	if err := s.store.SaveSyncRun(ctx, run); err != nil {
		s.logger.WithError(err).WithField("run_id", run.ID).Warn("Failed to record sync run")
	}

	if s.metricsManager != nil {
		m := s.metricsManager.GetPrometheusMetrics()
		m.RecordSyncRun(run.Trigger, run.Status, finished.Sub(start))
		m.RecordServicesUpserted(result.ServicesUpdated)
		m.RecordServiceFailures(result.ServicesFailed)
		m.RecordServicesPruned(result.ServicesPruned)
	}

	s.mu.Lock()
	s.lastResult = result
	s.mu.Unlock()
}

// LastResult returns the outcome of the most recent sync, or nil
func (s *Syncer) LastResult() *models.SyncResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastResult
}
