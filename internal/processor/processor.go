// File: internal/processor/processor.go
package processor

import (
	"bytes"
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

// Store is the part of storage the webhook processor needs
type Store interface {
	PatchService(ctx context.Context, patch *models.ServicePatch) error
	DeleteService(ctx context.Context, id string) error
	GetService(ctx context.Context, id string) (*models.Service, error)
	SaveWebhookEvent(ctx context.Context, record *models.WebhookEventRecord) error
}

// EventProcessor applies Orquest webhook events to the mirror table
type EventProcessor struct {
	store          Store
	validator      *EventValidator
	config         *config.WebhookConfig
	logger         *logrus.Entry
	metricsManager *metrics.Manager
	now            func() time.Time

	mu    sync.RWMutex
	stats *ProcessorStats
}

// ProcessResult contains the result of processing a single event
type ProcessResult struct {
	RecordID       string        `json:"record_id,omitempty"`
	EventType      string        `json:"event_type"`
	ServiceID      string        `json:"service_id,omitempty"`
	Status         string        `json:"status"`
	ProcessedAt    time.Time     `json:"processed_at"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// ProcessorStats provides processor statistics
type ProcessorStats struct {
	StartTime     time.Time  `json:"start_time"`
	TotalEvents   uint64     `json:"total_events"`
	Processed     uint64     `json:"processed"`
	Ignored       uint64     `json:"ignored"`
	SkippedStale  uint64     `json:"skipped_stale"`
	Failed        uint64     `json:"failed"`
	LastEventAt   *time.Time `json:"last_event_at,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
	LastErrorTime *time.Time `json:"last_error_time,omitempty"`
}

// NewEventProcessor creates a new event processor. metricsManager may be nil.
func NewEventProcessor(store Store, cfg *config.WebhookConfig, metricsManager *metrics.Manager) *EventProcessor {
	if cfg == nil {
		cfg = &config.WebhookConfig{}
	}
	return &EventProcessor{
		store:          store,
		validator:      NewEventValidator(),
		config:         cfg,
		logger:         utils.GetLogger().WithField("component", "webhook_processor"),
		metricsManager: metricsManager,
		now:            func() time.Time { return time.Now().UTC() },
		stats:          &ProcessorStats{StartTime: time.Now().UTC()},
	}
}

// ProcessPayload decodes a raw webhook body and processes it
func (ep *EventProcessor) ProcessPayload(ctx context.Context, body []byte) (*ProcessResult, error) {
	var event models.ServiceEvent
	if err := json.Unmarshal(body, &event); err != nil {
		ep.logger.WithError(err).Warn("Rejected malformed webhook body")
		appErr := utils.WrapAppError(utils.ErrCodeValidation, "Invalid request body", err)
		ep.recordMalformed(ctx, body, appErr)
		return nil, appErr
	}
	return ep.process(ctx, &event, body)
}

// recordMalformed dead-letters a body that did not decode. The event type
// and service id are read on a best-effort basis.
func (ep *EventProcessor) recordMalformed(ctx context.Context, body []byte, err error) {
	var envelope struct {
		EventType string          `json:"event_type"`
		ServiceID json.RawMessage `json:"service_id"`
	}
	_ = json.Unmarshal(body, &envelope)

	event := &models.ServiceEvent{EventType: envelope.EventType}
	var id models.ProviderID
	if id.UnmarshalJSON(envelope.ServiceID) == nil {
		event.ServiceID = id
	}

	result := &ProcessResult{
		EventType:   event.EventType,
		ServiceID:   string(event.ServiceID),
		Status:      models.WebhookStatusFailed,
		ProcessedAt: ep.now(),
	}
	ep.record(ctx, event, body, result, err)
	ep.updateStats(result, err)
}

// ProcessEvent processes a single decoded event
func (ep *EventProcessor) ProcessEvent(ctx context.Context, event *models.ServiceEvent) (*ProcessResult, error) {
	raw, _ := json.Marshal(event)
	return ep.process(ctx, event, raw)
}

func (ep *EventProcessor) process(ctx context.Context, event *models.ServiceEvent, raw []byte) (*ProcessResult, error) {
	start := ep.now()
	result := &ProcessResult{
		EventType:   event.EventType,
		ServiceID:   string(event.ServiceID),
		ProcessedAt: start,
	}
	logger := ep.logger.WithFields(logrus.Fields{
		"event_type": event.EventType,
		"service_id": result.ServiceID,
	})

	var err error
	switch {
	case !event.IsKnown():
		logger.Info("Ignoring unrecognised webhook event")
		result.Status = models.WebhookStatusIgnored

	default:
		if err = ep.validator.ValidateEvent(event); err != nil {
			break
		}
		if event.EventType == models.EventServiceDeleted {
			err = ep.applyDelete(ctx, event)
			if err == nil {
				result.Status = models.WebhookStatusProcessed
			}
			break
		}
		result.Status, err = ep.applyUpsert(ctx, event)
	}

	if err != nil {
		result.Status = models.WebhookStatusFailed
		logger.WithError(err).Error("Failed to process webhook event")
	} else {
		logger.WithField("status", result.Status).Info("Webhook event handled")
	}

	result.ProcessingTime = ep.now().Sub(start)
	result.RecordID = ep.record(ctx, event, raw, result, err)
	ep.updateStats(result, err)

	return result, err
}

// applyUpsert handles service_created and service_updated identically. Only
// the fields present in data overwrite an existing row.
func (ep *EventProcessor) applyUpsert(ctx context.Context, event *models.ServiceEvent) (string, error) {
	updatedAt := event.Timestamp.Time
	if updatedAt.IsZero() {
		updatedAt = ep.now()
	}

	patch, err := models.ServiceFromEvent(string(event.ServiceID), event.Data, updatedAt)
	if err != nil {
		return "", utils.WrapAppError(utils.ErrCodeValidation, "Invalid service data", err)
	}

	if ep.config.RejectStaleEvents && !event.Timestamp.IsZero() {
		stale, err := ep.isStale(ctx, &patch.Service)
		if err != nil {
			return "", err
		}
		if stale {
			return models.WebhookStatusSkippedStale, nil
		}
	}

	if err := ep.store.PatchService(ctx, patch); err != nil {
		return "", err
	}
	return models.WebhookStatusProcessed, nil
}

// isStale reports whether the stored row is newer than the incoming one.
// The read and the write are separate statements, so a concurrent writer can
// still slip in between them.
func (ep *EventProcessor) isStale(ctx context.Context, incoming *models.Service) (bool, error) {
	existing, err := ep.store.GetService(ctx, incoming.ID)
	if utils.HasCode(err, utils.ErrCodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return existing.UpdatedAt.After(incoming.UpdatedAt), nil
}

func (ep *EventProcessor) applyDelete(ctx context.Context, event *models.ServiceEvent) error {
	return ep.store.DeleteService(ctx, string(event.ServiceID))
}

// record writes the audit row. Failures are logged only.
func (ep *EventProcessor) record(ctx context.Context, event *models.ServiceEvent, raw []byte, result *ProcessResult, procErr error) string {
	if ep.metricsManager != nil {
		ep.metricsManager.GetPrometheusMetrics().RecordWebhookEvent(metricEventType(event), result.Status)
	}

	if !ep.config.RecordEvents {
		return ""
	}

	rec := &models.WebhookEventRecord{
		ID:         utils.GenerateID(),
		EventType:  event.EventType,
		ServiceID:  result.ServiceID,
		Status:     result.Status,
		ReceivedAt: result.ProcessedAt,
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
		if json.Valid(trimmed) {
			rec.Payload = json.RawMessage(trimmed)
		} else if quoted, err := json.Marshal(string(trimmed)); err == nil {
			// Undecodable bodies are kept as a JSON string
			rec.Payload = quoted
		}
	}
	if procErr != nil {
		msg := procErr.Error()
		rec.Error = &msg
	}
	if !event.Timestamp.IsZero() {
		ts := event.Timestamp.UTC()
		rec.EventTimestamp = &ts
	}

	if err := ep.store.SaveWebhookEvent(ctx, rec); err != nil {
		ep.logger.WithError(err).WithField("record_id", rec.ID).Warn("Failed to record webhook event")
		return ""
	}
	return rec.ID
}

// metricEventType bounds label cardinality for unknown event types
func metricEventType(event *models.ServiceEvent) string {
	if event.IsKnown() {
		return event.EventType
	}
	return "unknown"
}

func (ep *EventProcessor) updateStats(result *ProcessResult, err error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.stats.TotalEvents++
	at := result.ProcessedAt
	ep.stats.LastEventAt = &at

	switch result.Status {
	case models.WebhookStatusProcessed:
		ep.stats.Processed++
	case models.WebhookStatusIgnored:
		ep.stats.Ignored++
	case models.WebhookStatusSkippedStale:
		ep.stats.SkippedStale++
	case models.WebhookStatusFailed:
		ep.stats.Failed++
	}

	if err != nil {
		msg := err.Error()
		ep.stats.LastError = &msg
		ep.stats.LastErrorTime = &at
	}
}

// GetStats returns a copy of the processor statistics
func (ep *EventProcessor) GetStats() *ProcessorStats {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	stats := *ep.stats
	return &stats
}
