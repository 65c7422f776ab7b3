package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smartdevs17/orquest-service-sync/internal/config"
	"github.com/smartdevs17/orquest-service-sync/internal/metrics"
	"github.com/smartdevs17/orquest-service-sync/internal/models"
	"github.com/smartdevs17/orquest-service-sync/internal/storage"
	"github.com/smartdevs17/orquest-service-sync/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) storage.Storage {
	t.Helper()

	store, err := storage.NewStorage(&config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "services.db"),
		MaxConnections:   4,
	})
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())
	return store
}

func newProcessor(t *testing.T, cfg *config.WebhookConfig) (*EventProcessor, storage.Storage) {
	t.Helper()
	store := newStore(t)
	return NewEventProcessor(store, cfg, metrics.NewManager(prometheus.NewRegistry())), store
}

func TestProcessCreatedEvent(t *testing.T) {
	ep, store := newProcessor(t, &config.WebhookConfig{RecordEvents: true})
	ctx := context.Background()

	body := []byte(`{
		"event_type": "service_created",
		"service_id": "42",
		"data": {"name": "Valencia", "latitude": 39.47, "longitude": -0.376, "timezone": "Europe/Madrid"},
		"timestamp": "2024-05-01T10:00:00Z"
	}`)

	result, err := ep.ProcessPayload(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusProcessed, result.Status)
	assert.Equal(t, "42", result.ServiceID)
	assert.NotEmpty(t, result.RecordID)

	service, err := store.GetService(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "Valencia", *service.Name)
	assert.Equal(t, "Europe/Madrid", *service.Timezone)
	assert.True(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC).Equal(service.UpdatedAt))

	records, err := store.GetWebhookEvents(ctx, models.WebhookEventFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.EventServiceCreated, records[0].EventType)
	assert.Equal(t, models.WebhookStatusProcessed, records[0].Status)
	require.NotNil(t, records[0].EventTimestamp)
}

func TestReplayedEventsAreIdempotent(t *testing.T) {
	ep, store := newProcessor(t, nil)
	ctx := context.Background()

	body := []byte(`{"event_type":"service_updated","service_id":"7","data":{"name":"Malaga"},"timestamp":1714557600000}`)

	for i := 0; i < 3; i++ {
		_, err := ep.ProcessPayload(ctx, body)
		require.NoError(t, err)
	}

	services, err := store.GetServices(ctx, models.ServiceFilter{})
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, "Malaga", *services[0].Name)
	assert.True(t, time.UnixMilli(1714557600000).Equal(services[0].UpdatedAt))

	// created and updated share one path
	_, err = ep.ProcessPayload(ctx, []byte(`{"event_type":"service_created","service_id":"7","data":{"name":"Malaga"},"timestamp":1714557600000}`))
	require.NoError(t, err)
	count, err := store.GetServiceCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ep, store := newProcessor(t, nil)
	ctx := context.Background()
	require.NoError(t, store.UpsertService(ctx, &models.Service{ID: "9", UpdatedAt: time.Now()}))

	for i := 0; i < 2; i++ {
		result, err := ep.ProcessPayload(ctx, []byte(`{"event_type":"service_deleted","service_id":"9"}`))
		require.NoError(t, err)
		assert.Equal(t, models.WebhookStatusProcessed, result.Status)
	}

	result, err := ep.ProcessPayload(ctx, []byte(`{"event_type":"service_deleted","service_id":"never-existed"}`))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusProcessed, result.Status)

	count, err := store.GetServiceCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUnknownEventPassthrough(t *testing.T) {
	ep, store := newProcessor(t, &config.WebhookConfig{RecordEvents: true})
	ctx := context.Background()
	require.NoError(t, store.UpsertService(ctx, &models.Service{ID: "1", Name: models.StringPtr("Madrid"), UpdatedAt: time.Now()}))

	result, err := ep.ProcessPayload(ctx, []byte(`{"event_type":"employee_hired","service_id":"1","data":{"name":"X"}}`))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusIgnored, result.Status)
	assert.Equal(t, "employee_hired", result.EventType)

	service, err := store.GetService(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Madrid", *service.Name)

	// Unknown types skip validation entirely
	result, err = ep.ProcessPayload(ctx, []byte(`{"event_type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusIgnored, result.Status)

	assert.Equal(t, uint64(2), ep.GetStats().Ignored)
}

func TestLastProcessedEventWins(t *testing.T) {
	ep, store := newProcessor(t, nil)
	ctx := context.Background()

	newer := []byte(`{"event_type":"service_updated","service_id":"5","data":{"name":"Newer"},"timestamp":"2024-05-01T12:00:00Z"}`)
	older := []byte(`{"event_type":"service_updated","service_id":"5","data":{"name":"Older"},"timestamp":"2024-05-01T11:00:00Z"}`)

	_, err := ep.ProcessPayload(ctx, newer)
	require.NoError(t, err)
	_, err = ep.ProcessPayload(ctx, older)
	require.NoError(t, err)

	service, err := store.GetService(ctx, "5")
	require.NoError(t, err)
	assert.Equal(t, "Older", *service.Name)
	assert.True(t, time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC).Equal(service.UpdatedAt))
}

func TestRejectStaleEvents(t *testing.T) {
	ep, store := newProcessor(t, &config.WebhookConfig{RejectStaleEvents: true})
	ctx := context.Background()

	newer := []byte(`{"event_type":"service_updated","service_id":"5","data":{"name":"Newer"},"timestamp":"2024-05-01T12:00:00Z"}`)
	older := []byte(`{"event_type":"service_updated","service_id":"5","data":{"name":"Older"},"timestamp":"2024-05-01T11:00:00Z"}`)

	_, err := ep.ProcessPayload(ctx, newer)
	require.NoError(t, err)
	result, err := ep.ProcessPayload(ctx, older)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusSkippedStale, result.Status)

	service, err := store.GetService(ctx, "5")
	require.NoError(t, err)
	assert.Equal(t, "Newer", *service.Name)

	// Events without a timestamp are never considered stale
	_, err = ep.ProcessPayload(ctx, []byte(`{"event_type":"service_updated","service_id":"5","data":{"name":"Untimed"}}`))
	require.NoError(t, err)
	service, err = store.GetService(ctx, "5")
	require.NoError(t, err)
	assert.Equal(t, "Untimed", *service.Name)
}

func TestMissingTimestampUsesNow(t *testing.T) {
	ep, store := newProcessor(t, nil)
	ctx := context.Background()

	_, err := ep.ProcessPayload(ctx, []byte(`{"event_type":"service_created","service_id":11}`))
	require.NoError(t, err)

	service, err := store.GetService(ctx, "11")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), service.UpdatedAt, time.Minute)
	assert.Nil(t, service.Name)
	assert.Nil(t, service.RawPayload)
}

func TestValidationErrors(t *testing.T) {
	ep, store := newProcessor(t, &config.WebhookConfig{RecordEvents: true})
	ctx := context.Background()

	tests := []struct {
		name string
		body string
	}{
		{"missing service id", `{"event_type":"service_created","data":{"name":"X"}}`},
		{"blank service id", `{"event_type":"service_deleted","service_id":"  "}`},
		{"data not an object", `{"event_type":"service_updated","service_id":"1","data":[1,2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ep.ProcessPayload(ctx, []byte(tt.body))
			require.Error(t, err)
			assert.True(t, utils.HasCode(err, utils.ErrCodeValidation))
			assert.Equal(t, models.WebhookStatusFailed, result.Status)
		})
	}

	deadLetters, err := store.GetWebhookEvents(ctx, models.WebhookEventFilter{
		Status: models.StringPtr(models.WebhookStatusFailed),
	})
	require.NoError(t, err)
	assert.Len(t, deadLetters, len(tests))
}

func TestMalformedBody(t *testing.T) {
	ep, store := newProcessor(t, &config.WebhookConfig{RecordEvents: true})
	ctx := context.Background()

	result, err := ep.ProcessPayload(ctx, []byte(`{"event_type":`))
	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeValidation))

	// Decodes as JSON but not as an event envelope
	result, err = ep.ProcessPayload(ctx, []byte(`{"event_type":"service_created","service_id":{"nested":true}}`))
	assert.Nil(t, result)
	assert.True(t, utils.HasCode(err, utils.ErrCodeValidation))

	deadLetters, err := store.GetWebhookEvents(ctx, models.WebhookEventFilter{
		Status: models.StringPtr(models.WebhookStatusFailed),
	})
	require.NoError(t, err)
	require.Len(t, deadLetters, 2)

	byType := map[string]*models.WebhookEventRecord{}
	for _, record := range deadLetters {
		byType[record.EventType] = record
	}
	truncated := byType[""]
	require.NotNil(t, truncated)
	assert.JSONEq(t, `"{\"event_type\":"`, string(truncated.Payload))
	require.NotNil(t, truncated.Error)
	assert.Contains(t, *truncated.Error, "Invalid request body")

	nested := byType[models.EventServiceCreated]
	require.NotNil(t, nested)
	assert.JSONEq(t, `{"event_type":"service_created","service_id":{"nested":true}}`, string(nested.Payload))

	assert.Equal(t, uint64(2), ep.GetStats().Failed)
}

func TestEventTimestampForms(t *testing.T) {
	ep, store := newProcessor(t, nil)
	ctx := context.Background()
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		timestamp string
		expected  time.Time
	}{
		{"rfc3339", `"2024-05-01T10:00:00Z"`, want},
		{"fractional seconds", `"2024-05-01T10:00:00.250Z"`, want.Add(250 * time.Millisecond)},
		{"numeric offset", `"2024-05-01T10:00:00+0000"`, want},
		{"numeric offset non-utc", `"2024-05-01T12:00:00+0200"`, want},
		{"colon offset", `"2024-05-01T12:00:00+02:00"`, want},
		{"no zone", `"2024-05-01T10:00:00"`, want},
		{"space separator", `"2024-05-01 10:00:00"`, want},
		{"date only", `"2024-05-01"`, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"unix milliseconds", `1714557600000`, want},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := fmt.Sprintf("ts-%d", i)
			body := fmt.Sprintf(`{"event_type":"service_updated","service_id":%q,"timestamp":%s}`, id, tt.timestamp)

			result, err := ep.ProcessPayload(ctx, []byte(body))
			require.NoError(t, err)
			assert.Equal(t, models.WebhookStatusProcessed, result.Status)

			service, err := store.GetService(ctx, id)
			require.NoError(t, err)
			assert.True(t, tt.expected.Equal(service.UpdatedAt), "got %s", service.UpdatedAt)
		})
	}
}

func TestUnparseableTimestamp(t *testing.T) {
	ep, store := newProcessor(t, &config.WebhookConfig{RecordEvents: true})
	ctx := context.Background()

	// Unknown events never look at the timestamp
	result, err := ep.ProcessPayload(ctx, []byte(`{"event_type":"service_archived","service_id":"1","timestamp":"2024-05-01T10:00:00 CEST"}`))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusIgnored, result.Status)

	result, err = ep.ProcessPayload(ctx, []byte(`{"event_type":"service_created","service_id":"1","timestamp":"yesterday"}`))
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeValidation))
	assert.Contains(t, err.Error(), "timestamp")
	assert.Equal(t, models.WebhookStatusFailed, result.Status)

	_, err = store.GetService(ctx, "1")
	assert.True(t, utils.HasCode(err, utils.ErrCodeNotFound))
}

func TestPartialUpdateKeepsUnsuppliedFields(t *testing.T) {
	ep, store := newProcessor(t, nil)
	ctx := context.Background()

	_, err := ep.ProcessPayload(ctx, []byte(`{"event_type":"service_created","service_id":"1",
		"data":{"name":"A","latitude":1.5,"longitude":2.5,"timezone":"Europe/Madrid","code":"MAD-1"},
		"timestamp":"2024-05-01T10:00:00Z"}`))
	require.NoError(t, err)

	_, err = ep.ProcessPayload(ctx, []byte(`{"event_type":"service_updated","service_id":"1",
		"data":{"name":"B"},"timestamp":"2024-05-01T11:00:00Z"}`))
	require.NoError(t, err)

	service, err := store.GetService(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "B", *service.Name)
	require.NotNil(t, service.Latitude)
	assert.Equal(t, 1.5, *service.Latitude)
	require.NotNil(t, service.Longitude)
	assert.Equal(t, 2.5, *service.Longitude)
	require.NotNil(t, service.Timezone)
	assert.Equal(t, "Europe/Madrid", *service.Timezone)
	assert.True(t, time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC).Equal(service.UpdatedAt))
	assert.JSONEq(t, `{"name":"B","latitude":1.5,"longitude":2.5,"timezone":"Europe/Madrid","code":"MAD-1"}`,
		string(service.RawPayload))

	// An explicit null clears the column
	_, err = ep.ProcessPayload(ctx, []byte(`{"event_type":"service_updated","service_id":"1","data":{"timezone":null}}`))
	require.NoError(t, err)
	service, err = store.GetService(ctx, "1")
	require.NoError(t, err)
	assert.Nil(t, service.Timezone)
	assert.Equal(t, "B", *service.Name)

	// No data only moves updated_at
	_, err = ep.ProcessPayload(ctx, []byte(`{"event_type":"service_updated","service_id":"1","timestamp":"2024-05-02T09:00:00Z"}`))
	require.NoError(t, err)
	service, err = store.GetService(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "B", *service.Name)
	assert.Equal(t, 1.5, *service.Latitude)
	assert.True(t, time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC).Equal(service.UpdatedAt))
}

// brokenStore fails every write
type brokenStore struct {
	storage.Storage
}

func (b *brokenStore) PatchService(ctx context.Context, patch *models.ServicePatch) error {
	return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to patch service", errors.New("disk I/O error"))
}

func TestDatabaseErrorPropagates(t *testing.T) {
	store := &brokenStore{Storage: newStore(t)}
	ep := NewEventProcessor(store, &config.WebhookConfig{RecordEvents: true}, nil)
	ctx := context.Background()

	result, err := ep.ProcessPayload(ctx, []byte(`{"event_type":"service_updated","service_id":"1"}`))
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeDatabase))
	assert.Equal(t, models.WebhookStatusFailed, result.Status)

	stats := ep.GetStats()
	assert.Equal(t, uint64(1), stats.Failed)
	require.NotNil(t, stats.LastError)
	assert.Contains(t, *stats.LastError, "disk I/O error")
}

func TestProcessEvent(t *testing.T) {
	ep, store := newProcessor(t, nil)
	ctx := context.Background()

	event := &models.ServiceEvent{
		EventType: models.EventServiceCreated,
		ServiceID: "3",
		Data:      json.RawMessage(`{"name":"Bilbao"}`),
	}
	result, err := ep.ProcessEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusProcessed, result.Status)

	service, err := store.GetService(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, "Bilbao", *service.Name)
}
