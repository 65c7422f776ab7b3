package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartdevs17/orquest-service-sync/internal/config"
	"github.com/smartdevs17/orquest-service-sync/internal/models"
	"github.com/smartdevs17/orquest-service-sync/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) Storage {
	t.Helper()

	cfg := &config.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "data", "services.db"),
		MaxConnections:   4,
		MaxIdleTime:      time.Minute,
	}

	store, err := NewStorage(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	return store
}

func TestSQLiteStorage(t *testing.T) {
	store := newTestSQLite(t)
	require.NoError(t, store.Ping())

	t.Run("Service Operations", func(t *testing.T) { testServiceOperations(t, store) })
	t.Run("Sync Runs", func(t *testing.T) { testSyncRuns(t, store) })
	t.Run("Webhook Events", func(t *testing.T) { testWebhookEvents(t, store) })
	t.Run("Statistics", func(t *testing.T) { testStatistics(t, store, "sqlite") })
	t.Run("Service Patches", func(t *testing.T) { testServicePatch(t, store) })
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	store := newTestSQLite(t)

	require.NoError(t, store.Migrate())
	require.NoError(t, store.Migrate())

	count, err := store.GetServiceCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func testServiceOperations(t *testing.T, store Storage) {
	ctx := context.Background()
	updatedAt := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

	service := &models.Service{
		ID:         "svc-1",
		Name:       models.StringPtr("Madrid Centro"),
		Latitude:   models.Float64Ptr(40.4168),
		Longitude:  models.Float64Ptr(-3.7038),
		Timezone:   models.StringPtr("Europe/Madrid"),
		RawPayload: json.RawMessage(`{"id":"svc-1","name":"Madrid Centro"}`),
		UpdatedAt:  updatedAt,
	}
	require.NoError(t, store.UpsertService(ctx, service))

	got, err := store.GetService(ctx, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, "Madrid Centro", *got.Name)
	assert.InDelta(t, 40.4168, *got.Latitude, 1e-9)
	assert.InDelta(t, -3.7038, *got.Longitude, 1e-9)
	assert.Equal(t, "Europe/Madrid", *got.Timezone)
	assert.JSONEq(t, `{"id":"svc-1","name":"Madrid Centro"}`, string(got.RawPayload))
	assert.True(t, updatedAt.Equal(got.UpdatedAt))

	// Same id again replaces the row instead of adding one
	service.Name = models.StringPtr("Madrid Sol")
	service.Latitude = nil
	service.UpdatedAt = updatedAt.Add(time.Hour)
	require.NoError(t, store.UpsertService(ctx, service))
	require.NoError(t, store.UpsertService(ctx, service))

	count, err := store.GetServiceCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err = store.GetService(ctx, "svc-1")
	require.NoError(t, err)
	assert.Equal(t, "Madrid Sol", *got.Name)
	assert.Nil(t, got.Latitude)
	assert.True(t, updatedAt.Add(time.Hour).Equal(got.UpdatedAt))

	// Nullable columns stay null
	require.NoError(t, store.UpsertService(ctx, &models.Service{ID: "svc-2", UpdatedAt: updatedAt}))
	bare, err := store.GetService(ctx, "svc-2")
	require.NoError(t, err)
	assert.Nil(t, bare.Name)
	assert.Nil(t, bare.Timezone)
	assert.Nil(t, bare.RawPayload)

	services, err := store.GetServices(ctx, models.ServiceFilter{Name: models.StringPtr("sol")})
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, "svc-1", services[0].ID)

	ids, err := store.GetServiceIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"svc-1", "svc-2"}, ids)

	paged, err := store.GetServices(ctx, models.ServiceFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "svc-2", paged[0].ID)

	// Deleting a missing id is a no-op
	require.NoError(t, store.DeleteService(ctx, "svc-2"))
	require.NoError(t, store.DeleteService(ctx, "svc-2"))
	require.NoError(t, store.DeleteService(ctx, "never-existed"))

	_, err = store.GetService(ctx, "svc-2")
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeNotFound))

	err = store.UpsertService(ctx, &models.Service{ID: " "})
	assert.True(t, utils.HasCode(err, utils.ErrCodeValidation))
}

func testSyncRuns(t *testing.T, store Storage) {
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	for i, status := range []string{models.SyncStatusSuccess, models.SyncStatusFailed} {
		finished := started.Add(time.Duration(i)*time.Hour + time.Second)
		run := &models.SyncRun{
			ID:              utils.GenerateID(),
			Trigger:         models.TriggerCLI,
			Status:          status,
			StartedAt:       started.Add(time.Duration(i) * time.Hour),
			FinishedAt:      &finished,
			ServicesFetched: 3,
			ServicesUpdated: 3 - i*3,
		}
		if status == models.SyncStatusFailed {
			run.Error = models.StringPtr("upstream returned 503")
		}
		require.NoError(t, store.SaveSyncRun(ctx, run))
	}

	runs, err := store.GetSyncRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Newest first
	assert.Equal(t, models.SyncStatusFailed, runs[0].Status)
	require.NotNil(t, runs[0].Error)
	assert.Equal(t, "upstream returned 503", *runs[0].Error)
	assert.Equal(t, models.SyncStatusSuccess, runs[1].Status)
	assert.Nil(t, runs[1].Error)
	assert.Equal(t, models.TriggerCLI, runs[1].Trigger)
	require.NotNil(t, runs[1].FinishedAt)

	limited, err := store.GetSyncRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func testWebhookEvents(t *testing.T, store Storage) {
	ctx := context.Background()
	eventTime := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	processed := &models.WebhookEventRecord{
		ID:             utils.GenerateID(),
		EventType:      models.EventServiceUpdated,
		ServiceID:      "svc-1",
		Status:         models.WebhookStatusProcessed,
		Payload:        json.RawMessage(`{"event_type":"service_updated","service_id":"svc-1"}`),
		EventTimestamp: &eventTime,
		ReceivedAt:     eventTime.Add(time.Second),
	}
	failed := &models.WebhookEventRecord{
		ID:         utils.GenerateID(),
		EventType:  models.EventServiceCreated,
		ServiceID:  "svc-9",
		Status:     models.WebhookStatusFailed,
		Error:      models.StringPtr("database is locked"),
		ReceivedAt: eventTime.Add(time.Minute),
	}
	require.NoError(t, store.SaveWebhookEvent(ctx, processed))
	require.NoError(t, store.SaveWebhookEvent(ctx, failed))

	all, err := store.GetWebhookEvents(ctx, models.WebhookEventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, failed.ID, all[0].ID)

	deadLetters, err := store.GetWebhookEvents(ctx, models.WebhookEventFilter{
		Status: models.StringPtr(models.WebhookStatusFailed),
	})
	require.NoError(t, err)
	require.Len(t, deadLetters, 1)
	assert.Equal(t, "svc-9", deadLetters[0].ServiceID)
	require.NotNil(t, deadLetters[0].Error)
	assert.Nil(t, deadLetters[0].EventTimestamp)

	bySvc, err := store.GetWebhookEvents(ctx, models.WebhookEventFilter{ServiceID: models.StringPtr("svc-1")})
	require.NoError(t, err)
	require.Len(t, bySvc, 1)
	require.NotNil(t, bySvc[0].EventTimestamp)
	assert.True(t, eventTime.Equal(*bySvc[0].EventTimestamp))
	assert.JSONEq(t, string(processed.Payload), string(bySvc[0].Payload))
}

func testStatistics(t *testing.T, store Storage, backend string) {
	ctx := context.Background()

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, backend, stats.Backend)
	assert.Equal(t, int64(1), stats.TotalServices)
	assert.Equal(t, int64(2), stats.TotalSyncRuns)
	assert.Equal(t, int64(1), stats.FailedSyncRuns)
	assert.Equal(t, int64(2), stats.TotalWebhookEvents)
	assert.Equal(t, int64(1), stats.FailedWebhookEvents)
	assert.NotNil(t, stats.LatestServiceUpdate)
	assert.NotNil(t, stats.LastSuccessfulSync)

	health := store.GetHealth(ctx)
	assert.True(t, health.Healthy)
	assert.Equal(t, backend, health.Backend)
}

func testServicePatch(t *testing.T, store Storage) {
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	// A patch for a new id inserts the whole row
	require.NoError(t, store.PatchService(ctx, &models.ServicePatch{
		Service: models.Service{
			ID:         "patch-1",
			Name:       models.StringPtr("Bilbao"),
			Latitude:   models.Float64Ptr(43.263),
			Longitude:  models.Float64Ptr(-2.935),
			Timezone:   models.StringPtr("Europe/Madrid"),
			RawPayload: json.RawMessage(`{"name":"Bilbao","latitude":43.263,"longitude":-2.935,"timezone":"Europe/Madrid","code":"BIO"}`),
			UpdatedAt:  created,
		},
		Fields: []string{models.ColumnName, models.ColumnLatitude, models.ColumnLongitude, models.ColumnTimezone},
	}))

	// Only name is supplied; the other columns must survive
	require.NoError(t, store.PatchService(ctx, &models.ServicePatch{
		Service: models.Service{
			ID:         "patch-1",
			Name:       models.StringPtr("Bilbao Abando"),
			RawPayload: json.RawMessage(`{"name":"Bilbao Abando"}`),
			UpdatedAt:  created.Add(time.Hour),
		},
		Fields: []string{models.ColumnName},
	}))

	got, err := store.GetService(ctx, "patch-1")
	require.NoError(t, err)
	assert.Equal(t, "Bilbao Abando", *got.Name)
	require.NotNil(t, got.Latitude)
	assert.InDelta(t, 43.263, *got.Latitude, 1e-9)
	require.NotNil(t, got.Longitude)
	assert.InDelta(t, -2.935, *got.Longitude, 1e-9)
	require.NotNil(t, got.Timezone)
	assert.Equal(t, "Europe/Madrid", *got.Timezone)
	assert.True(t, created.Add(time.Hour).Equal(got.UpdatedAt))
	assert.JSONEq(t, `{"name":"Bilbao Abando","latitude":43.263,"longitude":-2.935,"timezone":"Europe/Madrid","code":"BIO"}`,
		string(got.RawPayload))

	// No fields and no payload only moves updated_at
	require.NoError(t, store.PatchService(ctx, &models.ServicePatch{
		Service: models.Service{ID: "patch-1", UpdatedAt: created.Add(2 * time.Hour)},
	}))
	got, err = store.GetService(ctx, "patch-1")
	require.NoError(t, err)
	assert.Equal(t, "Bilbao Abando", *got.Name)
	assert.Equal(t, "Europe/Madrid", *got.Timezone)
	assert.Contains(t, string(got.RawPayload), "BIO")
	assert.True(t, created.Add(2*time.Hour).Equal(got.UpdatedAt))

	err = store.PatchService(ctx, &models.ServicePatch{
		Service: models.Service{ID: "patch-1", UpdatedAt: created},
		Fields:  []string{"raw_payload = NULL, name"},
	})
	assert.True(t, utils.HasCode(err, utils.ErrCodeValidation))

	err = store.PatchService(ctx, &models.ServicePatch{Service: models.Service{ID: " "}})
	assert.True(t, utils.HasCode(err, utils.ErrCodeValidation))

	require.NoError(t, store.DeleteService(ctx, "patch-1"))
}

func TestUpsertServicesClause(t *testing.T) {
	assert.Equal(t,
		"ON CONFLICT (id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at",
		sqliteDialect.upsertServices([]string{"name"}, false))
	assert.Equal(t,
		"ON CONFLICT (id) DO UPDATE SET updated_at = EXCLUDED.updated_at",
		postgresDialect.upsertServices(nil, false))
	assert.Equal(t,
		"ON DUPLICATE KEY UPDATE timezone = VALUES(timezone), "+
			"raw_payload = JSON_MERGE_PATCH(COALESCE(raw_payload, JSON_OBJECT()), VALUES(raw_payload)), "+
			"updated_at = VALUES(updated_at)",
		mysqlDialect.upsertServices([]string{"timezone"}, true))
}

func TestStorageWithMetricsDelegates(t *testing.T) {
	store := NewStorageWithMetrics(newTestSQLite(t), nil)
	ctx := context.Background()

	require.NoError(t, store.UpsertService(ctx, &models.Service{ID: "svc-1", UpdatedAt: time.Now()}))
	count, err := store.GetServiceCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	require.NoError(t, store.DeleteService(ctx, "svc-1"))
}

func TestValidateStorageConfig(t *testing.T) {
	valid := &config.StorageConfig{Type: "mysql", ConnectionString: "user@tcp(localhost:3306)/portal", MaxConnections: 5}
	assert.NoError(t, ValidateStorageConfig(valid))

	tests := []struct {
		name string
		cfg  *config.StorageConfig
	}{
		{"nil config", nil},
		{"missing type", &config.StorageConfig{ConnectionString: "x", MaxConnections: 1}},
		{"missing connection", &config.StorageConfig{Type: "sqlite", MaxConnections: 1}},
		{"zero connections", &config.StorageConfig{Type: "sqlite", ConnectionString: "x"}},
		{"unknown type", &config.StorageConfig{Type: "oracle", ConnectionString: "x", MaxConnections: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStorageConfig(tt.cfg)
			require.Error(t, err)
			assert.True(t, utils.HasCode(err, utils.ErrCodeConfiguration))
		})
	}
}

func TestRebind(t *testing.T) {
	query := "SELECT id FROM services WHERE id = ? AND name = ? LIMIT ?"
	assert.Equal(t, "SELECT id FROM services WHERE id = $1 AND name = $2 LIMIT $3", postgresDialect.rebind(query))
	assert.Equal(t, query, sqliteDialect.rebind(query))
	assert.Equal(t, query, mysqlDialect.rebind(query))
}

func TestCredentialInjection(t *testing.T) {
	dsn, err := postgresDSN("postgres://portal@db:5432/portal?sslmode=disable", "s3cr3t")
	require.NoError(t, err)
	assert.Equal(t, "postgres://portal:s3cr3t@db:5432/portal?sslmode=disable", dsn)

	dsn, err = postgresDSN("host=db user=portal dbname=portal", "s3cr3t")
	require.NoError(t, err)
	assert.Equal(t, "host=db user=portal dbname=portal password='s3cr3t'", dsn)

	dsn, err = postgresDSN("host=db user=portal", "")
	require.NoError(t, err)
	assert.Equal(t, "host=db user=portal", dsn)

	cfg, err := mysqlConfig("portal@tcp(db:3306)/portal", "s3cr3t")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", cfg.Passwd)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, time.UTC, cfg.Loc)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t,
		"./data/services.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite",
		sqliteDSN("./data/services.db"))
	assert.Equal(t,
		"file:x.db?_pragma=busy_timeout(100)&_pragma=foreign_keys(1)&_time_format=sqlite",
		sqliteDSN("file:x.db?_pragma=busy_timeout(100)"))
	assert.Equal(t, "./data/services.db", sqlitePath("file:./data/services.db?mode=rwc"))
}
