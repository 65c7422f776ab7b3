package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/orquest-service-sync/internal/models"
	"github.com/smartdevs17/orquest-service-sync/pkg/utils"
)

// dialect captures the SQL differences between backends
type dialect struct {
	name string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
	// conflict clause opening the services upsert
	onConflict string
	// assignment taking the incoming value; %[1]s is the column
	assignIncoming string
	// assignment merging the incoming raw payload into the stored one
	mergePayload string
}

var (
	sqliteDialect = dialect{
		name:           "sqlite",
		onConflict:     "ON CONFLICT (id) DO UPDATE SET",
		assignIncoming: "%[1]s = excluded.%[1]s",
		mergePayload:   "raw_payload = json_patch(COALESCE(services.raw_payload, '{}'), excluded.raw_payload)",
	}

	postgresDialect = dialect{
		name:           "postgres",
		numbered:       true,
		onConflict:     "ON CONFLICT (id) DO UPDATE SET",
		assignIncoming: "%[1]s = EXCLUDED.%[1]s",
		mergePayload:   "raw_payload = COALESCE(services.raw_payload, '{}'::jsonb) || EXCLUDED.raw_payload",
	}

	mysqlDialect = dialect{
		name:           "mysql",
		onConflict:     "ON DUPLICATE KEY UPDATE",
		assignIncoming: "%[1]s = VALUES(%[1]s)",
		mergePayload:   "raw_payload = JSON_MERGE_PATCH(COALESCE(raw_payload, JSON_OBJECT()), VALUES(raw_payload))",
	}
)

var replacedColumns = []string{"name", "latitude", "longitude", "timezone", "raw_payload"}

// upsertServices returns the conflict clause overwriting columns, optionally
// merging raw_payload, and always taking updated_at
func (d dialect) upsertServices(columns []string, mergePayload bool) string {
	sets := make([]string, 0, len(columns)+2)
	for _, column := range columns {
		sets = append(sets, fmt.Sprintf(d.assignIncoming, column))
	}
	if mergePayload {
		sets = append(sets, d.mergePayload)
	}
	sets = append(sets, fmt.Sprintf(d.assignIncoming, "updated_at"))
	return d.onConflict + " " + strings.Join(sets, ", ")
}

// rebind rewrites ? placeholders for dialects that number them
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlStorage implements every Storage operation except Connect on top of
// database/sql. Backends embed it and open the connection themselves.
type sqlStorage struct {
	db         *sql.DB
	config     *StorageConfig
	dialect    dialect
	logger     *logrus.Logger
	migrations []*Migration
}

func newSQLStorage(config *StorageConfig, d dialect, migrations []*Migration) *sqlStorage {
	return &sqlStorage{
		config:     config,
		dialect:    d,
		logger:     utils.GetLogger(),
		migrations: migrations,
	}
}

func (s *sqlStorage) configurePool(db *sql.DB) {
	if s.config.MaxConnections > 0 {
		db.SetMaxOpenConns(s.config.MaxConnections)
		db.SetMaxIdleConns(max(1, s.config.MaxConnections/2))
	}
	if s.config.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(s.config.MaxIdleTime)
	}
}

// Close closes the database connection
func (s *sqlStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.WithField("backend", s.dialect.name).Info("Database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *sqlStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate applies every migration not yet recorded in schema_migrations
func (s *sqlStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.WithField("backend", s.dialect.name).Info("Starting database migrations")

	if _, err := s.db.Exec(migrationsTableSQL); err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to create migrations table", err)
	}

	for _, migration := range s.migrations {
		var applied int
		err := s.db.QueryRow(s.dialect.rebind("SELECT COUNT(*) FROM schema_migrations WHERE version = ?"),
			migration.Version).Scan(&applied)
		if err != nil {
			return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to read migration state", err)
		}
		if applied > 0 {
			continue
		}

		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		for _, stmt := range migration.Statements {
			if _, err := s.db.Exec(stmt); err != nil {
				return utils.WrapAppError(utils.ErrCodeDatabase,
					fmt.Sprintf("Migration %s failed", migration.Version), err)
			}
		}

		_, err = s.db.Exec(s.dialect.rebind(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)"),
			migration.Version, migration.Description, time.Now().UTC())
		if err != nil {
			return utils.WrapAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Failed to record migration %s", migration.Version), err)
		}
	}

	s.logger.WithField("backend", s.dialect.name).Info("Database migrations completed")
	return nil
}

// UpsertService inserts or replaces a whole service row in one statement
func (s *sqlStorage) UpsertService(ctx context.Context, service *models.Service) error {
	if service == nil || strings.TrimSpace(service.ID) == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Service id is required", "")
	}
	if err := s.insertService(ctx, service, s.dialect.upsertServices(replacedColumns, false)); err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to upsert service", err)
	}
	return nil
}

// PatchService inserts a new row whole, or on an existing row writes only
// the supplied columns, merges the raw payload and takes updated_at
func (s *sqlStorage) PatchService(ctx context.Context, patch *models.ServicePatch) error {
	if patch == nil || strings.TrimSpace(patch.ID) == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Service id is required", "")
	}

	columns := make([]string, 0, len(patch.Fields))
	for _, column := range patch.Fields {
		switch column {
		case models.ColumnName, models.ColumnLatitude, models.ColumnLongitude, models.ColumnTimezone:
			columns = append(columns, column)
		default:
			return utils.NewAppError(utils.ErrCodeValidation, "Unsupported service column", column)
		}
	}

	clause := s.dialect.upsertServices(columns, len(patch.RawPayload) > 0)
	if err := s.insertService(ctx, &patch.Service, clause); err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to patch service", err)
	}
	return nil
}

func (s *sqlStorage) insertService(ctx context.Context, service *models.Service, conflictClause string) error {
	query := `
		INSERT INTO services (id, name, latitude, longitude, timezone, raw_payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		` + conflictClause

	_, err := s.db.ExecContext(ctx, s.dialect.rebind(query),
		service.ID,
		nullString(service.Name),
		nullFloat(service.Latitude),
		nullFloat(service.Longitude),
		nullString(service.Timezone),
		nullJSON(service.RawPayload),
		service.UpdatedAt.UTC(),
	)
	return err
}

// DeleteService removes a service row. A missing row is not an error.
func (s *sqlStorage) DeleteService(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind("DELETE FROM services WHERE id = ?"), id)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to delete service", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.logger.WithField("service_id", id).Debug("Delete matched no service row")
	}
	return nil
}

const serviceColumns = "id, name, latitude, longitude, timezone, raw_payload, updated_at"

// GetService returns one service or a NOT_FOUND error
func (s *sqlStorage) GetService(ctx context.Context, id string) (*models.Service, error) {
	row := s.db.QueryRowContext(ctx,
		s.dialect.rebind("SELECT "+serviceColumns+" FROM services WHERE id = ?"), id)

	service, err := scanService(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Service not found", id)
	}
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to get service", err)
	}
	return service, nil
}

// GetServices lists services ordered by id
func (s *sqlStorage) GetServices(ctx context.Context, filter models.ServiceFilter) ([]*models.Service, error) {
	query := "SELECT " + serviceColumns + " FROM services"
	var args []interface{}

	if filter.Name != nil && *filter.Name != "" {
		query += " WHERE LOWER(name) LIKE ?"
		args = append(args, "%"+strings.ToLower(*filter.Name)+"%")
	}
	query += " ORDER BY id"
	query, args = appendPaging(query, args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to query services", err)
	}
	defer rows.Close()

	var services []*models.Service
	for rows.Next() {
		service, err := scanService(rows)
		if err != nil {
			return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to scan service", err)
		}
		services = append(services, service)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to iterate services", err)
	}
	return services, nil
}

// GetServiceIDs returns every mirrored service id
func (s *sqlStorage) GetServiceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM services ORDER BY id")
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to query service ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to scan service id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetServiceCount returns the number of mirrored services
func (s *sqlStorage) GetServiceCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM services").Scan(&count); err != nil {
		return 0, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to count services", err)
	}
	return count, nil
}

// SaveSyncRun stores a sync run record
func (s *sqlStorage) SaveSyncRun(ctx context.Context, run *models.SyncRun) error {
	query := `
		INSERT INTO sync_runs
		(id, trigger_source, status, started_at, finished_at, services_fetched,
		 services_updated, services_failed, services_pruned, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, s.dialect.rebind(query),
		run.ID, run.Trigger, run.Status, run.StartedAt.UTC(), nullTime(run.FinishedAt),
		run.ServicesFetched, run.ServicesUpdated, run.ServicesFailed, run.ServicesPruned,
		nullString(run.Error))
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to save sync run", err)
	}
	return nil
}

// GetSyncRuns returns the most recent sync runs first
func (s *sqlStorage) GetSyncRuns(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	query := `
		SELECT id, trigger_source, status, started_at, finished_at, services_fetched,
		       services_updated, services_failed, services_pruned, error_message
		FROM sync_runs ORDER BY started_at DESC`
	query, args := appendPaging(query, nil, limit, 0)

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to query sync runs", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		var (
			run        models.SyncRun
			finishedAt sql.NullTime
			errMsg     sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Trigger, &run.Status, &run.StartedAt, &finishedAt,
			&run.ServicesFetched, &run.ServicesUpdated, &run.ServicesFailed, &run.ServicesPruned,
			&errMsg); err != nil {
			return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to scan sync run", err)
		}
		run.StartedAt = run.StartedAt.UTC()
		run.FinishedAt = timePtr(finishedAt)
		run.Error = stringPtr(errMsg)
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to iterate sync runs", err)
	}
	return runs, nil
}

// SaveWebhookEvent stores a webhook audit record
func (s *sqlStorage) SaveWebhookEvent(ctx context.Context, record *models.WebhookEventRecord) error {
	query := `
		INSERT INTO webhook_events
		(id, event_type, service_id, status, payload, error_message, event_timestamp, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	var payload interface{}
	if len(record.Payload) > 0 {
		payload = string(record.Payload)
	}

	_, err := s.db.ExecContext(ctx, s.dialect.rebind(query),
		record.ID, record.EventType, record.ServiceID, record.Status, payload,
		nullString(record.Error), nullTime(record.EventTimestamp), record.ReceivedAt.UTC())
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to save webhook event", err)
	}
	return nil
}

// GetWebhookEvents returns webhook records, newest first
func (s *sqlStorage) GetWebhookEvents(ctx context.Context, filter models.WebhookEventFilter) ([]*models.WebhookEventRecord, error) {
	query := `
		SELECT id, event_type, service_id, status, payload, error_message, event_timestamp, received_at
		FROM webhook_events`

	var (
		conditions []string
		args       []interface{}
	)
	if filter.Status != nil && *filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.ServiceID != nil && *filter.ServiceID != "" {
		conditions = append(conditions, "service_id = ?")
		args = append(args, *filter.ServiceID)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY received_at DESC"
	query, args = appendPaging(query, args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to query webhook events", err)
	}
	defer rows.Close()

	var records []*models.WebhookEventRecord
	for rows.Next() {
		var (
			record    models.WebhookEventRecord
			payload   []byte
			errMsg    sql.NullString
			eventTime sql.NullTime
		)
		if err := rows.Scan(&record.ID, &record.EventType, &record.ServiceID, &record.Status,
			&payload, &errMsg, &eventTime, &record.ReceivedAt); err != nil {
			return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to scan webhook event", err)
		}
		if len(payload) > 0 {
			record.Payload = json.RawMessage(payload)
		}
		record.Error = stringPtr(errMsg)
		record.EventTimestamp = timePtr(eventTime)
		record.ReceivedAt = record.ReceivedAt.UTC()
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to iterate webhook events", err)
	}
	return records, nil
}

// GetStats returns storage statistics
func (s *sqlStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{Backend: s.dialect.name}

	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM services", &stats.TotalServices},
		{"SELECT COUNT(*) FROM sync_runs", &stats.TotalSyncRuns},
		{"SELECT COUNT(*) FROM sync_runs WHERE status = 'failed'", &stats.FailedSyncRuns},
		{"SELECT COUNT(*) FROM webhook_events", &stats.TotalWebhookEvents},
		{"SELECT COUNT(*) FROM webhook_events WHERE status = 'failed'", &stats.FailedWebhookEvents},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to collect storage stats", err)
		}
	}

	// Plain column reads keep the driver's time decoding; aggregates lose it on sqlite.
	latest, err := s.queryTime(ctx, "SELECT updated_at FROM services ORDER BY updated_at DESC LIMIT 1")
	if err != nil {
		return nil, err
	}
	stats.LatestServiceUpdate = latest

	lastSync, err := s.queryTime(ctx,
		"SELECT finished_at FROM sync_runs WHERE status = 'success' ORDER BY started_at DESC LIMIT 1")
	if err != nil {
		return nil, err
	}
	stats.LastSuccessfulSync = lastSync

	return stats, nil
}

func (s *sqlStorage) queryTime(ctx context.Context, query string) (*time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRowContext(ctx, query).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeDatabase, "Failed to collect storage stats", err)
	}
	return timePtr(t), nil
}

// GetHealth checks the database
func (s *sqlStorage) GetHealth(ctx context.Context) *HealthStatus {
	status := &HealthStatus{Backend: s.dialect.name}
	if s.db == nil {
		status.Error = "database not connected"
		return status
	}

	start := time.Now()
	err := s.db.PingContext(ctx)
	status.ResponseTime = time.Since(start)
	status.OpenConns = s.db.Stats().OpenConnections
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Healthy = true
	return status
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanService(row rowScanner) (*models.Service, error) {
	var (
		service   models.Service
		name      sql.NullString
		latitude  sql.NullFloat64
		longitude sql.NullFloat64
		timezone  sql.NullString
		payload   []byte
	)
	if err := row.Scan(&service.ID, &name, &latitude, &longitude, &timezone, &payload, &service.UpdatedAt); err != nil {
		return nil, err
	}

	service.Name = stringPtr(name)
	service.Timezone = stringPtr(timezone)
	if latitude.Valid {
		service.Latitude = &latitude.Float64
	}
	if longitude.Valid {
		service.Longitude = &longitude.Float64
	}
	if len(payload) > 0 {
		service.RawPayload = json.RawMessage(payload)
	}
	service.UpdatedAt = service.UpdatedAt.UTC()
	return &service, nil
}

func appendPaging(query string, args []interface{}, limit, offset int) (string, []interface{}) {
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}
	return query, args
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time.UTC()
	return &v
}
