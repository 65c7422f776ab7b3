package storage

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	Statements  []string
}

// Portable across sqlite, postgres and mysql.
const migrationsTableSQL = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version VARCHAR(32) PRIMARY KEY,
		description VARCHAR(255) NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create services table",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS services (
					id TEXT PRIMARY KEY,
					name TEXT,
					latitude REAL,
					longitude REAL,
					timezone TEXT,
					raw_payload TEXT, -- JSON
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_services_updated_at ON services(updated_at)`,
			},
		},
		{
			Version:     "002",
			Description: "Create sync_runs table",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS sync_runs (
					id TEXT PRIMARY KEY,
					trigger_source TEXT NOT NULL,
					status TEXT NOT NULL,
					started_at DATETIME NOT NULL,
					finished_at DATETIME,
					services_fetched INTEGER NOT NULL DEFAULT 0,
					services_updated INTEGER NOT NULL DEFAULT 0,
					services_failed INTEGER NOT NULL DEFAULT 0,
					services_pruned INTEGER NOT NULL DEFAULT 0,
					error_message TEXT
				)`,
				`CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at)`,
			},
		},
		{
			Version:     "003",
			Description: "Create webhook_events table",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS webhook_events (
					id TEXT PRIMARY KEY,
					event_type TEXT NOT NULL,
					service_id TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL,
					payload TEXT,
					error_message TEXT,
					event_timestamp DATETIME,
					received_at DATETIME NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_webhook_events_status ON webhook_events(status)`,
				`CREATE INDEX IF NOT EXISTS idx_webhook_events_received_at ON webhook_events(received_at)`,
			},
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create services table",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS services (
					id TEXT PRIMARY KEY,
					name TEXT,
					latitude DOUBLE PRECISION,
					longitude DOUBLE PRECISION,
					timezone TEXT,
					raw_payload JSONB,
					updated_at TIMESTAMPTZ NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_services_updated_at ON services(updated_at)`,
			},
		},
		{
			Version:     "002",
			Description: "Create sync_runs table",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS sync_runs (
					id TEXT PRIMARY KEY,
					trigger_source TEXT NOT NULL,
					status TEXT NOT NULL,
					started_at TIMESTAMPTZ NOT NULL,
					finished_at TIMESTAMPTZ,
					services_fetched INTEGER NOT NULL DEFAULT 0,
					services_updated INTEGER NOT NULL DEFAULT 0,
					services_failed INTEGER NOT NULL DEFAULT 0,
					services_pruned INTEGER NOT NULL DEFAULT 0,
					error_message TEXT
				)`,
				`CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at)`,
			},
		},
		{
			Version:     "003",
			Description: "Create webhook_events table",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS webhook_events (
					id TEXT PRIMARY KEY,
					event_type TEXT NOT NULL,
					service_id TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL,
					payload TEXT,
					error_message TEXT,
					event_timestamp TIMESTAMPTZ,
					received_at TIMESTAMPTZ NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_webhook_events_status ON webhook_events(status)`,
				`CREATE INDEX IF NOT EXISTS idx_webhook_events_received_at ON webhook_events(received_at)`,
			},
		},
	}
}

// GetMySQLMigrations returns MySQL migration scripts. MySQL has no
// CREATE INDEX IF NOT EXISTS, so indexes are declared inline.
func GetMySQLMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create services table",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS services (
					id VARCHAR(191) NOT NULL PRIMARY KEY,
					name TEXT NULL,
					latitude DOUBLE NULL,
					longitude DOUBLE NULL,
					timezone VARCHAR(64) NULL,
					raw_payload JSON NULL,
					updated_at DATETIME(6) NOT NULL,
					INDEX idx_services_updated_at (updated_at)
				) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			},
		},
		{
			Version:     "002",
			Description: "Create sync_runs table",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS sync_runs (
					id VARCHAR(64) NOT NULL PRIMARY KEY,
					trigger_source VARCHAR(32) NOT NULL,
					status VARCHAR(32) NOT NULL,
					started_at DATETIME(6) NOT NULL,
					finished_at DATETIME(6) NULL,
					services_fetched INT NOT NULL DEFAULT 0,
					services_updated INT NOT NULL DEFAULT 0,
					services_failed INT NOT NULL DEFAULT 0,
					services_pruned INT NOT NULL DEFAULT 0,
					error_message TEXT NULL,
					INDEX idx_sync_runs_started_at (started_at)
				) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			},
		},
		{
			Version:     "003",
			Description: "Create webhook_events table",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS webhook_events (
					id VARCHAR(64) NOT NULL PRIMARY KEY,
					event_type VARCHAR(128) NOT NULL,
					service_id VARCHAR(191) NOT NULL DEFAULT '',
					status VARCHAR(32) NOT NULL,
					payload LONGTEXT NULL,
					error_message TEXT NULL,
					event_timestamp DATETIME(6) NULL,
					received_at DATETIME(6) NOT NULL,
					INDEX idx_webhook_events_status (status),
					INDEX idx_webhook_events_received_at (received_at)
				) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			},
		},
	}
}
