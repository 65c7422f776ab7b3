// File: internal/storage/sqlite.go
package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/orquest-service-sync/pkg/utils"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage interface using SQLite
type SQLiteStorage struct {
	*sqlStorage
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		sqlStorage: newSQLStorage(config, sqliteDialect, GetSQLiteMigrations()),
	}
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	path := sqlitePath(s.config.ConnectionString)

	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "." && dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to create database directory", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(s.config.ConnectionString))
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err)
	}

	s.configurePool(db)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err)
	}

	s.db = db
	s.logger.WithFields(logrus.Fields{
		"backend": "sqlite",
		"path":    path,
	}).Info("SQLite database connected")

	return nil
}

func sqlitePath(conn string) string {
	conn = strings.TrimPrefix(conn, "file:")
	if i := strings.IndexByte(conn, '?'); i >= 0 {
		return conn[:i]
	}
	return conn
}

// sqliteDSN adds the pragmas every connection in the pool needs. The sqlite
// time format is one the driver parses back into time.Time.
func sqliteDSN(conn string) string {
	params := []struct{ marker, param string }{
		{"busy_timeout", "_pragma=busy_timeout(5000)"},
		{"foreign_keys", "_pragma=foreign_keys(1)"},
		{"_time_format", "_time_format=sqlite"},
	}

	var missing []string
	for _, p := range params {
		if !strings.Contains(conn, p.marker) {
			missing = append(missing, p.param)
		}
	}
	if len(missing) == 0 {
		return conn
	}

	sep := "?"
	if strings.Contains(conn, "?") {
		sep = "&"
	}
	return conn + sep + strings.Join(missing, "&")
}
