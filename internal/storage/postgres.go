package storage

import (
	"database/sql"
	"net/url"
	"strings"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/orquest-service-sync/pkg/utils"
)

// PostgreSQLStorage implements Storage interface using PostgreSQL
type PostgreSQLStorage struct {
	*sqlStorage
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		sqlStorage: newSQLStorage(config, postgresDialect, GetPostgresMigrations()),
	}
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	dsn, err := postgresDSN(p.config.ConnectionString, p.config.Credential)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeConfiguration, "Invalid PostgreSQL connection string", err)
	}

	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err)
	}
	db := sql.OpenDB(connector)

	p.configurePool(db)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err)
	}

	p.db = db
	p.logger.WithFields(logrus.Fields{
		"backend":    "postgres",
		"connection": dsn,
	}).Info("PostgreSQL database connected")

	return nil
}

// postgresDSN injects the service credential as the connection password.
// Both URL and key=value forms are accepted.
func postgresDSN(conn, credential string) (string, error) {
	if credential == "" {
		return conn, nil
	}

	if strings.HasPrefix(conn, "postgres://") || strings.HasPrefix(conn, "postgresql://") {
		u, err := url.Parse(conn)
		if err != nil {
			return "", err
		}
		username := ""
		if u.User != nil {
			username = u.User.Username()
		}
		u.User = url.UserPassword(username, credential)
		return u.String(), nil
	}

	if strings.Contains(conn, "password=") {
		return conn, nil
	}
	return strings.TrimSpace(conn) + " password='" + strings.ReplaceAll(credential, "'", `\'`) + "'", nil
}
