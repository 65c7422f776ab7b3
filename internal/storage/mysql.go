package storage

import (
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/orquest-service-sync/pkg/utils"
)

// MySQLStorage implements Storage interface using MySQL
type MySQLStorage struct {
	*sqlStorage
}

// NewMySQLStorage creates a new MySQL storage instance
func NewMySQLStorage(config *StorageConfig) *MySQLStorage {
	return &MySQLStorage{
		sqlStorage: newSQLStorage(config, mysqlDialect, GetMySQLMigrations()),
	}
}

// Connect establishes database connection
func (m *MySQLStorage) Connect() error {
	cfg, err := mysqlConfig(m.config.ConnectionString, m.config.Credential)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeConfiguration, "Invalid MySQL connection string", err)
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to open MySQL database", err)
	}
	db := sql.OpenDB(connector)

	m.configurePool(db)

	if err := db.Ping(); err != nil {
		db.Close()
		return utils.WrapAppError(utils.ErrCodeDatabase, "Failed to ping MySQL database", err)
	}

	m.db = db
	m.logger.WithFields(logrus.Fields{
		"backend":    "mysql",
		"connection": cfg.FormatDSN(),
	}).Info("MySQL database connected")

	return nil
}

// mysqlConfig parses the DSN, injects the credential and forces time
// columns to decode as UTC time.Time.
func mysqlConfig(conn, credential string) (*mysql.Config, error) {
	cfg, err := mysql.ParseDSN(conn)
	if err != nil {
		return nil, err
	}
	if credential != "" {
		cfg.Passwd = credential
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg, nil
}
