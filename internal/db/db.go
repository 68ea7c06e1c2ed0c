// Package db opens the identity store and keeps its schema current.
package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"beast/internal/models"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to the configured database. Driver errors are translated so that
// unique-index violations surface as gorm.ErrDuplicatedKey on every backend.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite, "":
		dialector = sqlite.Open(sqliteDSN(dsn))
	default:
		return nil, fmt.Errorf("db: unsupported driver: %s", driver)
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", driver, err)
	}

	if IsSQLite(conn) {
		// SQLite allows a single writer; serialize access instead of failing with SQLITE_BUSY.
		sqlDB, err := conn.DB()
		if err != nil {
			return nil, fmt.Errorf("db: get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return conn, nil
}

// sqliteDSN appends the pragmas the store relies on.
func sqliteDSN(path string) string {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		dsn = "beast.db"
	}
	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = "file:" + dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + strings.Join([]string{
		"_busy_timeout=5000",
		"_foreign_keys=on",
	}, "&")
}

// IsSQLite reports whether the connection uses SQLite.
func IsSQLite(conn *gorm.DB) bool {
	return conn != nil && conn.Dialector != nil && conn.Dialector.Name() == DriverSQLite
}

// Migrate creates or updates the tables used by the identity core.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if err := conn.AutoMigrate(&models.User{}, &models.BootstrapClaim{}, &models.Post{}); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}
