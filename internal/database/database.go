// Package database opens the GORM connection shared by the ledger binaries.
package database

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/dtledger/internal/store/gormstore"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Handle is an open database with its resolved driver.
type Handle struct {
	DB     *gorm.DB
	Driver string
	close  func() error
}

// Close releases the underlying connection pool.
func (handle Handle) Close() error {
	if handle.close == nil {
		return nil
	}
	return handle.close()
}

// Open connects to dsn. postgres:// URLs use the pgx-backed postgres driver; anything else is a sqlite path.
func Open(ctx context.Context, dsn string) (Handle, error) {
	driver, sqlitePath, err := ResolveDriver(dsn)
	if err != nil {
		return Handle{}, err
	}

	config := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}
	var db *gorm.DB
	switch driver {
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), config)
	case DriverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), config)
	default:
		return Handle{}, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return Handle{}, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return Handle{}, err
	}
	if driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	return Handle{DB: db.WithContext(ctx), Driver: driver, close: sqlDB.Close}, nil
}

// ResolveDriver maps a connection string to a driver name and, for sqlite, a file path.
func ResolveDriver(dsn string) (string, string, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return "", "", fmt.Errorf("database url is required")
	}
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		return DriverPostgres, "", nil
	}
	if strings.HasPrefix(trimmed, "sqlite://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = "dtledger.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return DriverSQLite, sqlitePath, err
	}
	sqlitePath, err := normalizeSQLitePath(trimmed)
	return DriverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(".", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// PrepareSchema migrates every ledger table on sqlite. Postgres schemas are managed by migrations.
func PrepareSchema(handle Handle) error {
	if handle.Driver != DriverSQLite {
		return nil
	}
	if err := handle.DB.AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
