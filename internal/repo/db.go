// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and PostgreSQL, plus schema migrations.
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-qa-backend/internal/domain"
)

// Supported values for the DB_DRIVER setting.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown database driver")

// Open opens the database selected by driver. For sqlite, dsn is a file path;
// for postgres it is a connection URL or key/value DSN.
func Open(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case DriverSQLite, "":
		return OpenSQLite(dsn)
	case DriverPostgres:
		return OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// sqlitePragmas tune SQLite for a single-process service with concurrent
// readers: WAL lets reads proceed during the engine's write transactions and
// busy_timeout turns brief lock contention into waiting instead of errors.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// pool holds connection pool limits for one dialect.
type pool struct {
	maxOpen, maxIdle int
	idleTime, life   time.Duration
}

var (
	sqlitePool   = pool{maxOpen: 10, maxIdle: 10, idleTime: 5 * time.Minute, life: 30 * time.Minute}
	postgresPool = pool{maxOpen: 25, maxIdle: 10, idleTime: 5 * time.Minute, life: 30 * time.Minute}
)

func (p pool) apply(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(p.maxOpen)
	sqlDB.SetMaxIdleConns(p.maxIdle)
	sqlDB.SetConnMaxIdleTime(p.idleTime)
	sqlDB.SetConnMaxLifetime(p.life)
	return nil
}

// OpenSQLite opens (or creates) the SQLite file at path. The parent directory
// must exist.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	for _, p := range sqlitePragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return finish(db, sqlitePool)
}

// OpenPostgres opens a PostgreSQL database through pgx.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return finish(db, postgresPool)
}

func finish(db *gorm.DB, p pool) (*gorm.DB, error) {
	if err := p.apply(db); err != nil {
		return nil, err
	}
	if err := instrument(db); err != nil {
		return nil, err
	}
	return db, nil
}

// instrument registers the OpenTelemetry GORM plugin so every query becomes
// a child span of the request span carried in the statement context.
func instrument(db *gorm.DB) error {
	return db.Use(tracing.NewPlugin(tracing.WithoutMetrics()))
}

// AutoMigrate creates or updates the schema for all persisted models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Question{},
		&domain.Answer{},
		&domain.Vote{},
		&domain.Notification{},
		&domain.Idempotency{},
	)
}

// IsPostgres reports whether db talks to PostgreSQL.
func IsPostgres(db *gorm.DB) bool {
	return db != nil && db.Dialector != nil && db.Dialector.Name() == DriverPostgres
}

// forUpdate adds a row lock to reads inside a transaction where the dialect
// supports it. SQLite serializes writers at the database level instead.
func forUpdate(db *gorm.DB) *gorm.DB {
	if IsPostgres(db) {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}
