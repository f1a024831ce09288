// Package datastore provides the persistent tiers of the media caches: a blob
// store for downloaded media bytes and a waveform store for peak arrays. Each
// store lives in its own database, carries a schema version, and is recreated
// empty when found corrupt on open.
package datastore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
)

const componentDatastore = "datastore"

// Supported drivers
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

var (
	// ErrNotFound is returned when no entry exists for a URL
	ErrNotFound = errors.New(nil).
			Component(componentDatastore).
			Category(errors.CategoryNotFound).
			Context("reason", "entry_not_found").
			Build()

	// ErrIncompatibleSchema is returned when a store was written by a newer version
	ErrIncompatibleSchema = errors.New(nil).
				Component(componentDatastore).
				Category(errors.CategoryDatabase).
				Context("reason", "incompatible_schema").
				Build()

	// ErrIntegrity is returned when the database fails its integrity check
	ErrIntegrity = errors.New(nil).
			Component(componentDatastore).
			Category(errors.CategoryDatabase).
			Context("reason", "integrity_check_failed").
			Build()
)

// Config selects the database backing a store
type Config struct {
	Driver string // sqlite (default) or mysql
	Path   string // sqlite file path
	DSN    string // mysql data source name

	Logger        logger.Logger
	SlowThreshold time.Duration
}

// SchemaMeta records the schema version of one store
type SchemaMeta struct {
	Store     string `gorm:"primaryKey;size:64"`
	Version   int    `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName overrides the gorm table name
func (SchemaMeta) TableName() string { return "schema_meta" }

// schema describes the tables and version of one store
type schema struct {
	name    string
	version int
	models  []any
}

// openDB opens the database for cfg and prepares the schema. A sqlite file
// that cannot be opened, fails its integrity check or was written by a newer
// schema is deleted and recreated empty. The bool result reports a recreate.
func openDB(cfg Config, s schema) (*gorm.DB, bool, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.Global().Module(componentDatastore)
	}
	log = log.With(logger.String("store", s.name))

	db, err := dial(cfg, log)
	if err == nil {
		err = prepare(db, cfg.driver(), s)
	}
	if err == nil {
		return db, false, nil
	}
	closeDB(db)
	if cfg.driver() != DriverSQLite || errors.IsCategory(err, errors.CategoryConfiguration) {
		return nil, false, err
	}

	log.Warn("store unusable, recreating empty",
		logger.String("path", cfg.Path),
		logger.Error(err))
	if rmErr := removeSQLiteFiles(cfg.Path); rmErr != nil {
		return nil, false, errors.New(rmErr).
			Component(componentDatastore).
			Category(errors.CategoryFileIO).
			Context("operation", "recreate_store").
			Context("store", s.name).
			Build()
	}

	db, err = dial(cfg, log)
	if err == nil {
		err = prepare(db, cfg.driver(), s)
	}
	if err != nil {
		closeDB(db)
		return nil, false, err
	}
	return db, true, nil
}

func (c Config) driver() string {
	if c.Driver == "" {
		return DriverSQLite
	}
	return c.Driver
}

func dial(cfg Config, log logger.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.NewGormLoggerAdapter(log, cfg.SlowThreshold)}

	var dialector gorm.Dialector
	switch cfg.driver() {
	case DriverSQLite:
		if cfg.Path == "" {
			return nil, errors.Newf("sqlite store requires a path").
				Component(componentDatastore).
				Category(errors.CategoryConfiguration).
				Build()
		}
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.New(err).
					Component(componentDatastore).
					Category(errors.CategoryConfiguration).
					Context("operation", "create_store_dir").
					Build()
			}
		}
		dialector = sqlite.Open(cfg.Path)
	case DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, errors.Newf("unsupported store driver %q", cfg.Driver).
			Component(componentDatastore).
			Category(errors.CategoryConfiguration).
			Build()
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, errors.New(err).
			Component(componentDatastore).
			Category(errors.CategoryDatabase).
			Context("operation", "open").
			Context("driver", cfg.driver()).
			Build()
	}
	if cfg.driver() == DriverSQLite {
		// sqlite allows one writer; serialize through a single connection
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return db, nil
}

func prepare(db *gorm.DB, driver string, s schema) error {
	if driver == DriverSQLite {
		if err := checkIntegrity(db); err != nil {
			return err
		}
	}

	if err := db.AutoMigrate(&SchemaMeta{}); err != nil {
		return dbError(err, "migrate_meta", s.name)
	}

	var meta SchemaMeta
	err := db.Where("store = ?", s.name).First(&meta).Error
	switch {
	case err == nil && meta.Version > s.version:
		return errors.New(fmt.Errorf("store %s has schema version %d, newest supported is %d: %w",
			s.name, meta.Version, s.version, ErrIncompatibleSchema)).
			Component(componentDatastore).
			Category(errors.CategoryDatabase).
			Context("reason", "incompatible_schema").
			Build()
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		return dbError(err, "read_meta", s.name)
	}

	// AutoMigrate only adds tables, columns and indexes
	if err := db.AutoMigrate(s.models...); err != nil {
		return dbError(err, "migrate", s.name)
	}

	if meta.Version != s.version {
		meta = SchemaMeta{Store: s.name, Version: s.version, UpdatedAt: time.Now()}
		if err := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&meta).Error; err != nil {
			return dbError(err, "write_meta", s.name)
		}
	}
	return nil
}

func checkIntegrity(db *gorm.DB) error {
	var result string
	if err := db.Raw("PRAGMA integrity_check").Scan(&result).Error; err != nil {
		return integrityError(fmt.Errorf("integrity check: %w", err))
	}
	if result != "ok" {
		return integrityError(fmt.Errorf("integrity check reported %q", result))
	}
	return nil
}

func integrityError(err error) error {
	return errors.New(err).
		Component(componentDatastore).
		Category(errors.CategoryDatabase).
		Context("reason", "integrity_check_failed").
		Build()
}

// schemaVersion reads the recorded version of a store
func schemaVersion(ctx context.Context, db *gorm.DB, store string) (int, error) {
	var meta SchemaMeta
	if err := db.WithContext(ctx).Where("store = ?", store).First(&meta).Error; err != nil {
		return 0, dbError(err, "read_meta", store)
	}
	return meta.Version, nil
}

func removeSQLiteFiles(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func closeDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func dbError(err error, operation, store string) error {
	return errors.New(err).
		Component(componentDatastore).
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Context("store", store).
		Build()
}
