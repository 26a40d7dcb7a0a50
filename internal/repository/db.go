package repository

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/timmy/dataexec/internal/config"
	"github.com/timmy/dataexec/internal/logger"
)

// Dialector returns the gorm dialector for driver.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres", "postgresql":
		// simple protocol keeps transaction poolers working
		return postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: true}), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite", "sqlite3":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// InitDB opens the database described by cfg and runs migrations.
// Parameters:
//   - cfg: database configuration including driver and connection settings.
//   - models: models migrated when cfg.AutoMigrate is set.
//
// Returns:
//   - *gorm.DB: initialized database handle.
//   - error: non-nil if connection or migration fails.
func InitDB(cfg *config.DatabaseConfig, models ...interface{}) (*gorm.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	logger.Info("[DB] Initializing %s database", driver)

	if driver == "sqlite" && cfg.Path != "" && cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dialector, err := Dialector(driver, cfg.DSN())
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	if driver == "sqlite" {
		db.Exec("PRAGMA journal_mode=WAL")
		db.Exec("PRAGMA busy_timeout=5000")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB instance: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if cfg.AutoMigrate && len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return db, nil
}

// Close releases the connection pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
