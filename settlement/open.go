package settlement

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Config selects and locates a store backend
type Config struct {
	Driver string
	// DSN is the postgres connection string
	DSN string
	// Path is the sqlite file or badger directory
	Path string
}

// Backend is a Store that holds resources until closed
type Backend interface {
	Store
	Close() error
}

type memoryBackend struct {
	*MemoryStore
}

func (memoryBackend) Close() error { return nil }

// Open creates the store backend named by cfg.Driver
func Open(cfg Config) (Backend, error) {
	switch cfg.Driver {
	case DriverMemory:
		return memoryBackend{NewMemoryStore()}, nil

	case DriverSQLite, "":
		path := cfg.Path
		if path == "" {
			path = "data/settlements.db"
		}
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		return openGorm(sqlite.Open(path), "sqlite")

	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres store requires a dsn")
		}
		return openGorm(postgres.Open(cfg.DSN), "postgres")

	case DriverBadger:
		path := cfg.Path
		if path == "" {
			path = "data/settlements"
		}
		store, err := NewBadgerStore(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
}

// openGorm connects through dialector and migrates the schema.
// The connection is closed again if migration fails.
func openGorm(dialector gorm.Dialector, name string) (Backend, error) {
	db, err := gorm.Open(dialector, gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", name, err)
	}
	store, err := NewGormStore(db)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return store, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}
}

func ensureDir(path string) error {
	if path == ":memory:" || filepath.Dir(path) == "." {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}
