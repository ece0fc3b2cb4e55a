package storedb

import (
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Handles bundles the two connections kvsync keeps open against one file:
// a single-connection write handle (SQLite allows one writer at a time)
// and a multi-connection read-only handle used for concurrent reads and
// for reading a merge source without blocking its own writers.
type Handles struct {
	Write *gorm.DB
	Read  *gorm.DB
}

// Close releases both underlying *sql.DB connections.
func (h Handles) Close() error {
	var firstErr error
	if h.Write != nil {
		if sqlDB, err := h.Write.DB(); err == nil {
			if closeErr := sqlDB.Close(); closeErr != nil && firstErr == nil {
				firstErr = closeErr
			}
		}
	}
	if h.Read != nil {
		if sqlDB, err := h.Read.DB(); err == nil {
			if closeErr := sqlDB.Close(); closeErr != nil && firstErr == nil {
				firstErr = closeErr
			}
		}
	}
	return firstErr
}

// Open establishes the write and read-only connections to path, applies
// WAL pragmas and runs schema migrations. path must be a real file path;
// kvsync does not support anonymous in-memory stores outside of tests.
func Open(path string, appLogger *zap.Logger) (Handles, error) {
	if path == "" {
		return Handles{}, fmt.Errorf("storedb: database path is required")
	}

	gormConfig := &gorm.Config{Logger: logger.Discard}

	writeDB, err := gorm.Open(sqlite.Open(path), gormConfig)
	if err != nil {
		return Handles{}, fmt.Errorf("storedb: opening write handle: %w", err)
	}
	if err := configureConnection(writeDB, 1); err != nil {
		return Handles{}, err
	}
	if err := applyPragmas(writeDB); err != nil {
		return Handles{}, err
	}

	clock := func() int64 { return time.Now().UTC().Unix() }
	if err := Migrate(writeDB, clock); err != nil {
		return Handles{}, err
	}

	readDB, err := gorm.Open(sqlite.Open("file:"+path+"?mode=ro"), gormConfig)
	if err != nil {
		return Handles{}, fmt.Errorf("storedb: opening read handle: %w", err)
	}
	if err := configureConnection(readDB, 4); err != nil {
		return Handles{}, err
	}

	if appLogger != nil {
		appLogger.Debug("storedb opened", zap.String("path", path))
	}

	return Handles{Write: writeDB, Read: readDB}, nil
}

func configureConnection(db *gorm.DB, maxOpen int) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("storedb: accessing sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	return nil
}

func applyPragmas(db *gorm.DB) error {
	statements := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, statement := range statements {
		if err := db.Exec(statement).Error; err != nil {
			return fmt.Errorf("storedb: applying pragma %q: %w", statement, err)
		}
	}
	return nil
}
