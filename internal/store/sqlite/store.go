package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	_ "modernc.org/sqlite"
)

const (
	// DriverModernc is the pure-Go driver registered by modernc.org/sqlite.
	DriverModernc = "sqlite"
	// DriverCGO is the mattn/go-sqlite3 driver pulled in by gorm.io/driver/sqlite.
	DriverCGO = "sqlite3"
)

// Open opens a SQLite database file through gorm.
func Open(path, driverName string) (*gorm.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if driverName == "" {
		driverName = DriverModernc
	}
	dsn, err := buildDSN(path, driverName)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: driverName, DSN: dsn}), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		// SQLite + WAL: small pool keeps lock contention low.
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return db, nil
}

func buildDSN(path, driverName string) (string, error) {
	switch driverName {
	case DriverModernc:
		// _time_format=sqlite writes sortable timestamps so range queries compare correctly.
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite", path), nil
	case DriverCGO:
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path), nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver: %s", driverName)
	}
}
