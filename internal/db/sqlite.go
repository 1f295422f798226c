package db

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/uxlensHQ/uxlens/internal/collector"
)

type DB struct {
	*gorm.DB
}

// New opens the collector database. The dsn is a sqlite path; ":memory:"
// works for tests and scratch runs.
func New(dsn string) (*DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB: %w", err)
	}

	// sqlite serializes writers anyway; keep the pool tiny.
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return &DB{DB: db}, nil
}

func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (db *DB) AutoMigrate() error {
	if err := db.DB.AutoMigrate(
		&collector.Project{},
		&collector.EventRecord{},
	); err != nil {
		return fmt.Errorf("migrate collector tables: %w", err)
	}
	return nil
}
