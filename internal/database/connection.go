package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// DB wraps the sql.DB handle for the file-backed clinical store.
type DB struct {
	SQL  *sql.DB
	path string
	log  *logrus.Logger
}

// Open opens (creating if needed) the SQLite database file and applies
// pending schema migrations.
func Open(dbPath string, logger *logrus.Logger) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	// WAL mode for better read concurrency during report generation.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	logger.WithField("path", dbPath).Info("Clinical store opened")

	return &DB{SQL: db, path: dbPath, log: logger}, nil
}

// Health checks the database connection.
func (db *DB) Health() error {
	return db.SQL.Ping()
}

// Close closes the database handle.
func (db *DB) Close() error {
	if db.SQL != nil {
		db.log.Info("Clinical store closed")
		return db.SQL.Close()
	}
	return nil
}
