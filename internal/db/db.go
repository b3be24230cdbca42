package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/glebarez/go-sqlite"
)

var defaultDB *sql.DB

const (
	createTableSQL = `
CREATE TABLE IF NOT EXISTS file_crc_memo_tab (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	location VARCHAR(4096) NOT NULL,
	file_modtime BIGINT NOT NULL,
	file_size BIGINT NOT NULL,
	crc32 VARCHAR(8) NOT NULL,
	header_checked INTEGER NOT NULL DEFAULT 0,
	header_name VARCHAR(32) NOT NULL DEFAULT '',
	headerless_size BIGINT NOT NULL DEFAULT 0,
	headerless_crc32 VARCHAR(8) NOT NULL DEFAULT '',
	create_time BIGINT NOT NULL
);`

	createIndexSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_file_crc_memo_tab_location
ON file_crc_memo_tab(location);`
)

// OpenMemory creates a private in-memory database that lives as long as the
// returned handle. Nothing is persisted between runs.
func OpenMemory(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// SetDefault assigns the global database instance.
func SetDefault(db *sql.DB) {
	defaultDB = db
}

// Default returns the configured global database instance.
func Default() *sql.DB {
	return defaultDB
}

// EnsureSchema initialises required tables and indexes.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, createIndexSQL); err != nil {
		return err
	}
	return nil
}
