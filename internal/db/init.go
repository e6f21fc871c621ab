// Package db opens the relational storage engine behind the store and
// creates its schema: current secrets, append-only history and metadata.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS secrets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project TEXT NOT NULL,
    environment TEXT NOT NULL,
    key TEXT NOT NULL,
    encrypted_value TEXT NOT NULL,
    description TEXT,
    lineage TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    UNIQUE(project, environment, key)
);

CREATE TABLE IF NOT EXISTS secret_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project TEXT NOT NULL,
    environment TEXT NOT NULL,
    key TEXT NOT NULL,
    encrypted_value TEXT NOT NULL,
    lineage TEXT NOT NULL DEFAULT '',
    version INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    deleted_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_secret_history_identity
    ON secret_history(project, environment, key, version);

CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS secrets (
    id BIGSERIAL PRIMARY KEY,
    project TEXT NOT NULL,
    environment TEXT NOT NULL,
    key TEXT NOT NULL,
    encrypted_value TEXT NOT NULL,
    description TEXT,
    lineage TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    UNIQUE(project, environment, key)
);

CREATE TABLE IF NOT EXISTS secret_history (
    id BIGSERIAL PRIMARY KEY,
    project TEXT NOT NULL,
    environment TEXT NOT NULL,
    key TEXT NOT NULL,
    encrypted_value TEXT NOT NULL,
    lineage TEXT NOT NULL DEFAULT '',
    version INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    deleted_at TEXT
);

ALTER TABLE secrets ADD COLUMN IF NOT EXISTS lineage TEXT NOT NULL DEFAULT '';
ALTER TABLE secret_history ADD COLUMN IF NOT EXISTS lineage TEXT NOT NULL DEFAULT '';

CREATE INDEX IF NOT EXISTS idx_secret_history_identity
    ON secret_history(project, environment, key, version);

CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Open connects to the storage engine selected by driver. For sqlite target
// is a file path, for postgres a connection string.
func Open(driver, target string) (*sql.DB, error) {
	switch driver {
	case DriverSQLite, "":
		return InitSQLite(target)
	case DriverPostgres:
		return InitPostgres(target)
	}
	return nil, fmt.Errorf("unknown storage driver %q", driver)
}

// InitSQLite opens (creating if needed) the store file at path and applies
// the schema. The directory is created 0700 and the file restricted to 0600.
//
// A single connection is used and transactions begin IMMEDIATE, so two
// processes writing the same file serialize at transaction boundaries.
func InitSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := applySQLiteSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(path, 0o600); err != nil {
		db.Close()
		return nil, fmt.Errorf("restrict store permissions: %w", err)
	}
	return db, nil
}

// InitPostgres connects to a PostgreSQL store and applies the schema.
func InitPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.Exec(postgresSchema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return db, nil
}

func applySQLiteSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	// Stores created before lineages existed lack the column.
	for _, table := range []string{"secrets", "secret_history"} {
		if err := ensureLineageColumn(ctx, db, table); err != nil {
			return err
		}
	}
	return nil
}

func ensureLineageColumn(ctx context.Context, db *sql.DB, table string) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid      int
			name     string
			colType  string
			notNull  int
			defValue sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defValue, &pk); err != nil {
			return fmt.Errorf("scan %s columns: %w", table, err)
		}
		if name == "lineage" {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	rows.Close()

	if _, err := db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN lineage TEXT NOT NULL DEFAULT ''", table)); err != nil {
		return fmt.Errorf("add lineage to %s: %w", table, err)
	}
	return nil
}

// Exists reports whether a sqlite store file is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
