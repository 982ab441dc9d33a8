package db

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultPath is where the database lives when no path is configured.
	DefaultPath = "./data/tickr.db"

	// MaxOpenConns bounds the pool. SQLite is single-writer, so high
	// connection counts are counterproductive.
	MaxOpenConns = 8

	// MaxIdleConns is the number of idle connections kept warm.
	MaxIdleConns = 2

	// KeyBytes is the SQLCipher key length.
	KeyBytes = 32
)

// DB wraps the sql.DB connection and provides access to typed queries.
type DB struct {
	db      *sql.DB
	queries *Queries
	path    string
}

// NewFromSQL wraps an existing sql.DB. The schema is not touched.
func NewFromSQL(sqlDB *sql.DB) *DB {
	return &DB{
		db:      sqlDB,
		queries: New(sqlDB),
	}
}

// Open opens (creating if needed) the database file at path and applies the
// schema and migrations. A non-empty hexKey enables SQLCipher encryption.
func Open(path, hexKey string) (*DB, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn := path
	if hexKey != "" {
		key, err := hex.DecodeString(hexKey)
		if err != nil || len(key) != KeyBytes {
			return nil, fmt.Errorf("database key must be %d hex-encoded bytes", KeyBytes)
		}
		// Format: file.db?_pragma_key=x'HEX_KEY'&_pragma_cipher_page_size=4096
		dsn = fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", path, hexKey)
	}
	dsn = appendSQLiteParams(dsn, sqliteCommonParams())

	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)

	// A wrong key only shows up on the first real read.
	var sqliteVersion string
	if err := sqlDB.QueryRow("SELECT sqlite_version()").Scan(&sqliteVersion); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}

	d := NewFromSQL(sqlDB)
	d.path = path
	if err := d.Migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return d, nil
}

// Migrate applies the schema and then the idempotent migrations.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	for _, stmt := range strings.Split(Migrations, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// DB returns the underlying sql.DB for direct access when needed.
func (d *DB) DB() *sql.DB {
	return d.db
}

// Queries returns typed queries outside any transaction.
func (d *DB) Queries() *Queries {
	return d.queries
}

// Path returns the file path, empty for databases built with NewFromSQL.
func (d *DB) Path() string {
	return d.path
}

// WithTx runs fn inside a transaction, committing when fn returns nil.
func (d *DB) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(d.queries.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SnapshotTo writes a consistent copy of the database to dest using VACUUM INTO.
// dest must not exist.
func (d *DB) SnapshotTo(ctx context.Context, dest string) error {
	if _, err := d.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

func sqliteCommonParams() string {
	// WAL + NORMAL gives good throughput while preserving safety.
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}
