// Package driver abstracts foreman's project store over SQLite and
// PostgreSQL so internal/storage and internal/db never branch on which
// one backs a given project's .foreman/config.yaml.
package driver

import (
	"context"
	"database/sql"

	"github.com/corvid-labs/foreman/internal/ferrors"
)

// Dialect is the SQL dialect a project store is running against.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Driver abstracts the project store's operations across dialects. db.Open
// selects an implementation from Dialect and hands callers this interface,
// never a concrete *SQLiteDriver/*PostgresDriver.
type Driver interface {
	// Connection
	Open(dsn string) error
	Close() error

	// Queries
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row

	// Transactions
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)

	// Migrations
	Migrate(ctx context.Context, schemaFS SchemaFS, schemaType string) error

	// Dialect-specific
	Dialect() Dialect
	Placeholder(index int) string // $1 for Postgres, ? for SQLite

	// SQL helpers for dialect differences
	Now() string            // datetime('now') for SQLite, NOW() for Postgres
	UpsertConflict() string // ON CONFLICT syntax varies

	// Raw access (for advanced operations)
	DB() *sql.DB
}

// Tx wraps a single project store transaction, scoped to one task-queue
// mutation (e.g. a status transition plus its checkpoint row).
type Tx interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
	Commit() error
	Rollback() error
}

// SchemaFS reads the embedded migration files under internal/db/schema
// (project_NNN.sql and its schema/postgres variant).
type SchemaFS interface {
	ReadDir(name string) ([]DirEntry, error)
	ReadFile(name string) ([]byte, error)
}

// DirEntry represents one embedded schema file or directory.
type DirEntry interface {
	Name() string
	IsDir() bool
}

// Config holds the dialect and DSN a caller wants a Driver opened against.
type Config struct {
	Dialect Dialect
	DSN     string
}

// New constructs an unopened Driver for dialect. Callers still need Open.
func New(dialect Dialect) (Driver, error) {
	switch dialect {
	case DialectSQLite:
		return NewSQLite(), nil
	case DialectPostgres:
		return NewPostgres(), nil
	default:
		return nil, ferrors.ErrConfigInvalid("dialect", "unsupported dialect: "+string(dialect))
	}
}

// ParseDialect maps a config.yaml/CLI dialect string onto a Dialect,
// accepting a few common aliases ("pg", "postgresql", "sqlite3").
func ParseDialect(s string) (Dialect, error) {
	switch s {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	default:
		return "", ferrors.ErrConfigInvalid("dialect", "unknown dialect: "+s)
	}
}

// sqlTx adapts database/sql's *sql.Tx to the Tx interface; both SQLiteDriver
// and PostgresDriver return one from BeginTx.
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *sqlTx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *sqlTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	return t.tx.Rollback()
}
