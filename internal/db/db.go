// Package db opens and migrates the embedded project store backing the
// task queue, approval gates, and their supporting tables.
package db

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/corvid-labs/foreman/internal/db/driver"
)

//go:embed schema/*.sql schema/postgres/*.sql
var schemaFS embed.FS

type embedSchema struct{ embed.FS }

func (e embedSchema) ReadDir(name string) ([]driver.DirEntry, error) {
	entries, err := e.FS.ReadDir(name)
	if err != nil {
		return nil, err
	}
	out := make([]driver.DirEntry, len(entries))
	for i, ent := range entries {
		out[i] = ent
	}
	return out, nil
}

// DB wraps a dialect-specific driver and applies the project schema.
type DB struct {
	driver driver.Driver
	path   string
}

// Open opens the project store at path using the given dialect. For
// sqlite, path is the database file; for postgres, it is a DSN.
func Open(ctx context.Context, dialect driver.Dialect, path string) (*DB, error) {
	if dialect == driver.DialectSQLite {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
	}

	drv, err := driver.New(dialect)
	if err != nil {
		return nil, err
	}
	if err := drv.Open(path); err != nil {
		return nil, err
	}

	d := &DB{driver: drv, path: path}
	if err := drv.Migrate(ctx, embedSchema{schemaFS}, "project"); err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("migrate project schema: %w", err)
	}
	return d, nil
}

// Driver returns the underlying dialect driver for advanced operations.
func (d *DB) Driver() driver.Driver { return d.driver }

// Path returns the path or DSN the store was opened with.
func (d *DB) Path() string { return d.path }

// Close closes the underlying connection.
func (d *DB) Close() error { return d.driver.Close() }
