// Package sqlite opens the single-node thread store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/modmail/internal/database"
	"github.com/modmail/internal/store/sqlstore"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the embedded schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Open opens the database at path, applies pending migrations and returns
// the store. ":memory:" gives a throwaway database.
func Open(ctx context.Context, path string) (*sqlstore.Store, error) {
	db, err := database.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if _, err := database.Migrate(ctx, db, Migrations(), database.SQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return New(db), nil
}

// New wraps an already migrated handle.
func New(db *sql.DB) *sqlstore.Store {
	return sqlstore.New(db, database.SQLite, IsUniqueViolation)
}

// IsUniqueViolation reports a UNIQUE or PRIMARY KEY constraint failure.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
