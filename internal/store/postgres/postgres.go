// Package postgres opens the production thread store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/lib/pq"

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

// Open connects to url (or DATABASE_URL), applies pending migrations and
// returns the store.
func Open(ctx context.Context, url string) (*sqlstore.Store, error) {
	db, err := database.NewDB(url)
	if err != nil {
		return nil, err
	}
	if _, err := database.Migrate(ctx, db, Migrations(), database.Postgres); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return New(db), nil
}

// New wraps an already migrated handle.
func New(db *sql.DB) *sqlstore.Store {
	return sqlstore.New(db, database.Postgres, IsUniqueViolation)
}

// IsUniqueViolation reports a unique_violation (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
