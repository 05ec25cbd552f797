package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/modmail/internal/config"
	"github.com/modmail/internal/database"
	"github.com/modmail/internal/modmail"
	"github.com/modmail/internal/store/memory"
	"github.com/modmail/internal/store/postgres"
	"github.com/modmail/internal/store/sqlite"
)

// Backend is everything the serve and logs commands need from storage.
type Backend interface {
	modmail.Store
	modmail.RecipientRegistry
	modmail.SnippetStore
	modmail.ThreadLog
}

// openBackend opens the configured store. The returned close func is never nil.
func openBackend(ctx context.Context, cfg *config.Config) (Backend, func() error, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		url, err := databaseURL(cfg)
		if err != nil {
			return nil, nil, err
		}
		s, err := postgres.Open(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.Database.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverMemory:
		return memory.NewStore(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// databaseURL prefers the config file, then DATABASE_URL and .env.
func databaseURL(cfg *config.Config) (string, error) {
	if url := strings.TrimSpace(cfg.Database.URL); url != "" {
		return url, nil
	}
	return database.LoadDatabaseURL()
}
