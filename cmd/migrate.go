package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/modmail/internal/jobqueue"
)

// MigrateCommand returns the migrate command
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Apply store and job queue migrations",
		Action: runMigrate,
	}
}

func runMigrate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	// Opening a SQL store applies its pending migrations.
	_, closeBackend, err := openBackend(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}
	if err := closeBackend(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Store migrations applied (%s)\n", cfg.Database.Driver)

	if !cfg.Queue.Enabled {
		return nil
	}
	url, err := databaseURL(cfg)
	if err != nil {
		return err
	}
	n, err := jobqueue.Migrate(c.Context, url)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Job queue migrations applied: %d\n", n)
	return nil
}
