package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/modmail/internal/api"
	"github.com/modmail/internal/config"
	"github.com/modmail/internal/eventbus"
	"github.com/modmail/internal/jobqueue"
	"github.com/modmail/internal/modmail"
	"github.com/modmail/internal/platform/discord"
)

// ServeCommand returns the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the modmail API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on (overrides server.port)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if port := c.Int("port"); port > 0 {
		cfg.Server.Port = port
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := closeBackend(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	settings := cfg.Settings()
	client, err := discord.NewClient(discord.Config{
		BaseURL:           cfg.Platform.APIBaseURL,
		Token:             cfg.Platform.Token,
		GuildID:           settings.InboxCommunity(),
		Categories:        settings.Categories,
		RequestsPerSecond: cfg.Platform.RequestsPerSecond,
		Burst:             cfg.Platform.Burst,
		Timeout:           cfg.Platform.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create platform client: %w", err)
	}

	deps := modmail.Deps{
		Store:     backend,
		Blocks:    backend,
		Channels:  client,
		Transport: client,
		Profiles:  client,
		Snippets:  backend,
	}

	if cfg.Events.RedisURL != "" {
		bus, err := eventbus.Connect(ctx, cfg.Events.RedisURL, cfg.Events.Stream)
		if err != nil {
			return fmt.Errorf("failed to connect event bus: %w", err)
		}
		defer bus.Close()
		deps.Events = bus
		log.Info().Str("stream", bus.Stream()).Msg("Publishing lifecycle events")
	}

	engine, err := modmail.NewEngine(deps, settings)
	if err != nil {
		return err
	}

	var queue api.Enqueuer
	if cfg.Queue.Enabled {
		url, err := databaseURL(cfg)
		if err != nil {
			return err
		}
		jq, err := jobqueue.NewJobQueue(ctx, url, engine, jobqueue.DefaultQueueConfig().WithMaxWorkers(cfg.Queue.MaxWorkers))
		if err != nil {
			return fmt.Errorf("failed to create job queue: %w", err)
		}
		if err := jq.Start(ctx); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := jq.Stop(stopCtx); err != nil {
				log.Warn().Err(err).Msg("Job queue did not stop cleanly")
			}
		}()
		queue = jq
		log.Info().Int("max_workers", cfg.Queue.MaxWorkers).Msg("Job queue started")
	}

	server := api.NewServer(api.Config{
		Port:          cfg.Server.Port,
		JWTSecret:     cfg.Server.JWTSecret,
		InboundSecret: cfg.Server.InboundSecret,
	}, engine, backend, queue)

	log.Info().
		Str("root_community_id", settings.RootCommunityID).
		Str("inbox_community_id", settings.InboxCommunity()).
		Str("driver", cfg.Database.Driver).
		Msg("Starting modmail")
	return server.Start(ctx)
}
