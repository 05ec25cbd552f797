package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/modmail/internal/api/auth"
)

// TokenCommand returns the token command
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "Issue an operator API token",
		ArgsUsage: "OPERATOR_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "name",
				Usage: "Display name attached to relayed replies",
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: 12 * time.Hour,
			},
		},
		Action: runToken,
	}
}

func runToken(c *cli.Context) error {
	operatorID := c.Args().First()
	if operatorID == "" {
		return fmt.Errorf("OPERATOR_ID is required")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ts := auth.NewTokenService(cfg.Server.JWTSecret)
	ts.TokenDuration = c.Duration("ttl")
	token, expiresAt, err := ts.IssueToken(operatorID, c.String("name"))
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Fprintln(c.App.Writer, token)
	fmt.Fprintf(c.App.ErrWriter, "Expires at %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}
