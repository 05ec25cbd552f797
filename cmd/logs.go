package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/modmail/internal/modmail"
)

// LogsCommand returns the logs command
func LogsCommand() *cli.Command {
	return &cli.Command{
		Name:      "logs",
		Usage:     "List a recipient's latest threads",
		ArgsUsage: "RECIPIENT_ID",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Number of threads to show",
				Value:   modmail.DefaultLogLimit,
			},
		},
		Action: runLogs,
	}
}

func runLogs(c *cli.Context) error {
	recipientID := c.Args().First()
	if recipientID == "" {
		return fmt.Errorf("RECIPIENT_ID is required")
	}
	if c.Int("limit") <= 0 {
		return fmt.Errorf("limit must be positive")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	backend, closeBackend, err := openBackend(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeBackend()

	threads, err := backend.ListThreadsForRecipient(c.Context, recipientID, c.Int("limit"))
	if err != nil {
		return err
	}
	return printThreadLog(c.App.Writer, recipientID, threads)
}

func printThreadLog(w io.Writer, recipientID string, threads []modmail.Thread) error {
	if len(threads) == 0 {
		_, err := fmt.Fprintf(w, "No threads for %s\n", recipientID)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tCHANNEL\tCREATED\tCLOSED")
	for _, t := range threads {
		closed := "-"
		if t.ClosedAt != nil {
			closed = t.ClosedAt.UTC().Format(time.RFC3339)
		}
		channel := t.ChannelID
		if channel == "" {
			channel = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", t.ID, t.Status, channel, t.CreatedAt.UTC().Format(time.RFC3339), closed)
	}
	return tw.Flush()
}
