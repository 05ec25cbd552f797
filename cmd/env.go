package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing  []string          // Required variables that are missing
	Present  map[string]string // Variables that are set (masked values)
	Warnings []string          // Non-fatal warnings
	Driver   string            // Database driver the check assumed
}

// EnvCommand returns the env command
func EnvCommand() *cli.Command {
	return &cli.Command{
		Name:  "env",
		Usage: "Inspect environment configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "check",
				Usage: "Report missing MODMAIL_* variables",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env-file",
						Usage: "Load variables from this file first",
					},
				},
				Action: runEnvCheck,
			},
		},
	}
}

func runEnvCheck(c *cli.Context) error {
	if path := c.String("env-file"); path != "" {
		if err := LoadEnvFile(path); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}
	result := CheckRequiredConfig()
	PrintConfigCheck(c.App.Writer, result)
	if len(result.Missing) > 0 {
		return fmt.Errorf("%d required variables missing", len(result.Missing))
	}
	return nil
}

// CheckRequiredConfig validates that required environment variables are set.
// Values from a config file are not consulted.
func CheckRequiredConfig() *ConfigCheckResult {
	driver := strings.TrimSpace(os.Getenv("MODMAIL_DATABASE_DRIVER"))
	if driver == "" {
		driver = "postgres"
	}
	result := &ConfigCheckResult{
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
		Driver:   driver,
	}

	// Always required
	requiredVars := []string{
		"MODMAIL_GENERAL_ROOT_COMMUNITY_ID",
		"MODMAIL_PLATFORM_TOKEN",
		"MODMAIL_SERVER_JWT_SECRET",
		"MODMAIL_SERVER_INBOUND_SECRET",
	}
	if driver == "postgres" && os.Getenv("MODMAIL_DATABASE_URL") == "" {
		requiredVars = append(requiredVars, "DATABASE_URL")
	}

	for _, v := range requiredVars {
		val := os.Getenv(v)
		if val == "" {
			result.Missing = append(result.Missing, v)
		} else {
			result.Present[v] = maskSecret(val)
		}
	}

	// Optional but good to check
	optionalVars := []string{
		"MODMAIL_DATABASE_URL",
		"MODMAIL_GENERAL_INBOX_COMMUNITY_ID",
		"MODMAIL_EVENTS_REDIS_URL",
	}
	for _, v := range optionalVars {
		if val := os.Getenv(v); val != "" {
			result.Present[v] = maskSecret(val)
		}
	}

	if driver == "memory" {
		result.Warnings = append(result.Warnings, "memory driver keeps threads only until the process exits")
	}
	if os.Getenv("MODMAIL_QUEUE_ENABLED") == "true" && driver != "postgres" {
		result.Warnings = append(result.Warnings, "queue requires the postgres driver")
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(w io.Writer, result *ConfigCheckResult) {
	fmt.Fprintln(w, "=== Configuration Check ===")
	fmt.Fprintf(w, "Driver: %s\n", result.Driver)
	fmt.Fprintln(w, "")

	if len(result.Missing) > 0 {
		fmt.Fprintln(w, "❌ Missing required variables:")
		for _, v := range result.Missing {
			fmt.Fprintf(w, "   - %s\n", v)
		}
		fmt.Fprintln(w, "")
	}

	if len(result.Present) > 0 {
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintln(w, "✓ Configured variables:")
		for _, k := range keys {
			fmt.Fprintf(w, "   - %s = %s\n", k, result.Present[k])
		}
		fmt.Fprintln(w, "")
	}

	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "⚠ Warning: %s\n", warning)
	}

	if len(result.Missing) == 0 {
		fmt.Fprintln(w, "✓ All required configuration is present")
	}

	fmt.Fprintln(w, "============================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// LoadEnvFile loads environment variables from a file, overwriting existing ones.
func LoadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// Remove quotes if present
		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set env var %s: %w", key, err)
		}
	}

	return scanner.Err()
}
