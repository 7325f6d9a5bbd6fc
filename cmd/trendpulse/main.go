package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "trendpulse"
	version = "1.2.0"
)

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Keyword trend analytics over Google Trends",
		Version: version,
		Long: `TrendPulse scores keyword search interest for the supported markets
(Costa Rica, Spain, Mexico) from Google Trends data.

The upstream provider is aggressively rate limited, so the service
serializes every upstream query through a single-flight gate, retries
with exponential backoff, and keeps a two-tier Redis cache: a fresh
tier served on hits and a stale tier that absorbs upstream outages.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to the YAML configuration file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE:  runServe,
	}
	bindServeFlags(serveCmd.Flags())

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long:  "Applies migrations/schema.sql to the configured database. The schema is re-runnable.",
		RunE:  runMigrate,
	}
	migrateCmd.Flags().String("schema", "migrations/schema.sql", "path to the schema file")

	rootCmd.AddCommand(serveCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
