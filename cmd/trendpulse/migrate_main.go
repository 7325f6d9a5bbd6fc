package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/keywordlab/trendpulse/internal/config"
	"github.com/keywordlab/trendpulse/internal/persistence/postgres"
)

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}

	schemaPath, _ := cmd.Flags().GetString("schema")
	ddl, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("read schema %s: %w", schemaPath, err)
	}

	db, err := postgres.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := postgres.ApplySchema(ctx, db, string(ddl)); err != nil {
		return err
	}

	log.Info().Str("schema", schemaPath).Msg("schema applied")
	return nil
}
