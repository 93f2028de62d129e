package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nilbase/nildb/internal/config"
	"github.com/nilbase/nildb/internal/database"
	"github.com/nilbase/nildb/internal/database/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending catalog migrations and exit",
	Long: `database.Open already runs every pending internal/database/migrations
file on every server start, so this command exists only for operators who
want to pre-migrate a database (e.g. before a first deploy) without also
binding the HTTP port. Unlike the teacher's YAML-schema-diff migrator,
there is no per-collection schema to diff: builders create collections at
runtime over the HTTP API, and their document tables are created on
demand by internal/database.CreateDocTable.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	applied, err := migrations.GetApplied(context.Background(), db.DB)
	if err != nil {
		return fmt.Errorf("listing applied migrations: %w", err)
	}

	for _, m := range applied {
		log.Info().Str("migration", m.ID).Time("applied_at", m.AppliedAt).Msg("migration applied")
	}
	log.Info().Int("count", len(applied)).Msg("catalog is up to date")
	return nil
}
