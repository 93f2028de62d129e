package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nilbase/nildb/internal/config"
	"github.com/nilbase/nildb/internal/database"
	"github.com/nilbase/nildb/internal/logging"
	"github.com/nilbase/nildb/internal/server"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the nildb node",
	Long: `Start the nildb HTTP server.

Unlike the teacher's schema-file-driven dev server, collections here are
created dynamically by builders over the HTTP API (POST /v1/collections),
so there is no schema file to load or watch. The catalog's control-plane
tables are migrated automatically as part of opening the database.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (overrides config)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}

	if err := logging.Init(cfg.Logging); err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}

	if err := config.ValidateNodeIdentity(&cfg.NUC); err != nil {
		return fmt.Errorf("invalid node identity: %w", err)
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	srv, err := server.New(cfg, db)
	if err != nil {
		return fmt.Errorf("constructing server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("shutdown signal received")
		cancel()
		_ = srv.Shutdown(context.Background())
	}()

	log.Info().
		Str("addr", cfg.Server.Address()).
		Str("node_did", string(srv.NodeDID())).
		Msg("starting nildb node")

	if err := srv.Start(ctx); err != nil {
		log.Error().Err(err).Msg("server error")
		return err
	}

	<-ctx.Done()
	return nil
}
