// Package logging configures the process-wide zerolog logger, adapting
// the teacher's internal/cli.setupLogging into a standalone package so
// both the CLI and the HTTP server (admin log-level route, §6) can
// reach it without an import cycle through internal/cli.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nilbase/nildb/internal/config"
)

// Init configures the global zerolog logger from cfg. It is called once
// at process startup (cmd/nildb), mirroring the teacher's setupLogging.
func Init(cfg config.LoggingConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	var out io.Writer = os.Stderr
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log output %q: %w", cfg.Output, err)
		}
		out = f
	}

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out}
	}

	ctx := zerolog.New(out).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	if cfg.Caller {
		ctx = ctx.Caller()
	}

	zerolog.SetGlobalLevel(level)
	log.Logger = ctx.Logger()
	return nil
}

// SetLevel changes the process-wide log level at runtime, backing the
// admin `log-level` route and CLI subcommand (§6, §5's "Log-level and
// maintenance-mode flags" shared state). zerolog.SetGlobalLevel is
// read lock-free by every subsequent log call, so no coordination with
// in-flight requests is required.
func SetLevel(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	zerolog.SetGlobalLevel(parsed)
	return nil
}

// CurrentLevel reports the active global log level.
func CurrentLevel() string {
	return zerolog.GlobalLevel().String()
}
