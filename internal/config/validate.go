package config

import (
	"fmt"
	"strings"
	"time"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateNUC(&cfg.NUC)...)
	errs = append(errs, validateQueries(&cfg.Queries)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateServer(cfg *ServerConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: "must be between 1 and 65535",
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.read_timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.ReadTimeout > 0 && cfg.ReadTimeout < time.Second {
		errs = append(errs, ValidationError{
			Field:   "server.read_timeout",
			Message: "warning: values below 1s may cause legitimate requests to timeout",
		})
	}

	if cfg.WriteTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.write_timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.WriteTimeout > 0 && cfg.WriteTimeout < time.Second {
		errs = append(errs, ValidationError{
			Field:   "server.write_timeout",
			Message: "warning: values below 1s may cause legitimate requests to timeout",
		})
	}

	if cfg.MaxBodySize < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.max_body_size",
			Message: "must be non-negative",
		})
	}

	if cfg.CORS.Enabled && cfg.CORS.AllowCredentials {
		for _, origin := range cfg.CORS.AllowedOrigins {
			if origin == "*" {
				errs = append(errs, ValidationError{
					Field:   "server.cors",
					Message: "security: allow_credentials=true with allowed_origins=[\"*\"] is insecure",
				})
				break
			}
		}
	}

	if cfg.TLS != nil && cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			errs = append(errs, ValidationError{
				Field:   "server.tls.cert_file",
				Message: "required when TLS is enabled",
			})
		}
		if cfg.TLS.KeyFile == "" {
			errs = append(errs, ValidationError{
				Field:   "server.tls.key_file",
				Message: "required when TLS is enabled",
			})
		}
	}

	return errs
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.PrimaryPath == "" {
		errs = append(errs, ValidationError{
			Field:   "database.primary_path",
			Message: "required",
		})
	}

	if cfg.DataPath == "" {
		errs = append(errs, ValidationError{
			Field:   "database.data_path",
			Message: "required",
		})
	}

	if cfg.PrimaryPath != "" && cfg.PrimaryPath == cfg.DataPath {
		errs = append(errs, ValidationError{
			Field:   "database.data_path",
			Message: "must differ from database.primary_path",
		})
	}

	// The remaining connection settings are not validated.

	return errs
}

func validateNUC(cfg *NUCConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.RevocationCacheTTL < 0 {
		errs = append(errs, ValidationError{
			Field:   "nuc.revocation_cache_ttl",
			Message: "must be non-negative",
		})
	}

	return errs
}

// ValidateNodeIdentity checks the node key material required to actually
// serve traffic. It is split out of Validate (like the teacher's
// ValidateJWTSecret) so that config loading for tooling such as the
// keygen CLI command does not require a key to already exist.
func ValidateNodeIdentity(cfg *NUCConfig) error {
	var errs ValidationErrors

	if cfg.NodePrivateKey == "" {
		errs = append(errs, ValidationError{
			Field:   "nuc.node_private_key",
			Message: "required to sign tokens issued by this node",
		})
	}

	if cfg.RootAuthorityDID == "" {
		errs = append(errs, ValidationError{
			Field:   "nuc.root_authority_did",
			Message: "required to anchor capability token chains",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateQueries(cfg *QueriesConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.WorkerPoolSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "queries.worker_pool_size",
			Message: "must be at least 1",
		})
	}

	if cfg.RunTimeout < time.Second {
		errs = append(errs, ValidationError{
			Field:   "queries.run_timeout",
			Message: "must be at least 1 second",
		})
	}

	if cfg.SchedulerPollInterval < time.Second {
		errs = append(errs, ValidationError{
			Field:   "queries.scheduler_poll_interval",
			Message: "must be at least 1 second",
		})
	}

	if cfg.CompressResultThreshold < 0 {
		errs = append(errs, ValidationError{
			Field:   "queries.compress_result_threshold",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[cfg.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: trace, debug, info, warn, error, fatal, panic",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'console'",
		})
	}

	return errs
}
