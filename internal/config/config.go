// Package config provides configuration management for nildb.
package config

import (
	"time"
)

// Config is the root configuration structure for nildb.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NUC      NUCConfig      `mapstructure:"nuc"`
	Queries  QueriesConfig  `mapstructure:"queries"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Dev      DevConfig      `mapstructure:"dev"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind the server to
	Host string `mapstructure:"host"`

	// Port to listen on
	Port int `mapstructure:"port"`

	// Enable CORS
	CORS CORSConfig `mapstructure:"cors"`

	// Request timeout
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// Maximum request body size in bytes
	MaxBodySize int64 `mapstructure:"max_body_size"`

	// TLS configuration (optional)
	TLS *TLSConfig `mapstructure:"tls"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	// Enable CORS
	Enabled bool `mapstructure:"enabled"`

	// Allowed origins (use ["*"] for all)
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// Allowed methods
	AllowedMethods []string `mapstructure:"allowed_methods"`

	// Allowed headers
	AllowedHeaders []string `mapstructure:"allowed_headers"`

	// Exposed headers
	ExposedHeaders []string `mapstructure:"exposed_headers"`

	// Allow credentials
	AllowCredentials bool `mapstructure:"allow_credentials"`

	// Max age for preflight cache
	MaxAge time.Duration `mapstructure:"max_age"`
}

// TLSConfig holds TLS settings.
type TLSConfig struct {
	// Enable TLS
	Enabled bool `mapstructure:"enabled"`

	// Path to certificate file
	CertFile string `mapstructure:"cert_file"`

	// Path to key file
	KeyFile string `mapstructure:"key_file"`
}

// DatabaseConfig holds database settings. nildb keeps two named SQLite
// files per deployment — PrimaryPath for the builder/collection/query
// catalog, DataPath for the per-collection document tables — opened as a
// single connection with DataPath ATTACHed under the schema name "data".
type DatabaseConfig struct {
	// Path to the primary catalog SQLite file
	PrimaryPath string `mapstructure:"primary_path"`

	// Path to the document data SQLite file
	DataPath string `mapstructure:"data_path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Cache size in KB (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size"`

	// Busy timeout
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable foreign keys
	ForeignKeys bool `mapstructure:"foreign_keys"`

	// Maximum open connections
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// Maximum idle connections
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// Connection max lifetime
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// NUCConfig holds this node's identity and the capability-token chain
// trust settings (C3).
type NUCConfig struct {
	// This node's DID. Not read at startup: the server always derives its
	// DID from NodePrivateKey
	NodeDID string `mapstructure:"node_did"`

	// Ed25519 private key seed, hex-encoded, used to sign tokens this node
	// issues and to verify its own identity in a delegation chain
	NodePrivateKey string `mapstructure:"node_private_key"`

	// DID of the root authority trusted to anchor every token chain
	RootAuthorityDID string `mapstructure:"root_authority_did"`

	// How long a revocation lookup result (revoked or not) is cached before
	// the journal is re-consulted
	RevocationCacheTTL time.Duration `mapstructure:"revocation_cache_ttl"`
}

// QueriesConfig holds settings for the background query-run worker (C8).
type QueriesConfig struct {
	// Number of workers draining the run queue
	WorkerPoolSize int `mapstructure:"worker_pool_size"`

	// Maximum run duration; checked by Validate only. Runs are executed
	// without a per-run deadline and are not marked errored for running long
	RunTimeout time.Duration `mapstructure:"run_timeout"`

	// Poll interval for due cron-scheduled queries
	SchedulerPollInterval time.Duration `mapstructure:"scheduler_poll_interval"`

	// Threshold in bytes above which a run result is gzip-compressed before
	// being stored in the catalog
	CompressResultThreshold int `mapstructure:"compress_result_threshold"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`

	// Include caller info
	Caller bool `mapstructure:"caller"`

	// Include timestamp
	Timestamp bool `mapstructure:"timestamp"`

	// Output file (empty for stderr)
	Output string `mapstructure:"output"`
}

// DevConfig holds development mode settings.
type DevConfig struct {
	// Enable development mode
	Enabled bool `mapstructure:"enabled"`

	// Watch flag; nothing reads it, and the config file is not watched or
	// reloaded after startup
	Watch bool `mapstructure:"watch"`

	// Auto-migrate flag; nothing reads it, and database.Open applies pending
	// migrations on every startup regardless
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return s.Host + ":" + itoa(s.Port)
}

// itoa converts int to string without importing strconv.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	negative := i < 0
	if negative {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if negative {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
