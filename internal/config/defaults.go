package config

import "time"

// Default configuration values.
const (
	// Server defaults.
	DefaultHost         = "localhost"
	DefaultPort         = 8090
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 120 * time.Second
	DefaultMaxBodySize  = 10 * 1024 * 1024 // 10MB

	// Database defaults.
	DefaultPrimaryDBPath = "nildb_primary.db"
	DefaultDataDBPath    = "nildb_data.db"
	DefaultCacheSize     = -64000 // 64MB
	DefaultBusyTimeout   = 5 * time.Second
	DefaultMaxOpenConns  = 1 // SQLite works best with single writer
	DefaultMaxIdleConns  = 1

	// NUC defaults.
	DefaultRevocationCacheTTL = 30 * time.Second

	// Queries defaults.
	DefaultWorkerPoolSize          = 4
	DefaultRunTimeout              = 30 * time.Second
	DefaultSchedulerPollInterval   = 10 * time.Second
	DefaultCompressResultThreshold = 64 * 1024 // 64KB

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
			CORS: CORSConfig{
				Enabled:          true,
				AllowedOrigins:   []string{"*"},
				AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
				ExposedHeaders:   []string{"X-Request-ID"},
				AllowCredentials: false,
				MaxAge:           12 * time.Hour,
			},
		},
		Database: DatabaseConfig{
			PrimaryPath:     DefaultPrimaryDBPath,
			DataPath:        DefaultDataDBPath,
			WALMode:         true,
			CacheSize:       DefaultCacheSize,
			BusyTimeout:     DefaultBusyTimeout,
			ForeignKeys:     true,
			MaxOpenConns:    DefaultMaxOpenConns,
			MaxIdleConns:    DefaultMaxIdleConns,
			ConnMaxLifetime: 0, // No limit
		},
		NUC: NUCConfig{
			RevocationCacheTTL: DefaultRevocationCacheTTL,
		},
		Queries: QueriesConfig{
			WorkerPoolSize:          DefaultWorkerPoolSize,
			RunTimeout:              DefaultRunTimeout,
			SchedulerPollInterval:   DefaultSchedulerPollInterval,
			CompressResultThreshold: DefaultCompressResultThreshold,
		},
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Caller:    false,
			Timestamp: true,
		},
		Dev: DevConfig{
			Enabled:     false,
			Watch:       true,
			AutoMigrate: true,
		},
	}
}
