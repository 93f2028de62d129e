package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, cfg.Server.Port)
	}

	if cfg.Database.PrimaryPath != DefaultPrimaryDBPath {
		t.Errorf("expected primary db path %s, got %s", DefaultPrimaryDBPath, cfg.Database.PrimaryPath)
	}

	if cfg.Database.DataPath != DefaultDataDBPath {
		t.Errorf("expected data db path %s, got %s", DefaultDataDBPath, cfg.Database.DataPath)
	}

	if cfg.Queries.WorkerPoolSize != DefaultWorkerPoolSize {
		t.Errorf("expected worker pool size %d, got %d", DefaultWorkerPoolSize, cfg.Queries.WorkerPoolSize)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0

	err := Validate(cfg)
	if err == nil {
		t.Error("expected validation error for invalid port")
	}

	var errs ValidationErrors
	if !errors.As(err, &errs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	found := false
	for _, e := range errs {
		if e.Field == "server.port" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected error for server.port field")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "invalid"

	err := Validate(cfg)
	if err == nil {
		t.Error("expected validation error for invalid log level")
	}
}

func TestValidate_TLSWithoutCert(t *testing.T) {
	cfg := Default()
	cfg.Server.TLS = &TLSConfig{
		Enabled: true,
	}

	err := Validate(cfg)
	if err == nil {
		t.Error("expected validation error for TLS without cert")
	}
}

func TestValidate_SamePrimaryAndDataPath(t *testing.T) {
	cfg := Default()
	cfg.Database.DataPath = cfg.Database.PrimaryPath

	err := Validate(cfg)
	if err == nil {
		t.Error("expected validation error when primary and data paths match")
	}
}

func TestValidateNodeIdentity(t *testing.T) {
	tests := []struct {
		name    string
		cfg     NUCConfig
		wantErr bool
	}{
		{"missing both", NUCConfig{}, true},
		{"missing root authority", NUCConfig{NodePrivateKey: "deadbeef"}, true},
		{"complete", NUCConfig{NodePrivateKey: "deadbeef", RootAuthorityDID: "did:nil:abc"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNodeIdentity(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateNodeIdentity() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nildb.yaml")

	content := `
server:
  port: 9000
  host: "0.0.0.0"
database:
  primary_path: "test_primary.db"
  data_path: "test_data.db"
logging:
  level: "debug"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Server.Host)
	}

	if cfg.Database.PrimaryPath != "test_primary.db" {
		t.Errorf("expected primary db path test_primary.db, got %s", cfg.Database.PrimaryPath)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("NILDB_SERVER_PORT", "7777")
	t.Setenv("NILDB_DATABASE_PRIMARY_PATH", "env-test-primary.db")

	cfg, err := LoadWithDefaults()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("expected port 7777 from env, got %d", cfg.Server.Port)
	}

	if cfg.Database.PrimaryPath != "env-test-primary.db" {
		t.Errorf("expected primary db path env-test-primary.db from env, got %s", cfg.Database.PrimaryPath)
	}
}

func TestServerAddress(t *testing.T) {
	cfg := &ServerConfig{Host: "localhost", Port: 8090}
	if addr := cfg.Address(); addr != "localhost:8090" {
		t.Errorf("expected localhost:8090, got %s", addr)
	}
}

func TestValidate_CORS_Security(t *testing.T) {
	cfg := Default()
	cfg.Server.CORS.AllowedOrigins = []string{"*"}
	cfg.Server.CORS.AllowCredentials = true

	err := Validate(cfg)
	if err == nil {
		t.Error("expected validation warning for insecure CORS config")
	}
}
