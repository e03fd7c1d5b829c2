package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFrom(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	tests := []struct {
		name        string
		env         map[string]string
		file        string
		wantErr     string
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, DriverMemory, cfg.Store.Driver)
				assert.Equal(t, "RIXK", cfg.Keys.Prefix)
				assert.Equal(t, 5, cfg.Keys.MaxGenerateAttempts)
				assert.False(t, cfg.AdminEnabled())
			},
		},
		{
			name: "file overrides defaults",
			file: `
server:
  port: 9090
  request_timeout: 3s
store:
  driver: postgres
  dsn: postgres://localhost/licsrv
keys:
  prefix: ACME
`,
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, 3*time.Second, cfg.Server.RequestTimeout)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout, "absent keys keep defaults")
				assert.Equal(t, DriverPostgres, cfg.Store.Driver)
				assert.Equal(t, "ACME", cfg.Keys.Prefix)
			},
		},
		{
			name: "env overrides file",
			file: "server:\n  port: 9090\n",
			env: map[string]string{
				"LICSRV_SERVER_PORT":         "7070",
				"LICSRV_ADMIN_USERNAME":      "ops",
				"LICSRV_ADMIN_PASSWORD_HASH": string(hash),
				"LICSRV_LOGGING_LEVEL":       "debug",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 7070, cfg.Server.Port)
				assert.Equal(t, "ops", cfg.Admin.Username)
				assert.True(t, cfg.AdminEnabled())
				assert.Equal(t, "debug", cfg.Logging.Level)
			},
		},
		{
			name:    "postgres requires dsn",
			env:     map[string]string{"LICSRV_STORE_DRIVER": "postgres"},
			wantErr: "store dsn is required",
		},
		{
			name:    "unknown driver",
			env:     map[string]string{"LICSRV_STORE_DRIVER": "sqlite"},
			wantErr: "unknown store driver",
		},
		{
			name:    "plaintext password rejected",
			env:     map[string]string{"LICSRV_ADMIN_PASSWORD_HASH": "hunter2"},
			wantErr: "not a bcrypt hash",
		},
		{
			name:    "invalid port",
			env:     map[string]string{"LICSRV_SERVER_PORT": "70000"},
			wantErr: "invalid server port",
		},
		{
			name:    "invalid log level",
			file:    "logging:\n  level: verbose\n",
			wantErr: "invalid log level",
		},
		{
			name:    "malformed env value",
			env:     map[string]string{"LICSRV_SERVER_READ_TIMEOUT": "soon"},
			wantErr: "failed to load config from env",
		},
		{
			name:    "malformed file",
			file:    "server: [",
			wantErr: "failed to load config from file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeConfigFile(t, tt.file)
			}

			cfg, err := LoadFrom(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.validateCfg(t, cfg)
		})
	}
}

func TestLoad_UsesConfigEnv(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 6060\n")
	t.Setenv(ConfigFileEnv, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.Port)
	assert.Equal(t, ":6060", cfg.Addr())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Setenv(ConfigFileEnv, filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Store.Driver = "redis"
	cfg.Telemetry.TraceExporter = "jaeger"

	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server port")
	assert.Contains(t, err.Error(), "unknown store driver")
	assert.Contains(t, err.Error(), "unknown trace exporter")
}
