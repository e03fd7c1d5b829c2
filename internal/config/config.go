package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable, e.g. LICSRV_SERVER_PORT.
const EnvPrefix = "LICSRV"

// ConfigFileEnv names the variable holding an explicit config file path.
const ConfigFileEnv = "LICSRV_CONFIG"

const defaultConfigFile = "config.yaml"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	Admin     AdminConfig     `yaml:"admin" envconfig:"ADMIN"`
	Keys      KeysConfig      `yaml:"keys" envconfig:"KEYS"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	// RequestTimeout bounds every request, including store calls made on its behalf.
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	AllowedOrigins []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"` // stdout, file or both
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// StoreConfig selects and tunes the key store.
type StoreConfig struct {
	Driver          string        `yaml:"driver" envconfig:"DRIVER"`
	DSN             string        `yaml:"dsn" envconfig:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `yaml:"auto_migrate" envconfig:"AUTO_MIGRATE"`
}

// AdminConfig holds the admin credentials. Admin routes answer 401 while
// PasswordHash is empty.
type AdminConfig struct {
	Username     string `yaml:"username" envconfig:"USERNAME"`
	PasswordHash string `yaml:"password_hash" envconfig:"PASSWORD_HASH"`
}

// KeysConfig controls key generation.
type KeysConfig struct {
	Prefix              string `yaml:"prefix" envconfig:"PREFIX"`
	MaxGenerateAttempts int    `yaml:"max_generate_attempts" envconfig:"MAX_GENERATE_ATTEMPTS"`
}

// TelemetryConfig selects OpenTelemetry exporters.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME"`
	TraceExporter  string `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`   // stdout or none
	MetricExporter string `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"` // prometheus or none
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
	EventBuffer     int           `yaml:"event_buffer" envconfig:"EVENT_BUFFER"`
}

// Load builds the configuration from defaults, the config file named by
// LICSRV_CONFIG (or ./config.yaml when present) and LICSRV_* variables, in
// increasing order of precedence.
func Load() (*Config, error) {
	path := os.Getenv(ConfigFileEnv)
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	return LoadFrom(path)
}

// LoadFrom is Load with an explicit config file path. An empty path skips the file.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays YAML onto cfg; keys absent from the file keep their value.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// validate validates the configuration
func (c *Config) validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server read and write timeouts must be positive"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level: %q", c.Logging.Level))
	}
	switch c.Logging.Output {
	case "stdout", "file", "both":
	default:
		errs = append(errs, fmt.Errorf("invalid log output: %q", c.Logging.Output))
	}

	c.Store.Driver = strings.ToLower(c.Store.Driver)
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver: %q", c.Store.Driver))
	}

	if c.Admin.PasswordHash != "" {
		if c.Admin.Username == "" {
			errs = append(errs, errors.New("admin username is required when a password hash is set"))
		}
		if _, err := bcrypt.Cost([]byte(c.Admin.PasswordHash)); err != nil {
			errs = append(errs, fmt.Errorf("admin password hash is not a bcrypt hash: %w", err))
		}
	}

	if c.Keys.MaxGenerateAttempts <= 0 {
		errs = append(errs, errors.New("keys max_generate_attempts must be positive"))
	}

	switch c.Telemetry.TraceExporter {
	case "stdout", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown trace exporter: %q", c.Telemetry.TraceExporter))
	}
	switch c.Telemetry.MetricExporter {
	case "prometheus", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown metric exporter: %q", c.Telemetry.MetricExporter))
	}

	return errors.Join(errs...)
}

// AdminEnabled reports whether admin credentials are configured.
func (c *Config) AdminEnabled() bool {
	return c.Admin.PasswordHash != ""
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  10 * time.Second,
			AllowedOrigins:  []string{"http://localhost:8080"},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "stdout",
			FilePath: "logs/licsrv.log",
		},
		Store: StoreConfig{
			Driver:          DriverMemory,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Admin: AdminConfig{
			Username: "admin",
		},
		Keys: KeysConfig{
			Prefix:              "RIXK",
			MaxGenerateAttempts: 5,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "licsrv",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
			EventBuffer:     256,
		},
	}
}
