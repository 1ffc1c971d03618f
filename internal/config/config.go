package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runner configuration
type Config struct {
	Source   SourceConfig
	Database DatabaseConfig
	Server   ServerConfig
	Logging  LoggingConfig
}

// SourceConfig configures the weather source invocation
type SourceConfig struct {
	// URI is the connection URI carrying the inner API URL and the
	// base64-encoded credential.
	URI string

	// Table is the sink table records are appended to.
	Table string

	// FetchInterval enables the built-in scheduler when positive; zero
	// means run once and exit (external orchestration).
	FetchInterval time.Duration
}

// DatabaseConfig configures the PostgreSQL sink connection
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// ServerConfig configures the admin HTTP server
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level string
}

// LoadConfig reads configuration from the environment, with optional .env
// file support.
func LoadConfig() (*Config, error) {
	// A missing .env file is fine; real deployments set the environment.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Source.URI = os.Getenv("SOURCE_URI")
	cfg.Source.Table = os.Getenv("SINK_TABLE")

	fetchInterval, err := getenvDuration("FETCH_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid FETCH_INTERVAL: %w", err)
	}
	cfg.Source.FetchInterval = fetchInterval

	cfg.Database.Host = getenvDefault("DB_HOST", "localhost")
	cfg.Database.Port = getenvInt("DB_PORT", 5432)
	cfg.Database.User = getenvDefault("DB_USER", "postgres")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Database = getenvDefault("DB_NAME", "weather")
	cfg.Database.SSLMode = getenvDefault("DB_SSLMODE", "disable")
	cfg.Database.MaxOpenConns = getenvInt("DB_MAX_OPEN_CONNS", 10)
	cfg.Database.MaxIdleConns = getenvInt("DB_MAX_IDLE_CONNS", 5)

	connMaxLifetime, err := getenvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}
	cfg.Database.ConnMaxLifetime = connMaxLifetime

	connMaxIdleTime, err := getenvDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_IDLE_TIME: %w", err)
	}
	cfg.Database.ConnMaxIdleTime = connMaxIdleTime

	cfg.Server.Host = getenvDefault("SERVER_HOST", "0.0.0.0")
	cfg.Server.Port = getenvInt("SERVER_PORT", 8080)

	readTimeout, err := getenvDuration("SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_READ_TIMEOUT: %w", err)
	}
	cfg.Server.ReadTimeout = readTimeout

	writeTimeout, err := getenvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT: %w", err)
	}
	cfg.Server.WriteTimeout = writeTimeout

	idleTimeout, err := getenvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_IDLE_TIMEOUT: %w", err)
	}
	cfg.Server.IdleTimeout = idleTimeout

	cfg.Logging.Level = getenvDefault("LOG_LEVEL", "info")

	return cfg, nil
}

// Validate checks required configuration values
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Source.URI) == "" {
		return fmt.Errorf("SOURCE_URI is required")
	}
	if strings.TrimSpace(c.Source.Table) == "" {
		return fmt.Errorf("SINK_TABLE is required")
	}
	if c.Source.FetchInterval < 0 {
		return fmt.Errorf("FETCH_INTERVAL must not be negative")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be a valid port number")
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	return time.ParseDuration(v)
}
