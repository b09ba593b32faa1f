package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yigit/studentrecords/internal/pkg/helpers"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// EnvPrefix is prepended to every env tag when looking up overrides
const EnvPrefix = "STUDENTRECORDS_"

// Config structure represents the application configuration
type Config struct {
	Storage struct {
		Backend      string `yaml:"backend" env:"STORAGE_BACKEND"`
		SnapshotPath string `yaml:"snapshot_path" env:"STORAGE_SNAPSHOT_PATH"`
		TxTimeout    string `yaml:"tx_timeout" env:"STORAGE_TX_TIMEOUT"`
	} `yaml:"storage"`

	Database struct {
		Host            string `yaml:"host" env:"DB_HOST"`
		Port            string `yaml:"port" env:"DB_PORT"`
		User            string `yaml:"user" env:"DB_USER"`
		Password        string `yaml:"password" env:"DB_PASSWORD"`
		DBName          string `yaml:"dbname" env:"DB_NAME"`
		SSLMode         string `yaml:"sslmode" env:"DB_SSLMODE"`
		MaxIdleConns    int    `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
		MaxOpenConns    int    `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME"`
		MigrateOnStart  bool   `yaml:"migrate_on_start" env:"DB_MIGRATE_ON_START"`
	} `yaml:"database"`

	Persistence struct {
		// UniqueRegistrationNumbers makes the façade reject a second student
		// with an already used registration number.
		UniqueRegistrationNumbers bool `yaml:"unique_registration_numbers" env:"PERSISTENCE_UNIQUE_REGISTRATION_NUMBERS"`
	} `yaml:"persistence"`

	Logging struct {
		Level  string `yaml:"level" env:"LOG_LEVEL"`
		Format string `yaml:"format" env:"LOG_FORMAT"`
	} `yaml:"logging"`

	Metrics struct {
		Enabled        bool   `yaml:"enabled" env:"METRICS_ENABLED"`
		Prefix         string `yaml:"prefix" env:"METRICS_PREFIX"`
		ReportInterval string `yaml:"report_interval" env:"METRICS_REPORT_INTERVAL"`
	} `yaml:"metrics"`
}

// LoadConfig loads configuration from a file, a .env file next to the working
// directory and environment variables, in that order of precedence (lowest first)
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}
	setDefaults(config)

	// .env values only fill variables that are not already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			file, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}

			if err := yaml.Unmarshal(file, config); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	config.Storage.Backend = strings.ToLower(strings.TrimSpace(config.Storage.Backend))

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default values for the configuration
func setDefaults(config *Config) {
	config.Storage.Backend = BackendMemory
	config.Storage.TxTimeout = "30s"

	config.Database.Host = "localhost"
	config.Database.Port = "5432"
	config.Database.User = "postgres"
	config.Database.Password = "postgres"
	config.Database.DBName = "studentrecords"
	config.Database.SSLMode = "disable"
	config.Database.MaxIdleConns = 2
	config.Database.MaxOpenConns = 10
	config.Database.ConnMaxLifetime = "1h"
	config.Database.MigrateOnStart = true

	config.Persistence.UniqueRegistrationNumbers = true

	config.Logging.Level = "info"
	config.Logging.Format = "text"

	config.Metrics.Prefix = "studentrecords"
	config.Metrics.ReportInterval = "10s"
}

// loadFromEnv overrides configuration with environment variables
func loadFromEnv(config *Config) error {
	return processStructFields(config, EnvPrefix)
}

// validateConfig ensures that the configuration is valid
func validateConfig(config *Config) error {
	switch config.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required for the %s backend", BackendPostgres)
		}
		if config.Database.DBName == "" {
			return fmt.Errorf("database name is required for the %s backend", BackendPostgres)
		}
		if _, err := time.ParseDuration(config.Database.ConnMaxLifetime); err != nil {
			return fmt.Errorf("invalid database connection max lifetime: %w", err)
		}
	default:
		return fmt.Errorf("unknown storage backend %q (expected %q or %q)",
			config.Storage.Backend, BackendMemory, BackendPostgres)
	}

	if _, err := time.ParseDuration(config.Storage.TxTimeout); err != nil {
		return fmt.Errorf("invalid transaction timeout format: %w", err)
	}

	if config.Metrics.Enabled {
		if _, err := time.ParseDuration(config.Metrics.ReportInterval); err != nil {
			return fmt.Errorf("invalid metrics report interval: %w", err)
		}
	}

	return nil
}

// TxTimeout returns the default transaction timeout
func (c *Config) TxTimeout() time.Duration {
	return helpers.ParseDuration(c.Storage.TxTimeout, 30*time.Second)
}

// MetricsReportInterval returns how often metrics are flushed
func (c *Config) MetricsReportInterval() time.Duration {
	return helpers.ParseDuration(c.Metrics.ReportInterval, 10*time.Second)
}

// GetPostgresConnectionString returns postgres connection string
func (c *Config) GetPostgresConnectionString() string {
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
		sslMode,
	)
}
