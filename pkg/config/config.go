// Package config handles VertexDB configuration loading.
//
// Configuration is assembled in layers, later layers overriding earlier ones:
//
//  1. Built-in defaults (Default)
//  2. An optional YAML file
//  3. An optional .env file (values already present in the process
//     environment win over the file)
//  4. VERTEXDB_* environment variables
//
// Example Usage:
//
//	cfg, err := config.Load(config.LoadOptions{File: "vertexdb.yaml"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Configuration error: %v", err)
//	}
//
// Environment Variables:
//
//	VERTEXDB_BACKEND=badger            # badger | sql | memory
//	VERTEXDB_DATA_DIR=./data/vertexdb  # Badger data directory
//	VERTEXDB_IN_MEMORY=false           # Badger without a data directory
//	VERTEXDB_SYNC_WRITES=false         # fsync every Badger commit
//	VERTEXDB_LOW_MEMORY=false          # smaller Badger memtables and caches
//	VERTEXDB_ENCRYPTION_PASSPHRASE=    # Badger encryption at rest
//	VERTEXDB_SQL_DRIVER=postgres       # postgres | sqlite
//	VERTEXDB_SQL_DSN=                  # connection string or SQLite file
//	VERTEXDB_SQL_MAX_OPEN_CONNS=25
//	VERTEXDB_SQL_MAX_IDLE_CONNS=5
//	VERTEXDB_SQL_MAX_IDLE_TIME=5m
//	VERTEXDB_SQL_AUTO_MIGRATE=true
//	VERTEXDB_MAX_RESULTS=100000        # cap on every query result
//	VERTEXDB_MAX_VALUE_SIZE=1048576    # cap on one property value (bytes)
//	VERTEXDB_STRICT_LIMITS=false       # reject limit(n) above the cap
//	VERTEXDB_LOG_LEVEL=info            # debug | info | warn | error
//	VERTEXDB_LOG_FORMAT=json           # json | console
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/vertexdb/pkg/storage"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "VERTEXDB_"

// Storage backends.
const (
	BackendBadger = "badger"
	BackendSQL    = "sql"
	BackendMemory = "memory"
)

// Config holds all VertexDB configuration settings.
type Config struct {
	// Storage selects and configures the storage engine.
	Storage StorageConfig `yaml:"storage"`

	// SQL configures the relational backend.
	SQL SQLConfig `yaml:"sql"`

	// Limits bounds query results and property values.
	Limits LimitsConfig `yaml:"limits"`

	// Logging configures the zap logger.
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig holds backend selection and embedded store settings.
type StorageConfig struct {
	// Backend is one of badger, sql or memory.
	Backend string `yaml:"backend" env:"BACKEND"`

	// DataDir is the Badger data directory.
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`

	// InMemory runs Badger without touching disk.
	InMemory bool `yaml:"in_memory" env:"IN_MEMORY"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `yaml:"sync_writes" env:"SYNC_WRITES"`

	// LowMemory trades throughput for a smaller footprint.
	LowMemory bool `yaml:"low_memory" env:"LOW_MEMORY"`

	// EncryptionPassphrase enables encryption at rest. Never logged.
	EncryptionPassphrase string `yaml:"encryption_passphrase" env:"ENCRYPTION_PASSPHRASE"`
}

// SQLConfig holds relational backend settings.
type SQLConfig struct {
	// Driver is postgres or sqlite.
	Driver string `yaml:"driver" env:"SQL_DRIVER"`

	// DSN is a PostgreSQL connection string or a SQLite file path.
	DSN string `yaml:"dsn" env:"SQL_DSN"`

	MaxOpenConns int           `yaml:"max_open_conns" env:"SQL_MAX_OPEN_CONNS"`
	MaxIdleConns int           `yaml:"max_idle_conns" env:"SQL_MAX_IDLE_CONNS"`
	MaxIdleTime  time.Duration `yaml:"max_idle_time" env:"SQL_MAX_IDLE_TIME"`

	// AutoMigrate applies pending schema migrations on open.
	AutoMigrate bool `yaml:"auto_migrate" env:"SQL_AUTO_MIGRATE"`
}

// LimitsConfig mirrors storage.Limits.
type LimitsConfig struct {
	MaxResults   int  `yaml:"max_results" env:"MAX_RESULTS"`
	MaxValueSize int  `yaml:"max_value_size" env:"MAX_VALUE_SIZE"`
	StrictLimits bool `yaml:"strict_limits" env:"STRICT_LIMITS"`
}

// Storage returns the limits in the form the storage engines take.
func (l LimitsConfig) Storage() storage.Limits {
	return storage.Limits{
		MaxResults:   l.MaxResults,
		MaxValueSize: l.MaxValueSize,
		StrictLimits: l.StrictLimits,
	}
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" env:"LOG_LEVEL"`

	// Format is json (production) or console (development).
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: BackendBadger,
			DataDir: "./data/vertexdb",
		},
		SQL: SQLConfig{
			Driver:       "postgres",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			MaxIdleTime:  5 * time.Minute,
			AutoMigrate:  true,
		},
		Limits: LimitsConfig{
			MaxResults:   storage.DefaultMaxResults,
			MaxValueSize: storage.DefaultMaxValueSize,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadOptions names the optional files consulted by Load.
type LoadOptions struct {
	// File is a YAML configuration file. Empty skips the YAML layer; a
	// named file that does not exist is an error.
	File string

	// EnvFile is a dotenv file. Empty means ".env" in the working
	// directory, which is skipped silently when absent.
	EnvFile string
}

// Load builds a Config from defaults, the YAML file, the dotenv file and
// the environment, in that order. The result is not validated.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if opts.File != "" {
		if err := cfg.loadYAML(opts.File); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(opts.EnvFile); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv returns the defaults overridden by VERTEXDB_* variables only.
func LoadFromEnv() (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func loadDotEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
//
// Example:
//
//	cfg, _ := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Configuration error: %v", err)
//	}
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendBadger:
		if !c.Storage.InMemory && c.Storage.DataDir == "" {
			return fmt.Errorf("badger backend requires a data directory or in_memory")
		}
		if c.Storage.InMemory && c.Storage.EncryptionPassphrase != "" {
			return fmt.Errorf("encryption requires an on-disk badger store")
		}
	case BackendSQL:
		switch strings.ToLower(strings.TrimSpace(c.SQL.Driver)) {
		case "postgres", "postgresql", "pg", "pgx", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("unknown sql driver %q", c.SQL.Driver)
		}
		if c.SQL.DSN == "" {
			return fmt.Errorf("sql backend requires a dsn")
		}
		if c.SQL.MaxOpenConns < 0 || c.SQL.MaxIdleConns < 0 {
			return fmt.Errorf("invalid connection pool size: open=%d idle=%d", c.SQL.MaxOpenConns, c.SQL.MaxIdleConns)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Limits.MaxResults <= 0 {
		return fmt.Errorf("invalid max results: %d", c.Limits.MaxResults)
	}
	if c.Limits.MaxValueSize <= 0 {
		return fmt.Errorf("invalid max value size: %d", c.Limits.MaxValueSize)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

// String returns a representation of the Config that is safe to log.
// The encryption passphrase and the DSN are never included.
func (c *Config) String() string {
	target := c.Storage.DataDir
	switch {
	case c.Storage.Backend == BackendSQL:
		target = c.SQL.Driver
	case c.Storage.Backend == BackendMemory, c.Storage.InMemory:
		target = "memory"
	}
	return fmt.Sprintf(
		"Config{Backend: %s, Target: %s, Encrypted: %v, MaxResults: %d, StrictLimits: %v, Log: %s/%s}",
		c.Storage.Backend, target,
		c.Storage.EncryptionPassphrase != "",
		c.Limits.MaxResults, c.Limits.StrictLimits,
		c.Logging.Level, c.Logging.Format,
	)
}
