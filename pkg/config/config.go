package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"assetvault/pkg/meta"
	"assetvault/pkg/types"

	"github.com/spf13/viper"
)

// Config is the typed view of all settings.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

type StorageConfig struct {
	Backend string       `mapstructure:"backend"` // file | db | object
	Path    string       `mapstructure:"path"`    // root directory of the file backend
	Metrics bool         `mapstructure:"metrics"` // wrap the backend with Prometheus instrumentation
	Object  ObjectConfig `mapstructure:"object"`
}

type ObjectConfig struct {
	Driver      string `mapstructure:"driver"` // s3 | minio; see Config.ObjectDriver
	Endpoint    string `mapstructure:"endpoint"`
	Region      string `mapstructure:"region"`
	Bucket      string `mapstructure:"bucket"`
	AccessKey   string `mapstructure:"access_key"`
	SecretKey   string `mapstructure:"secret_key"`
	UseSSL      bool   `mapstructure:"use_ssl"`
	PartSize    int64  `mapstructure:"part_size"`
	Concurrency int    `mapstructure:"concurrency"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres | sqlite, plus the aliases meta.NormalizeDriver knows
	DSN             string        `mapstructure:"dsn"`    // overrides host/port/... when set
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogSQL          bool          `mapstructure:"log_sql"`
}

type CacheConfig struct {
	RedisURL     string        `mapstructure:"redis_url"`
	TTL          time.Duration `mapstructure:"ttl"`
	MaxItemBytes int64         `mapstructure:"max_item_bytes"`
}

// Enabled reports whether a Redis cache is configured.
func (c CacheConfig) Enabled() bool { return c.RedisURL != "" }

type ServerConfig struct {
	Addr                  string        `mapstructure:"addr"`
	GRPCAddr              string        `mapstructure:"grpc_addr"`
	ShutdownTimeout       time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes        int64         `mapstructure:"max_upload_bytes"`
	RequireModelExtension bool          `mapstructure:"require_model_extension"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error
	Format string `mapstructure:"format"` // text | json
}

// BackendKind returns the parsed storage.backend setting.
func (c *Config) BackendKind() (types.BackendKind, error) {
	return types.ParseBackendKind(c.Storage.Backend)
}

// ObjectDriver returns the client library for the object backend. The
// backend spellings "s3" and "minio" select their driver directly and win
// over storage.object.driver; backend "object" defers to it.
func (c *Config) ObjectDriver() string {
	switch b := strings.ToLower(strings.TrimSpace(c.Storage.Backend)); b {
	case "s3", "minio":
		return b
	}
	return strings.ToLower(strings.TrimSpace(c.Storage.Object.Driver))
}

// Validate checks the settings the selected components depend on.
func (c *Config) Validate() error {
	kind, err := c.BackendKind()
	if err != nil {
		return err
	}
	switch kind {
	case types.KindFile:
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the file backend")
		}
	case types.KindObject:
		if c.Storage.Object.Bucket == "" {
			return errors.New("storage.object.bucket is required for the object backend")
		}
		switch c.ObjectDriver() {
		case "s3", "minio":
		default:
			return fmt.Errorf("unsupported object driver: %q", c.Storage.Object.Driver)
		}
	}

	driver := meta.NormalizeDriver(c.Database.Driver)
	switch driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if driver == "sqlite" && c.Database.DSN == "" {
		return errors.New("database.dsn is required for sqlite")
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses log.level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q: %w", l.Level, err)
	}
	return level, nil
}

// Current decodes and validates the global viper state.
func Current() (*Config, error) {
	return FromViper(viper.GetViper())
}

// FromViper decodes and validates v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
