package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override: AV_STORAGE_BACKEND=object.
const EnvPrefix = "AV"

// Load initialises the global viper instance.
// cfgFile is optional; without it config.yaml is searched for in ".",
// "./.av" and "$HOME/.av". A missing file is fine, defaults and env vars apply.
func Load(cfgFile string) error {
	setDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(".av")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".av"))
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	bindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("fatal error config file: %w", err)
		}
		slog.Debug("no config file found, using defaults and environment")
	} else {
		slog.Debug("using config file", slog.String("path", viper.ConfigFileUsed()))
	}
	return nil
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// setDefaults registers every key, so AutomaticEnv overrides reach Unmarshal
// even for keys no config file mentions.
func setDefaults(v *viper.Viper) {
	// Storage
	wd, _ := os.Getwd()
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.path", filepath.Join(wd, ".av", "objects"))
	v.SetDefault("storage.metrics", true)
	v.SetDefault("storage.object.driver", "s3")
	v.SetDefault("storage.object.endpoint", "")
	v.SetDefault("storage.object.region", "us-east-1")
	v.SetDefault("storage.object.bucket", "")
	v.SetDefault("storage.object.access_key", "")
	v.SetDefault("storage.object.secret_key", "")
	v.SetDefault("storage.object.use_ssl", false)
	v.SetDefault("storage.object.part_size", 8<<20)
	v.SetDefault("storage.object.concurrency", 4)

	// Database
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "assetvault")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.log_sql", false)

	// Cache (disabled without a URL)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.max_item_bytes", 4<<20)

	// Server
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.max_upload_bytes", 512<<20)
	v.SetDefault("server.require_model_extension", false)

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
