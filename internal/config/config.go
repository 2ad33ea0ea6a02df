// Package config loads server configuration from the environment and
// an optional config file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Log      LogConfig
}

// ServerConfig represents the HTTP server configuration.
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig represents the backing database configuration.
type DatabaseConfig struct {
	// Driver is "sqlite3" or "postgres".
	Driver string
	DSN    string
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level  string
	Pretty bool
}

// Load reads configuration: defaults, then an optional config file,
// then environment variables (highest precedence, prefixed ESCOPE_).
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "file:entityscope.db?_pragma=foreign_keys(1)")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	v.SetEnvPrefix("ESCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		Database: DatabaseConfig{
			Driver: v.GetString("database.driver"),
			DSN:    v.GetString("database.dsn"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Pretty: v.GetBool("log.pretty"),
		},
	}
	switch cfg.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("config: unsupported database driver %q", cfg.Database.Driver)
	}
	return cfg, nil
}
