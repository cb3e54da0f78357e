// Package config loads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/surrealdb/canvassync/pkg/constants"
)

const (
	BackendMemory    = "memory"
	BackendRelay     = "relay"
	BackendSurrealDB = "surrealdb"

	CacheFile   = "file"
	CacheSQLite = "sqlite"
)

type Config struct {
	Backend   string `mapstructure:"CANVAS_BACKEND"`
	RelayAddr string `mapstructure:"CANVAS_RELAY_ADDR"`
	RelayURL  string `mapstructure:"CANVAS_RELAY_URL"`

	SurrealURL  string `mapstructure:"SURREALDB_URL"`
	SurrealNS   string `mapstructure:"SURREALDB_NS"`
	SurrealDB   string `mapstructure:"SURREALDB_DB"`
	SurrealUser string `mapstructure:"SURREALDB_USER"`
	SurrealPass string `mapstructure:"SURREALDB_PASS"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	CacheDriver string `mapstructure:"CANVAS_CACHE_DRIVER"`
	CachePath   string `mapstructure:"CANVAS_CACHE_PATH"`

	InviteSecret string        `mapstructure:"CANVAS_INVITE_SECRET"`
	HistoryDepth int           `mapstructure:"CANVAS_HISTORY_DEPTH"`
	Debounce     time.Duration `mapstructure:"CANVAS_DEBOUNCE"`
	LogLevel     string        `mapstructure:"CANVAS_LOG_LEVEL"`

	S3Endpoint  string `mapstructure:"S3_ENDPOINT"`
	S3Region    string `mapstructure:"S3_REGION"`
	S3Bucket    string `mapstructure:"S3_BUCKET"`
	S3AccessKey string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey string `mapstructure:"S3_SECRET_KEY"`
	S3UseSSL    bool   `mapstructure:"S3_USE_SSL"`
	S3PathStyle bool   `mapstructure:"S3_PATH_STYLE"`
}

var defaults = map[string]any{
	"CANVAS_BACKEND":       BackendMemory,
	"CANVAS_RELAY_ADDR":    "127.0.0.1:8420",
	"CANVAS_RELAY_URL":     "ws://127.0.0.1:8420/rpc",
	"SURREALDB_NS":         "canvas",
	"SURREALDB_DB":         "canvas",
	"REDIS_DB":             0,
	"CANVAS_CACHE_DRIVER":  CacheFile,
	"CANVAS_HISTORY_DEPTH": constants.HistoryDepth,
	"CANVAS_DEBOUNCE":      constants.DebounceWindow,
	"CANVAS_LOG_LEVEL":     "info",
}

var keys = []string{
	"CANVAS_BACKEND", "CANVAS_RELAY_ADDR", "CANVAS_RELAY_URL",
	"SURREALDB_URL", "SURREALDB_NS", "SURREALDB_DB", "SURREALDB_USER", "SURREALDB_PASS",
	"REDIS_ADDR", "REDIS_DB", "REDIS_PASSWORD",
	"CANVAS_CACHE_DRIVER", "CANVAS_CACHE_PATH",
	"CANVAS_INVITE_SECRET", "CANVAS_HISTORY_DEPTH", "CANVAS_DEBOUNCE", "CANVAS_LOG_LEVEL",
	"S3_ENDPOINT", "S3_REGION", "S3_BUCKET", "S3_ACCESS_KEY", "S3_SECRET_KEY",
	"S3_USE_SSL", "S3_PATH_STYLE",
}

// Load reads envFile when it exists, then the environment. Variables
// already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendRelay:
	case BackendSurrealDB:
		if c.SurrealURL == "" {
			return fmt.Errorf("config: SURREALDB_URL is required for the %s backend", c.Backend)
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	switch c.CacheDriver {
	case CacheFile, CacheSQLite:
	default:
		return fmt.Errorf("config: unknown cache driver %q", c.CacheDriver)
	}
	if c.HistoryDepth < 1 {
		return fmt.Errorf("config: history depth must be positive, got %d", c.HistoryDepth)
	}
	return nil
}

func mask(s string) string {
	if s == "" {
		return "(empty)"
	}
	return "********"
}

// String lists the configuration with secrets masked.
func (c *Config) String() string {
	var sb strings.Builder
	line := func(k string, v any) {
		fmt.Fprintf(&sb, "  %s: %v\n", k, v)
	}
	sb.WriteString("\n")
	line("Backend", c.Backend)
	line("RelayAddr", c.RelayAddr)
	line("RelayURL", c.RelayURL)
	line("SurrealURL", c.SurrealURL)
	line("SurrealNS", c.SurrealNS)
	line("SurrealDB", c.SurrealDB)
	line("SurrealUser", c.SurrealUser)
	line("SurrealPass", mask(c.SurrealPass))
	line("RedisAddr", c.RedisAddr)
	line("RedisDB", c.RedisDB)
	line("RedisPassword", mask(c.RedisPassword))
	line("CacheDriver", c.CacheDriver)
	line("CachePath", c.CachePath)
	line("InviteSecret", mask(c.InviteSecret))
	line("HistoryDepth", c.HistoryDepth)
	line("Debounce", c.Debounce)
	line("LogLevel", c.LogLevel)
	line("S3Endpoint", c.S3Endpoint)
	line("S3Region", c.S3Region)
	line("S3Bucket", c.S3Bucket)
	line("S3AccessKey", mask(c.S3AccessKey))
	line("S3SecretKey", mask(c.S3SecretKey))
	line("S3UseSSL", c.S3UseSSL)
	line("S3PathStyle", c.S3PathStyle)
	return sb.String()
}
