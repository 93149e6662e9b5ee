package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/edgeflare/pgfan/pkg/transport"
	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds application-wide configuration
type Config struct {
	Source   SourceConfig              `mapstructure:"source"`
	Server   ServerConfig              `mapstructure:"server"`
	Log      LogConfig                 `mapstructure:"log"`
	Delivery DeliveryConfig            `mapstructure:"delivery"`
	Metrics  MetricsConfig             `mapstructure:"metrics"`
	Webhooks []transport.WebhookConfig `mapstructure:"webhooks"`
}

// LogConfig bounds the append log.
type LogConfig struct {
	// Capacity is the retention capacity: max events kept before
	// oldest-first eviction
	Capacity int `mapstructure:"capacity"`
}

// DeliveryConfig tunes per-subscriber delivery loops.
type DeliveryConfig struct {
	// InitialCursor is "tail" (live events only) or "begin" (replay
	// retained history on connect)
	InitialCursor string        `mapstructure:"initialCursor"`
	PollInterval  time.Duration `mapstructure:"pollInterval"`
}

// SourceConfig selects and configures the upstream CDC transport.
type SourceConfig struct {
	Config    map[string]any `mapstructure:"config"`
	Connector string         `mapstructure:"connector"`
}

type ServerConfig struct {
	ListenAddr string   `mapstructure:"listenAddr"`
	Table      string   `mapstructure:"table"`
	PG         PGConfig `mapstructure:"pg"`
}

type PGConfig struct {
	ConnString string `mapstructure:"connString"`
}

type MetricsConfig struct {
	Addr    string `mapstructure:"addr"`
	Enabled bool   `mapstructure:"enabled"`
}

// Load reads config from file or environment
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pgfan")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("PGFAN")

	v.SetDefault("log.capacity", 1024)
	v.SetDefault("delivery.pollInterval", 250*time.Millisecond)
	v.SetDefault("delivery.initialCursor", "tail")
	v.SetDefault("source.connector", "postgres")
	v.SetDefault("server.listenAddr", ":8080")
	v.SetDefault("server.table", "messages")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9100")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &cfg, nil
}
