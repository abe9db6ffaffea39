// Package config implements daemon configuration (§4.8): a config file
// plus SYNCENGINE_*-prefixed environment overrides, via
// github.com/spf13/viper — the pack's dominant configuration idiom.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the daemon's full runtime configuration.
type Config struct {
	SocketPath string `mapstructure:"socket_path"`
	DBPath     string `mapstructure:"db_path"`
	SyncMetaDBPath string `mapstructure:"sync_meta_db_path"`
	LockPath   string `mapstructure:"lock_path"`

	Workers int `mapstructure:"workers"`

	LogPath   string `mapstructure:"log_path"`
	LogJSON   bool   `mapstructure:"log_json"`
	LogLevel  string `mapstructure:"log_level"`

	FlowControl FlowControlConfig `mapstructure:"flow_control"`
}

// FlowControlConfig configures the default Flow Controller when the
// daemon runs without a connector-supplied one (§4.3).
type FlowControlConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	RequestsPerSecond  float64 `mapstructure:"requests_per_second"`
	Burst              int     `mapstructure:"burst"`
}

func defaults() Config {
	return Config{
		SocketPath: "/var/run/syncengined.sock",
		DBPath:     "syncengine-tasks.db",
		SyncMetaDBPath: "syncengine-meta.db",
		LockPath:   "syncengined.lock",
		Workers:    8,
		LogLevel:   "info",
		FlowControl: FlowControlConfig{
			Enabled:           false,
			RequestsPerSecond: 5,
			Burst:             1,
		},
	}
}

// Load reads configFile (if non-empty) and SYNCENGINE_*-prefixed
// environment variables into a Config, falling back to defaults for
// anything unset.
func Load(configFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SYNCENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := defaults()
	v.SetDefault("socket_path", d.SocketPath)
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("sync_meta_db_path", d.SyncMetaDBPath)
	v.SetDefault("lock_path", d.LockPath)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("flow_control.enabled", d.FlowControl.Enabled)
	v.SetDefault("flow_control.requests_per_second", d.FlowControl.RequestsPerSecond)
	v.SetDefault("flow_control.burst", d.FlowControl.Burst)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
