// Package config provides a reusable loader for chaincore configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"chaincore/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a chaincore node. It is
// the shape of the default.yaml (and optional <env>.yaml) files Load reads
// from cmd/chaincore/config or config; the repository ships no such files.
type Config struct {
	Backend struct {
		// Kind selects the Backend implementation: "mem" or "file".
		Kind string `mapstructure:"kind" json:"kind"`
		// Dir is the directory FileBackend journals its WAL and snapshot
		// into. Ignored for the in-memory backend.
		Dir string `mapstructure:"dir" json:"dir"`
		// SnapshotInterval is the number of committed operations between
		// snapshots of the FileBackend's state.
		SnapshotInterval int `mapstructure:"snapshot_interval" json:"snapshot_interval"`
	} `mapstructure:"backend" json:"backend"`

	Genesis struct {
		File string `mapstructure:"file" json:"file"`
	} `mapstructure:"genesis" json:"genesis"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
//
// The function uses the provided environment name to merge additional
// config files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/chaincore/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // consults process environment variables for known keys

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the CHAINCORE_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("CHAINCORE_ENV", ""))
}
