// Package config loads factdb's CLI-level settings (store path, client
// identity, replication transport) from a config.yaml file overlaid with
// environment variables and flags: flag > env > file > default.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds the settings cmd/factdb needs beyond what a single query
// invocation passes on the command line.
type Config struct {
	DBPath      string `mapstructure:"db"`
	ClientID    string `mapstructure:"client"`
	Salt        string `mapstructure:"salt"`
	DynamoTable string `mapstructure:"dynamo_table"`
	Telemetry   string `mapstructure:"telemetry"`
}

// defaultConfigName is the file basename Load searches for, without
// extension; viper resolves config.yaml, config.yml, etc.
const defaultConfigName = "config"

// Load reads path (if non-empty) or searches the current directory and
// $HOME/.factdb for a config file, overlays FACTDB_-prefixed environment
// variables, and returns the result. A missing config file is not an
// error: Load returns a Config of zero values the caller can default and
// override with flags.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FACTDB")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".factdb"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	cfg := &Config{
		DBPath:      v.GetString("db"),
		ClientID:    v.GetString("client"),
		Salt:        v.GetString("salt"),
		DynamoTable: v.GetString("dynamo_table"),
		Telemetry:   v.GetString("telemetry"),
	}
	return cfg, nil
}

// localOverrides is the subset of config.yaml PreferDolt checks, read with
// a raw yaml.Unmarshal instead of viper so it still works from code paths
// that only have a bare directory, not a configured viper instance.
type localOverrides struct {
	PreferDolt bool `yaml:"prefer-dolt"`
}

// PreferDoltConfigured reports whether prefer-dolt: true is set in
// configDir/config.yaml, bypassing the full config precedence chain for
// this one boolean.
func PreferDoltConfigured(configDir string) bool {
	data, err := os.ReadFile(filepath.Join(configDir, defaultConfigName+".yaml"))
	if err != nil {
		return false
	}
	var local localOverrides
	if err := yaml.Unmarshal(data, &local); err != nil {
		return false
	}
	return local.PreferDolt
}
