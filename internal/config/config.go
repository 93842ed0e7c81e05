// Package config loads project configuration for rosterlab.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "rosterlab.yaml"

// ConfigFileNameAlt is the alternate config file name.
const ConfigFileNameAlt = "rosterlab.yml"

// Defaults applied before any provider loads.
const (
	DefaultStatePath   = "rosterlab.db"
	DefaultCorpusDir   = "corpus"
	DefaultRulesPath   = "rules.json"
	DefaultSnapshotDir = "snapshots"
	DefaultLogLevel    = "info"
)

// Config is the resolved project configuration.
type Config struct {
	StatePath          string `koanf:"state_path"`
	CorpusDir          string `koanf:"corpus_dir"`
	RulesPath          string `koanf:"rules_path"`
	SnapshotDir        string `koanf:"snapshot_dir"`
	DisallowCustomCode bool   `koanf:"disallow_custom_code"`
	LogLevel           string `koanf:"log_level"`
	Verbose            bool   `koanf:"verbose"`
}

// findConfigFile finds the config file to use.
// Priority: explicit path > rosterlab.yaml > rosterlab.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load loads configuration from file, environment variables and flags.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]interface{}{
		"state_path":           DefaultStatePath,
		"corpus_dir":           DefaultCorpusDir,
		"rules_path":           DefaultRulesPath,
		"snapshot_dir":         DefaultSnapshotDir,
		"disallow_custom_code": false,
		"log_level":            DefaultLogLevel,
		"verbose":              false,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if used := findConfigFile(cfgFile); used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// ROSTERLAB_STATE_PATH -> state_path
	if err := k.Load(env.Provider("ROSTERLAB_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "ROSTERLAB_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			switch key {
			case "state":
				key = "state_path"
			case "rules":
				key = "rules_path"
			case "corpus":
				key = "corpus_dir"
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}
