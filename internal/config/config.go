// Package config resolves runtime configuration: plugin directory, secrets
// directory, and the set of environment variables components may inherit
// from the host. Precedence is CLI flag > WASSETTE_* env var > config file >
// platform default, the chain layered through viper.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully-resolved runtime configuration.
type Config struct {
	PluginDir          string   `mapstructure:"plugin_dir"`
	SecretsDir         string   `mapstructure:"secrets_dir"`
	EnvironmentAllowed []string `mapstructure:"environment_vars"`
}

// Loader resolves Config from a TOML file plus CLI flags and environment
// overrides.
type Loader struct {
	v *viper.Viper
}

// NewLoader builds a Loader seeded with platform defaults.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix("WASSETTE")
	v.AutomaticEnv()

	defaultDir := defaultStateDir()
	v.SetDefault("plugin_dir", filepath.Join(defaultDir, "components"))
	v.SetDefault("secrets_dir", filepath.Join(defaultDir, "secrets"))
	v.SetDefault("environment_vars", []string{})

	return &Loader{v: v}
}

// flagBindings maps a resolved Config key to the CLI flag name that overrides
// it, so callers can register idiomatic dash-separated flag names while
// Config keeps the underscore-separated names its TOML/env layers use.
var flagBindings = map[string]string{
	"plugin_dir":       "plugin-dir",
	"secrets_dir":      "secrets-dir",
	"environment_vars": "env-allow",
}

// BindFlags binds a command's flag set so any flag the user actually set
// outranks the config file and environment for that key. Flags absent from
// the set (a subcommand that doesn't expose them) are silently skipped.
func (l *Loader) BindFlags(flags *pflag.FlagSet) error {
	for key, flagName := range flagBindings {
		flag := flags.Lookup(flagName)
		if flag == nil {
			continue
		}
		if err := l.v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", flagName, err)
		}
	}
	return nil
}

// Load reads path (if it exists) as TOML, merges it under the default and
// environment layers, and returns the resolved Config. A missing file is not
// an error: defaults and environment variables still apply.
func (l *Loader) Load(path string) (Config, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			var probe map[string]any
			if err := toml.Unmarshal(data, &probe); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
			l.v.SetConfigType("toml")
			if err := l.v.ReadConfig(bytes.NewReader(data)); err != nil {
				return Config{}, fmt.Errorf("load config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to defaults/env only
		default:
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// DefaultConfigPath returns the platform-conventional location of the TOML
// config file.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.toml")
}

func defaultConfigDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "wassette")
		}
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "wassette")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".config", "wassette")
	}
	return filepath.Join(".", ".wassette")
}

func defaultStateDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "wassette")
		}
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "wassette")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".local", "share", "wassette")
	}
	return filepath.Join(".", ".wassette")
}
