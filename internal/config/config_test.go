package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenNothingElseIsSet(t *testing.T) {
	cfg, err := NewLoader().Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.PluginDir)
	assert.NotEmpty(t, cfg.SecretsDir)
	assert.Empty(t, cfg.EnvironmentAllowed)
}

func TestLoadFileOverridesDefault(t *testing.T) {
	path := writeConfigFile(t, `plugin_dir = "/from/file"`)
	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/file", cfg.PluginDir)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `plugin_dir = "/from/file"`)
	t.Setenv("WASSETTE_PLUGIN_DIR", "/from/env")

	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.PluginDir)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := NewLoader().Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.PluginDir)
}

func TestBindFlagsFlagOverridesEnvAndFile(t *testing.T) {
	path := writeConfigFile(t, `plugin_dir = "/from/file"`)
	t.Setenv("WASSETTE_PLUGIN_DIR", "/from/env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("plugin-dir", "", "")
	require.NoError(t, flags.Set("plugin-dir", "/from/flag"))

	loader := NewLoader()
	require.NoError(t, loader.BindFlags(flags))

	cfg, err := loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.PluginDir)
}

func TestBindFlagsUnsetFlagLeavesLowerTiersInEffect(t *testing.T) {
	path := writeConfigFile(t, `plugin_dir = "/from/file"`)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("plugin-dir", "", "")

	loader := NewLoader()
	require.NoError(t, loader.BindFlags(flags))

	cfg, err := loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/file", cfg.PluginDir)
}

func TestBindFlagsSkipsFlagsAbsentFromTheSet(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	loader := NewLoader()
	assert.NoError(t, loader.BindFlags(flags))
}

func TestDefaultConfigPathEndsInConfigToml(t *testing.T) {
	assert.Equal(t, "config.toml", filepath.Base(DefaultConfigPath()))
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}
