package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spf13/pflag"
)

func writeTestConfig(t *testing.T, pluginDir, secretsDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := fmt.Sprintf("plugin_dir = %q\nsecrets_dir = %q\n", pluginDir, secretsDir)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestNewWiresManagerAndToolSurfaceFromConfigFile(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), t.TempDir())

	c, err := New(context.Background(), Options{ConfigPath: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	assert.NotNil(t, c.Manager())
	assert.NotNil(t, c.ToolSurface())
	assert.NotNil(t, c.Logger())
	assert.Empty(t, c.Manager().List())
}

func TestNewUsesNopLoggerWhenNoneSupplied(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), t.TempDir())

	c, err := New(context.Background(), Options{ConfigPath: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	assert.NotNil(t, c.Logger())
}

func TestNewFlagOverridesConfigFilePluginDir(t *testing.T) {
	fileDir := t.TempDir()
	flagDir := t.TempDir()
	path := writeTestConfig(t, fileDir, t.TempDir())

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("plugin-dir", "", "")
	require.NoError(t, flags.Set("plugin-dir", flagDir))

	c, err := New(context.Background(), Options{ConfigPath: path, Flags: flags})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	assert.Equal(t, flagDir, c.Config().PluginDir)
}

func TestNewRejectsUnreadableConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("not valid toml ["), 0o644))

	_, err := New(context.Background(), Options{ConfigPath: path})
	assert.Error(t, err)
}
