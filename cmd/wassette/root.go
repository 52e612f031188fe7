package main

import (
	"go.uber.org/zap"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "wassette",
	Short: "A security-oriented runtime for WebAssembly Components",
	Long: `wassette hosts sandboxed WebAssembly Components and exposes their
exports as MCP tools, gated by a capability policy attached to each
component. Components run with no ambient authority: filesystem, network,
and environment access are all denied by default and must be explicitly
granted.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return setupLogging()
	},
	PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
		if logger != nil {
			return logger.Sync()
		}
		return nil
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: platform-specific config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().String("plugin-dir", "", "directory components are loaded from (overrides config file and WASSETTE_PLUGIN_DIR)")
	rootCmd.PersistentFlags().String("secrets-dir", "", "directory the secret store persists to (overrides config file and WASSETTE_SECRETS_DIR)")
	rootCmd.PersistentFlags().StringSlice("env-allow", nil, "host environment variable names components may inherit (overrides config file and WASSETTE_ENVIRONMENT_VARS)")
}

func setupLogging() error {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	built, err := cfg.Build()
	if err != nil {
		return err
	}
	logger = built
	return nil
}
