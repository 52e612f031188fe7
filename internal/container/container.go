// Package container is the composition root: it resolves configuration and
// wires the lifecycle manager and tool surface together for cmd/wassette.
package container

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/duffney/wassette/internal/config"
	"github.com/duffney/wassette/internal/lifecycle"
	"github.com/duffney/wassette/internal/tools"
)

// Options configure the container. An empty ConfigPath falls back to the
// platform default resolved by config.DefaultConfigPath. A nil Flags skips
// the CLI-flag override layer entirely, leaving env/file/default in effect.
type Options struct {
	ConfigPath string
	Flags      *pflag.FlagSet
	Logger     *zap.Logger
}

// Container holds every long-lived dependency cmd/wassette needs.
type Container struct {
	cfg     config.Config
	manager *lifecycle.Manager
	surface *tools.Surface
	logger  *zap.Logger
}

// New resolves configuration, builds the lifecycle manager, runs reboot
// recovery over its plugin directory, and wires the tool surface on top.
func New(ctx context.Context, opts Options) (*Container, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	loader := config.NewLoader()
	if opts.Flags != nil {
		if err := loader.BindFlags(opts.Flags); err != nil {
			return nil, fmt.Errorf("bind config flags: %w", err)
		}
	}

	cfg, err := loader.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	manager, err := lifecycle.New(ctx, lifecycle.Config{
		PluginDir:          cfg.PluginDir,
		SecretsDir:         cfg.SecretsDir,
		EnvironmentAllowed: cfg.EnvironmentAllowed,
	}, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("build lifecycle manager: %w", err)
	}

	if err := manager.RecoverOnBoot(ctx); err != nil {
		opts.Logger.Warn("reboot recovery did not complete cleanly", zap.Error(err))
	}

	surface := tools.New(manager, opts.Logger)

	return &Container{cfg: cfg, manager: manager, surface: surface, logger: opts.Logger}, nil
}

// Config returns the resolved runtime configuration.
func (c *Container) Config() config.Config { return c.cfg }

// Manager returns the lifecycle manager.
func (c *Container) Manager() *lifecycle.Manager { return c.manager }

// ToolSurface returns the tool surface built on top of the manager.
func (c *Container) ToolSurface() *tools.Surface { return c.surface }

// Logger returns the logger every component was constructed with.
func (c *Container) Logger() *zap.Logger { return c.logger }

// Close releases the wasm runtime and any other resources held by the
// lifecycle manager.
func (c *Container) Close(ctx context.Context) error {
	return c.manager.Close(ctx)
}
