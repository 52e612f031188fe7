package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duffney/wassette/internal/container"
)

var loadCmd = &cobra.Command{
	Use:   "load <path-or-oci-ref>",
	Short: "Load a component from a file path or oci:// reference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd.Context(), func(ctx context.Context, c *container.Container) error {
			entry, err := c.Manager().Load(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("loaded %s (%d tools)\n", entry.ID, len(entry.Tools))
			return nil
		})
	},
}

var unloadCmd = &cobra.Command{
	Use:   "unload <id>",
	Short: "Unload a component",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd.Context(), func(ctx context.Context, c *container.Container) error {
			if err := c.Manager().Unload(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("unloaded %s\n", args[0])
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded components and their tools",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withContainer(cmd.Context(), func(_ context.Context, c *container.Container) error {
			for _, entry := range c.Manager().List() {
				fmt.Printf("%s\n", entry.ID)
				for _, t := range entry.Tools {
					fmt.Printf("  %s\n", t.Name)
				}
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(loadCmd, unloadCmd, listCmd)
}

// withContainer builds a container, runs fn, and always tears it down
// afterward — the shared entry point for one-shot CLI subcommands.
func withContainer(ctx context.Context, fn func(context.Context, *container.Container) error) error {
	c, err := container.New(ctx, container.Options{ConfigPath: cfgFile, Flags: rootCmd.PersistentFlags(), Logger: logger})
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	defer c.Close(context.Background())
	return fn(ctx, c)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
