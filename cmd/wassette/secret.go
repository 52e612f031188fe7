package main

import (
	"context"
	"sort"

	"github.com/spf13/cobra"

	"github.com/duffney/wassette/internal/container"
	"github.com/duffney/wassette/internal/errs"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage per-component secret values",
}

var secretListCmd = &cobra.Command{
	Use:   "list <id>",
	Short: "List the secret keys stored for a component",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd.Context(), func(_ context.Context, c *container.Container) error {
			values, err := c.Manager().Secrets().List(args[0])
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			return printJSON(keys)
		})
	},
}

var secretSetCmd = &cobra.Command{
	Use:   "set <id> <key> <value>",
	Short: "Set a secret value for a component",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd.Context(), func(_ context.Context, c *container.Container) error {
			if _, ok := c.Manager().Get(args[0]); !ok {
				return errs.Wrap("secret-set", args[0], errs.ErrUnknownComponent)
			}
			return c.Manager().Secrets().Set(args[0], args[1], args[2])
		})
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete <id> <key>",
	Short: "Delete a secret value for a component",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd.Context(), func(_ context.Context, c *container.Container) error {
			return c.Manager().Secrets().Delete(args[0], args[1])
		})
	},
}

func init() {
	secretCmd.AddCommand(secretListCmd, secretSetCmd, secretDeleteCmd)
	rootCmd.AddCommand(secretCmd)
}
