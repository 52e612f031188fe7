package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duffney/wassette/internal/container"
	"github.com/duffney/wassette/internal/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and mutate component capability policies",
}

var policyGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print the policy attached to a component",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd.Context(), func(_ context.Context, c *container.Container) error {
			doc, err := c.Manager().GetPolicy(args[0])
			if err != nil {
				return err
			}
			return printJSON(doc)
		})
	},
}

var policyResetCmd = &cobra.Command{
	Use:   "reset <id>",
	Short: "Delete a component's policy entirely",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd.Context(), func(_ context.Context, c *container.Container) error {
			return c.Manager().ResetPolicy(args[0])
		})
	},
}

var grantStorageCmd = &cobra.Command{
	Use:   "grant-storage <id> <uri> <read|write>...",
	Short: "Grant filesystem access to a component",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		modes := make([]policy.AccessMode, 0, len(args)-2)
		for _, a := range args[2:] {
			modes = append(modes, policy.AccessMode(a))
		}
		return withContainer(cmd.Context(), func(_ context.Context, c *container.Container) error {
			_, err := c.Manager().Grant(args[0], func(d *policy.Document) *policy.Document {
				return policy.GrantStorage(d, args[1], modes...)
			})
			return err
		})
	},
}

var revokeStorageCmd = &cobra.Command{
	Use:   "revoke-storage <id> <uri>",
	Short: "Revoke filesystem access from a component",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd.Context(), func(_ context.Context, c *container.Container) error {
			_, err := c.Manager().Revoke(args[0], func(d *policy.Document) *policy.Document {
				return policy.RevokeStorage(d, args[1])
			})
			return err
		})
	},
}

var grantNetworkCmd = &cobra.Command{
	Use:   "grant-network <id> <host>",
	Short: "Grant outbound network access to a host",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd.Context(), func(_ context.Context, c *container.Container) error {
			_, err := c.Manager().Grant(args[0], func(d *policy.Document) *policy.Document {
				return policy.GrantNetwork(d, args[1])
			})
			return err
		})
	},
}

var revokeNetworkCmd = &cobra.Command{
	Use:   "revoke-network <id> <host>",
	Short: "Revoke outbound network access to a host",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd.Context(), func(_ context.Context, c *container.Container) error {
			_, err := c.Manager().Revoke(args[0], func(d *policy.Document) *policy.Document {
				return policy.RevokeNetwork(d, args[1])
			})
			return err
		})
	},
}

var grantMemoryCmd = &cobra.Command{
	Use:   "grant-memory <id> <limit>",
	Short: "Set a component's memory limit (e.g. 64Mi)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd.Context(), func(_ context.Context, c *container.Container) error {
			var grantErr error
			_, err := c.Manager().Grant(args[0], func(d *policy.Document) *policy.Document {
				updated, gerr := policy.GrantMemory(d, args[1])
				if gerr != nil {
					grantErr = gerr
					return d
				}
				return updated
			})
			if grantErr != nil {
				return fmt.Errorf("invalid memory limit: %w", grantErr)
			}
			return err
		})
	},
}

func init() {
	policyCmd.AddCommand(policyGetCmd, policyResetCmd, grantStorageCmd, revokeStorageCmd, grantNetworkCmd, revokeNetworkCmd, grantMemoryCmd)
	rootCmd.AddCommand(policyCmd)
}
