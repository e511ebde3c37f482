package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/collective/internal/consistency"
	"github.com/dyluth/collective/internal/printer"
	"github.com/dyluth/collective/internal/sharedctx"
)

var goalCmd = &cobra.Command{
	Use:   "goal",
	Short: "Show the collective's current goal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(ctx context.Context, reg *sharedctx.Registry) error {
			goal, ok, err := reg.CurrentGoal(ctx)
			if err != nil {
				return fmt.Errorf("failed to read goal: %w", err)
			}
			if !ok {
				printer.Info("No goal set for instance '%s'\n", instanceName)
				return nil
			}
			printer.Println(goal)
			return nil
		})
	},
}

var goalSetCmd = &cobra.Command{
	Use:   "set GOAL...",
	Short: "Replace the collective's current goal",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		goal := strings.Join(args, " ")
		return withRegistry(func(ctx context.Context, reg *sharedctx.Registry) error {
			if err := reg.SetCurrentGoal(ctx, goal); err != nil {
				return fmt.Errorf("failed to set goal: %w", err)
			}
			printer.Success("Goal set: %s\n", goal)
			return nil
		})
	},
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Read and write shared context items",
	Long: `Shared context items are JSON values every node can read. Writes are
serialized through the instance's consistency locks.

Examples:
  collective context set deadline '"2025-11-01"'
  collective context get deadline
  collective context rm deadline`,
}

var contextGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print a context item as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(ctx context.Context, reg *sharedctx.Registry) error {
			value, ok, err := sharedctx.GetContextItem[json.RawMessage](ctx, reg, args[0])
			if err != nil {
				return fmt.Errorf("failed to read context item: %w", err)
			}
			if !ok {
				return printer.Error(fmt.Sprintf("context item '%s' not found", args[0]), "", nil)
			}
			printer.Println(string(value))
			return nil
		})
	},
}

var contextSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a context item (JSON, or text stored as a JSON string)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var value any = args[1]
		if json.Valid([]byte(args[1])) {
			value = json.RawMessage(args[1])
		}
		return withRegistry(func(ctx context.Context, reg *sharedctx.Registry) error {
			if err := reg.SetContextItem(ctx, args[0], value); err != nil {
				return fmt.Errorf("failed to set context item: %w", err)
			}
			printer.Success("Context item '%s' set\n", args[0])
			return nil
		})
	},
}

var contextRmCmd = &cobra.Command{
	Use:   "rm KEY",
	Short: "Remove a context item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRegistry(func(ctx context.Context, reg *sharedctx.Registry) error {
			existed, err := reg.RemoveContextItem(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to remove context item: %w", err)
			}
			if !existed {
				printer.Warning("Context item '%s' did not exist\n", args[0])
				return nil
			}
			printer.Success("Context item '%s' removed\n", args[0])
			return nil
		})
	},
}

func init() {
	goalCmd.AddCommand(goalSetCmd)
	contextCmd.AddCommand(contextGetCmd, contextSetCmd, contextRmCmd)
	rootCmd.AddCommand(goalCmd, contextCmd)
}

// withRegistry runs fn against the instance's shared context. The registry
// cache is disabled since every CLI invocation is a single read or write.
func withRegistry(fn func(ctx context.Context, reg *sharedctx.Registry) error) error {
	ctx := context.Background()

	client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	manager := consistency.NewRedisManager(client, consistency.Options{})
	defer func() {
		if err := manager.Close(ctx); err != nil {
			printer.Warning("Failed to release locks: %v\n", err)
		}
	}()

	reg, err := sharedctx.New(manager, sharedctx.Options{CacheTTL: -1})
	if err != nil {
		return err
	}
	defer reg.Close()

	return fn(ctx, reg)
}
