package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/collective/internal/printer"
	"github.com/dyluth/collective/internal/scaffold"
)

var (
	forceInit    bool
	initNodeID   string
	initTask     string
	initStrategy string
)

var initCmd = &cobra.Command{
	Use:   "init [DIR]",
	Short: "Write a starter collective.yml for a new node",
	Long: `Write collective.yml into DIR (default: the current directory) with a fresh
node ID and the connection settings of --redis-url and --instance.

Use --force to overwrite an existing collective.yml.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing collective.yml")
	initCmd.Flags().StringVar(&initNodeID, "node-id", "", "Node ID (default: a fresh UUID)")
	initCmd.Flags().StringVar(&initTask, "task", "", "Task the node integrates for")
	initCmd.Flags().StringVar(&initStrategy, "strategy", "", "consensus-formation (default) or cross-node-integration")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	cfg, err := scaffold.Initialize(dir, scaffold.Options{
		NodeID:   initNodeID,
		Task:     initTask,
		Strategy: initStrategy,
		RedisURL: redisURL,
		Instance: instanceName,
	}, forceInit)
	if err != nil {
		return printer.Error("initialization failed", err.Error(), nil)
	}

	scaffold.PrintSuccess(printer.Out, cfg)
	return nil
}
