package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/collective/internal/printer"
)

var nodesStaleAfter time.Duration

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List the nodes registered for the instance",
	Long: `List the nodes registered for the instance with the age of their last
heartbeat. Nodes silent for longer than --stale are marked unreachable and
are skipped by broadcasts.`,
	Args: cobra.NoArgs,
	RunE: runNodes,
}

func init() {
	nodesCmd.Flags().DurationVar(&nodesStaleAfter, "stale", 15*time.Second, "Heartbeat age after which a node is unreachable")
	rootCmd.AddCommand(nodesCmd)
}

func runNodes(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	nodes, err := client.Nodes(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}

	if len(nodes) == 0 {
		printer.Info("No nodes registered for instance '%s'\n", instanceName)
		return nil
	}

	now := time.Now()
	printer.Printf("%-36s  %-10s  %s\n", "NODE", "LAST SEEN", "STATE")
	for _, n := range nodes {
		age := now.Sub(n.LastSeen).Truncate(time.Second)
		state := "reachable"
		if nodesStaleAfter > 0 && age > nodesStaleAfter {
			state = "stale"
		}
		printer.Printf("%-36s  %-10s  %s\n", n.ID, age.String()+" ago", state)
	}
	return nil
}
