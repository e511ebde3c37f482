package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/collective/internal/consistency"
	"github.com/dyluth/collective/internal/printer"
	"github.com/dyluth/collective/internal/strategy"
)

var consensusCmd = &cobra.Command{
	Use:   "consensus [TOPIC]",
	Short: "Show the consensus ledger",
	Long: `Show the strongest consensus recorded per topic.

Nodes record every converged merge in the shared ledger; a record is only
replaced by a merge with at least the same confidence or more sources.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConsensus,
}

func init() {
	rootCmd.AddCommand(consensusCmd)
}

func runConsensus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if len(args) == 1 {
		manager := consistency.NewRedisManager(client, consistency.Options{})
		record, ok, err := strategy.ReadConsensus(ctx, manager, args[0])
		if err != nil {
			return fmt.Errorf("failed to read consensus: %w", err)
		}
		if !ok {
			return printer.Error(
				fmt.Sprintf("no consensus for topic '%s'", args[0]),
				"No node has recorded a converged merge for this topic yet.",
				[]string{"List recorded topics:\n  collective consensus"},
			)
		}
		data, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		printer.Println(string(data))
		return nil
	}

	state, err := client.ReadAllState(ctx)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	prefix := strategy.LedgerKey("")
	var records []strategy.ConsensusRecord
	for key, raw := range state {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		var r strategy.ConsensusRecord
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			printer.Warning("Skipping malformed ledger entry %s: %v\n", key, err)
			continue
		}
		records = append(records, r)
	}

	if len(records) == 0 {
		printer.Info("No consensus recorded for instance '%s'\n", instanceName)
		return nil
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Topic < records[j].Topic })

	printer.Printf("%-20s  %-8s  %-4s  %-7s  %-9s  %s\n", "TOPIC", "INSIGHT", "CONF", "SOURCES", "STABILITY", "UPDATED")
	for _, r := range records {
		printer.Printf("%-20s  %-8s  %.2f  %-7d  %-9.4f  %s\n",
			r.Topic, r.InsightID[:min(8, len(r.InsightID))], r.Confidence, r.Sources, r.Stability,
			time.UnixMilli(r.UpdatedAtMs).UTC().Format(time.RFC3339))
	}
	return nil
}
