package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/collective/internal/catalog"
	"github.com/dyluth/collective/internal/filter"
	"github.com/dyluth/collective/internal/printer"
	"github.com/dyluth/collective/internal/resolver"
	"github.com/dyluth/collective/internal/timespec"
)

var (
	insightsOutputFormat string
	insightsSince        string
	insightsUntil        string
	insightsType         string
	insightsOrigin       string
	insightsTopic        string
	insightsMinConf      float64
	insightsLimit        int
)

var insightsCmd = &cobra.Command{
	Use:     "insights [INSIGHT_ID]",
	Aliases: []string{"ls"},
	Short:   "Inspect insights on the blackboard",
	Long: `Inspect insights in list or get mode.

List Mode (no INSIGHT_ID):
  Displays insights matching filters as a table or JSONL stream, oldest first.

Get Mode (with INSIGHT_ID):
  Displays one insight as pretty-printed JSON.
  Supports short IDs (e.g., "abc123" instead of the full UUID).

Filters (list mode only):
  --since/--until   - time bounds (duration, RFC3339 or Unix milliseconds)
  --type            - insight type glob ("RAW_*", "INTEGRATED_UNDERSTANDING")
  --origin          - origin node ID or prefix
  --topic           - exact topic tag
  --min-confidence  - confidence floor (missing confidence counts as 0.5)

Examples:
  # List everything
  collective insights

  # Consensus results from the last hour as JSONL
  collective insights --type=INTEGRATED_UNDERSTANDING --since=1h -o jsonl | jq .content

  # Get one insight by short ID
  collective insights abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInsights,
}

func init() {
	insightsCmd.Flags().StringVarP(&insightsOutputFormat, "output", "o", "default", "Output format: default or jsonl (ignored in get mode)")
	insightsCmd.Flags().StringVar(&insightsSince, "since", "", "Show insights created after time")
	insightsCmd.Flags().StringVar(&insightsUntil, "until", "", "Show insights created before time")
	insightsCmd.Flags().StringVar(&insightsType, "type", "", "Filter by insight type (glob pattern)")
	insightsCmd.Flags().StringVar(&insightsOrigin, "origin", "", "Filter by origin node ID prefix")
	insightsCmd.Flags().StringVar(&insightsTopic, "topic", "", "Filter by topic")
	insightsCmd.Flags().Float64Var(&insightsMinConf, "min-confidence", 0, "Minimum confidence")
	insightsCmd.Flags().IntVar(&insightsLimit, "limit", 0, "Show only the newest N matches")

	rootCmd.AddCommand(insightsCmd)
}

func runInsights(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 0 {
		return listInsights(ctx)
	}
	return getInsight(ctx, args[0])
}

func listInsights(ctx context.Context) error {
	format, err := catalog.ParseFormat(insightsOutputFormat)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, jsonl"})
	}

	sinceMS, untilMS, err := timespec.ParseRange(insightsSince, insightsUntil)
	if err != nil {
		return printer.Error(
			"invalid time filter",
			err.Error(),
			[]string{"Use a duration like '1h30m', RFC3339 like '2025-10-29T13:00:00Z' or Unix milliseconds"},
		)
	}

	if insightsMinConf < 0 || insightsMinConf > 1 {
		return printer.Error("invalid confidence filter", fmt.Sprintf("--min-confidence must be in [0,1], got %v", insightsMinConf), nil)
	}

	client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	opts := catalog.ListOptions{
		Filters: &filter.Criteria{
			SinceTimestampMs: sinceMS,
			UntilTimestampMs: untilMS,
			TypeGlob:         insightsType,
			Origin:           insightsOrigin,
			Topic:            insightsTopic,
			MinConfidence:    insightsMinConf,
		},
		Limit: insightsLimit,
	}

	if err := catalog.ListInsights(ctx, client, instanceName, format, opts, printer.Out); err != nil {
		return fmt.Errorf("failed to list insights: %w", err)
	}
	return nil
}

func getInsight(ctx context.Context, shortID string) error {
	client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	fullID, err := resolver.ResolveInsightID(ctx, client, shortID)
	if err != nil {
		var amb *resolver.AmbiguousError
		switch {
		case resolver.IsNotFoundError(err):
			return printer.Error(
				fmt.Sprintf("insight with ID '%s' not found", shortID),
				"The specified insight does not exist on the blackboard.",
				[]string{
					"List all insights:\n  collective insights",
					fmt.Sprintf("Check the instance:\n  collective insights --instance %s", instanceName),
				},
			)
		case errors.As(err, &amb):
			fmt.Fprintln(printer.Err, resolver.FormatAmbiguousError(amb))
			return fmt.Errorf("ambiguous short ID")
		}
		return fmt.Errorf("failed to resolve insight ID: %w", err)
	}

	if err := catalog.GetInsight(ctx, client, fullID, printer.Out); err != nil {
		if catalog.IsNotFound(err) {
			return printer.Error(
				fmt.Sprintf("insight with ID '%s' not found", fullID),
				"The insight was resolved but could not be fetched.",
				[]string{"This might indicate a race condition. Try again."},
			)
		}
		return fmt.Errorf("failed to get insight: %w", err)
	}
	return nil
}
