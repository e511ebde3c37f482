package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyluth/collective/internal/filter"
	"github.com/dyluth/collective/internal/printer"
	"github.com/dyluth/collective/internal/resolver"
	"github.com/dyluth/collective/internal/watch"
)

var (
	watchOutputFormat string
	watchType         string
	watchOrigin       string
	watchTopic        string
	watchMinConf      float64
	watchIntegration  string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream insights as they are created",
	Long: `Stream insights as nodes store them, until interrupted.

Output Formats:
  default - Human-readable lines; consensus results get a summary line
  jsonl   - One JSON insight per line

Examples:
  # Watch everything
  collective watch

  # Follow one topic
  collective watch --topic latency

  # Stop once an insight has been merged into consensus
  collective watch --integrated abc123`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format: default or jsonl")
	watchCmd.Flags().StringVar(&watchType, "type", "", "Filter by insight type (glob pattern)")
	watchCmd.Flags().StringVar(&watchOrigin, "origin", "", "Filter by origin node ID prefix")
	watchCmd.Flags().StringVar(&watchTopic, "topic", "", "Filter by topic")
	watchCmd.Flags().Float64Var(&watchMinConf, "min-confidence", 0, "Minimum confidence")
	watchCmd.Flags().StringVar(&watchIntegration, "integrated", "", "Exit after the integration of this insight (short ID allowed)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var format watch.Format
	switch watchOutputFormat {
	case "default":
		format = watch.FormatDefault
	case "jsonl":
		format = watch.FormatJSONL
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	opts := watch.StreamOptions{
		Filters: &filter.Criteria{
			TypeGlob:      watchType,
			Origin:        watchOrigin,
			Topic:         watchTopic,
			MinConfidence: watchMinConf,
		},
		Format: format,
	}

	if watchIntegration != "" {
		id, err := resolver.ResolveInsightID(ctx, client, watchIntegration)
		if err != nil {
			return printer.Error("cannot follow insight", err.Error(), []string{"List insights:\n  collective insights"})
		}
		opts.Until = watch.IntegrationOf(id)
	}

	if format == watch.FormatDefault {
		printer.Step("Watching instance '%s' (Ctrl-C to stop)\n", instanceName)
	}

	if err := watch.StreamInsights(ctx, client, opts, printer.Out); err != nil {
		return fmt.Errorf("watch failed: %w", err)
	}
	return nil
}
