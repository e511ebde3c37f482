package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dyluth/collective/internal/printer"
	"github.com/dyluth/collective/internal/transport"
	"github.com/dyluth/collective/internal/watch"
	"github.com/dyluth/collective/pkg/blackboard"
)

var (
	postOrigin     string
	postTo         string
	postType       string
	postTopic      string
	postStance     string
	postTask       string
	postContent    string
	postConfidence float64
	postResonance  float64
	postWait       time.Duration
)

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Share an insight with the collective",
	Long: `Share an insight with one node or every live node.

The insight is sent as if it came from --origin, so receiving nodes apply their
boundary policy to that node's trust. Content is stored as-is when it is valid
JSON and as a JSON string otherwise.

With --wait the command blocks until a node has merged the insight into an
integrated understanding, then prints it.

Examples:
  # Broadcast an observation
  collective post --origin $NODE --topic latency --confidence 0.9 --content '{"p99_ms":120}'

  # Send a hypothesis to one node and wait for consensus
  collective post --origin $NODE --to $PEER --type HYPOTHESIS --topic latency \
    --content "cache misses drive p99" --wait 30s`,
	Args: cobra.NoArgs,
	RunE: runPost,
}

func init() {
	postCmd.Flags().StringVar(&postOrigin, "origin", "", "Origin node ID (UUID, required)")
	postCmd.Flags().StringVar(&postTo, "to", "", "Target node ID (default: broadcast to every live node)")
	postCmd.Flags().StringVar(&postType, "type", string(blackboard.InsightTypeRawObservation), "Insight type")
	postCmd.Flags().StringVar(&postTopic, "topic", "", "Topic used to group insights for consensus")
	postCmd.Flags().StringVar(&postStance, "stance", "", "Stance tag; opposing stances on a topic signal conflict")
	postCmd.Flags().StringVar(&postTask, "task", "", "Task context for boundary checks")
	postCmd.Flags().StringVar(&postContent, "content", "", "Insight content (JSON or text, required)")
	postCmd.Flags().Float64Var(&postConfidence, "confidence", 0, "Confidence in [0,1]")
	postCmd.Flags().Float64Var(&postResonance, "resonance", 0, "Resonance weight (>= 0)")
	postCmd.Flags().DurationVar(&postWait, "wait", 0, "Wait this long for the insight to be integrated")

	_ = postCmd.MarkFlagRequired("origin")
	_ = postCmd.MarkFlagRequired("content")

	rootCmd.AddCommand(postCmd)
}

func runPost(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	insight, err := buildInsight(cmd)
	if err != nil {
		return printer.Error("invalid insight", err.Error(), []string{"See: collective post --help"})
	}

	client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	sender := transport.NewRedisProtocol(client, insight.OriginNodeID, transport.RedisOptions{})
	payload := &transport.InsightPayload{Insight: insight, Task: postTask}

	if postTo != "" {
		if err := sender.Send(ctx, postTo, payload); err != nil {
			if errors.Is(err, transport.ErrUnknownNode) {
				return printer.Error(
					fmt.Sprintf("node '%s' is not reachable", postTo),
					"The target is not registered or has stopped sending heartbeats.",
					[]string{"List live nodes:\n  collective nodes"},
				)
			}
			return fmt.Errorf("failed to send insight: %w", err)
		}
		printer.Success("Insight %s sent to %s\n", insight.ID, postTo)
	} else {
		report, err := sender.Broadcast(ctx, payload)
		if report == nil {
			return fmt.Errorf("failed to broadcast insight: %w", err)
		}
		if len(report.Delivered) == 0 && len(report.FailedNodes()) == 0 {
			return printer.Error("no live nodes", "No node is registered for this instance.", []string{"Start a node:\n  collective-node"})
		}
		if err != nil {
			printer.Warning("Insight %s not delivered to %s\n", insight.ID, strings.Join(report.FailedNodes(), ", "))
		}
		if len(report.Delivered) > 0 {
			printer.Success("Insight %s broadcast to %d node(s)\n", insight.ID, len(report.Delivered))
		}
	}

	if postWait <= 0 {
		return nil
	}

	printer.Step("Waiting up to %s for integration...\n", postWait)
	merged, err := watch.PollForIntegration(ctx, client, insight.ID, postWait)
	if err != nil {
		return printer.Error("insight not integrated", err.Error(), []string{
			"Integration needs enough insights on the topic to fill a node's window",
			fmt.Sprintf("Follow progress:\n  collective watch --topic %s", orAll(postTopic)),
		})
	}
	printer.Success("Integrated into %s (%s, stability %s)\n", merged.ID,
		merged.Meta(blackboard.MetaOutcome), merged.Meta(blackboard.MetaStability))
	return nil
}

func buildInsight(cmd *cobra.Command) (*blackboard.Insight, error) {
	if _, err := uuid.Parse(postOrigin); err != nil {
		return nil, fmt.Errorf("--origin must be a node UUID, got %q", postOrigin)
	}

	var content any = postContent
	if json.Valid([]byte(postContent)) {
		content = json.RawMessage(postContent)
	}

	var opts []blackboard.InsightOption
	if postTopic != "" {
		opts = append(opts, blackboard.WithTopic(postTopic))
	}
	if postStance != "" {
		opts = append(opts, blackboard.WithMeta(blackboard.MetaStance, postStance))
	}
	if postTask != "" {
		opts = append(opts, blackboard.WithMeta(blackboard.MetaTask, postTask))
	}
	if cmd.Flags().Changed("confidence") {
		opts = append(opts, blackboard.WithConfidence(postConfidence))
	}
	if cmd.Flags().Changed("resonance") {
		opts = append(opts, blackboard.WithResonance(postResonance))
	}

	return blackboard.NewInsight(postOrigin, blackboard.InsightType(postType), content, opts...)
}

func orAll(topic string) string {
	if topic == "" {
		return "<topic>"
	}
	return topic
}
