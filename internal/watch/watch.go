// Package watch follows the insight stream of a running collective.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/dyluth/collective/internal/filter"
	"github.com/dyluth/collective/pkg/blackboard"
)

// ErrSubscriptionClosed is returned when the event stream ends on its own.
var ErrSubscriptionClosed = errors.New("insight subscription closed")

// pollInterval is how often PollForIntegration checks the timeline.
const pollInterval = 200 * time.Millisecond

// Format selects how streamed insights are printed.
type Format string

const (
	FormatDefault Format = "default"
	FormatJSONL   Format = "jsonl"
)

// Subscriber opens the live insight stream.
type Subscriber interface {
	SubscribeInsightEvents(ctx context.Context) (*blackboard.Subscription, error)
}

// RecentReader reads the newest insights of a type.
type RecentReader interface {
	RecentInsights(ctx context.Context, n int, filter blackboard.InsightType) ([]*blackboard.Insight, error)
}

// StreamOptions configures StreamInsights.
type StreamOptions struct {
	Filters *filter.Criteria
	Format  Format

	// Until stops the stream after the first printed insight it returns true for.
	Until func(*blackboard.Insight) bool
}

// StreamInsights prints matching insights as they are created until ctx is
// cancelled or Until matches. Both end the stream without error.
func StreamInsights(ctx context.Context, src Subscriber, opts StreamOptions, w io.Writer) error {
	f, err := newFormatter(opts.Format, w)
	if err != nil {
		return err
	}

	sub, err := src.SubscribeInsightEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-sub.Errors():
			if !ok {
				return streamEnded(ctx)
			}
			fmt.Fprintf(w, "⚠️  %v\n", err)

		case insight, ok := <-sub.Events():
			if !ok {
				return streamEnded(ctx)
			}
			if opts.Filters != nil && !opts.Filters.Matches(insight) {
				continue
			}
			if err := f.FormatInsight(insight); err != nil {
				return err
			}
			if opts.Until != nil && opts.Until(insight) {
				return nil
			}
		}
	}
}

func streamEnded(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	return ErrSubscriptionClosed
}

// IntegrationOf reports whether insight is a consensus result derived from id.
func IntegrationOf(id string) func(*blackboard.Insight) bool {
	return func(insight *blackboard.Insight) bool {
		return insight.Type == blackboard.InsightTypeIntegratedUnderstanding &&
			slices.Contains(insight.DerivedFrom(), id)
	}
}

// PollForIntegration waits for an integrated understanding derived from
// insightID to appear on the timeline.
func PollForIntegration(ctx context.Context, r RecentReader, insightID string, timeout time.Duration) (*blackboard.Insight, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)
	match := IntegrationOf(insightID)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for integration of %s after %v", insightID, timeout)

		case <-ticker.C:
			recent, err := r.RecentInsights(ctx, 50, blackboard.InsightTypeIntegratedUnderstanding)
			if err != nil {
				return nil, fmt.Errorf("failed to query recent insights: %w", err)
			}
			for _, insight := range recent {
				if match(insight) {
					return insight, nil
				}
			}
		}
	}
}

type formatter interface {
	FormatInsight(*blackboard.Insight) error
}

func newFormatter(format Format, w io.Writer) (formatter, error) {
	switch format {
	case "", FormatDefault:
		return &defaultFormatter{writer: w}, nil
	case FormatJSONL:
		return &jsonFormatter{enc: json.NewEncoder(w)}, nil
	}
	return nil, fmt.Errorf("unknown output format: %s", format)
}

type defaultFormatter struct {
	writer io.Writer
}

func (f *defaultFormatter) FormatInsight(i *blackboard.Insight) error {
	line := fmt.Sprintf("✨ Insight: type=%s id=%s origin=%s", i.Type, short(i.ID), short(i.OriginNodeID))
	if topic := i.Topic(); topic != "" {
		line += " topic=" + topic
	}
	if i.Confidence != nil {
		line += fmt.Sprintf(" confidence=%.2f", *i.Confidence)
	}
	if _, err := fmt.Fprintln(f.writer, line); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	if i.Type == blackboard.InsightTypeIntegratedUnderstanding {
		_, err := fmt.Fprintf(f.writer, "🧩 Consensus formed: outcome=%s stability=%s sources=%d\n",
			orDash(i.Meta(blackboard.MetaOutcome)), orDash(i.Meta(blackboard.MetaStability)), len(i.DerivedFrom()))
		if err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
	}
	return nil
}

type jsonFormatter struct {
	enc *json.Encoder
}

func (f *jsonFormatter) FormatInsight(i *blackboard.Insight) error {
	if err := f.enc.Encode(i); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
