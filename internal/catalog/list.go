// Package catalog renders the insights stored on the blackboard for the CLI.
package catalog

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/collective/internal/filter"
	"github.com/dyluth/collective/internal/timespec"
	"github.com/dyluth/collective/pkg/blackboard"
)

// OutputFormat specifies how to format the insight list output.
type OutputFormat string

const (
	// OutputFormatDefault uses a table with truncated content.
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete insights as line-delimited JSON.
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputFormatDefault:
		return OutputFormatDefault, nil
	case OutputFormatJSONL:
		return OutputFormatJSONL, nil
	}
	return "", fmt.Errorf("unknown output format: %s (use default or jsonl)", s)
}

// ListOptions narrows a listing.
type ListOptions struct {
	Filters *filter.Criteria
	Limit   int // keep only the newest Limit matches, 0 = all
}

// ListInsights reads the instance timeline oldest first, applies the filters
// and writes the result in the requested format. The time bounds of the
// filters are pushed down to the timeline range query.
func ListInsights(ctx context.Context, r Reader, instanceName string, format OutputFormat, opts ListOptions, w io.Writer) error {
	criteria := opts.Filters
	if criteria == nil {
		criteria = &filter.Criteria{}
	}

	insights, err := r.ListInsights(ctx, timespec.Time(criteria.SinceTimestampMs), timespec.Time(criteria.UntilTimestampMs))
	if err != nil {
		return fmt.Errorf("failed to list insights: %w", err)
	}

	insights = criteria.Apply(insights)
	if opts.Limit > 0 && len(insights) > opts.Limit {
		insights = insights[len(insights)-opts.Limit:]
	}

	switch format {
	case OutputFormatDefault:
		FormatTable(w, insights, instanceName)
	case OutputFormatJSONL:
		if err := FormatJSONL(w, insights); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	return nil
}
