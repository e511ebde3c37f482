// Package filter selects insights for the CLI's list and watch commands.
package filter

import (
	"path/filepath"
	"strings"

	"github.com/dyluth/collective/pkg/blackboard"
)

// Criteria defines filtering criteria for insights.
// All filters are ANDed together; an insight must match every criterion.
type Criteria struct {
	SinceTimestampMs int64   // Unix milliseconds, 0 = no filter
	UntilTimestampMs int64   // Unix milliseconds, 0 = no filter
	TypeGlob         string  // glob over the insight type, empty = no filter
	Origin           string  // origin node ID or a prefix of it, empty = no filter
	Topic            string  // exact topic tag, empty = no filter
	MinConfidence    float64 // insights without confidence count as 0.5, 0 = no filter
}

// Matches reports whether insight passes every criterion.
func (c *Criteria) Matches(insight *blackboard.Insight) bool {
	if c.SinceTimestampMs > 0 && insight.CreatedAtMs < c.SinceTimestampMs {
		return false
	}
	if c.UntilTimestampMs > 0 && insight.CreatedAtMs > c.UntilTimestampMs {
		return false
	}

	if c.TypeGlob != "" {
		matched, err := filepath.Match(c.TypeGlob, string(insight.Type))
		if err != nil || !matched {
			return false
		}
	}

	if c.Origin != "" && !strings.HasPrefix(insight.OriginNodeID, c.Origin) {
		return false
	}

	if c.Topic != "" && insight.Topic() != c.Topic {
		return false
	}

	if c.MinConfidence > 0 && insight.ConfidenceOr(0.5) < c.MinConfidence {
		return false
	}

	return true
}

// HasFilters returns true if any filter is active.
func (c *Criteria) HasFilters() bool {
	return c.SinceTimestampMs > 0 ||
		c.UntilTimestampMs > 0 ||
		c.TypeGlob != "" ||
		c.Origin != "" ||
		c.Topic != "" ||
		c.MinConfidence > 0
}

// Apply returns the insights that match, preserving order.
func (c *Criteria) Apply(insights []*blackboard.Insight) []*blackboard.Insight {
	out := make([]*blackboard.Insight, 0, len(insights))
	for _, insight := range insights {
		if c.Matches(insight) {
			out = append(out, insight)
		}
	}
	return out
}
