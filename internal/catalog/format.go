package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/collective/pkg/blackboard"
)

// FormatTable writes insights as a table and returns how many were written.
// Columns: ID, TYPE, ORIGIN, CONF, TOPIC, AGE and CONTENT (truncated).
func FormatTable(w io.Writer, insights []*blackboard.Insight, instanceName string) int {
	return formatTable(w, insights, instanceName, time.Now())
}

func formatTable(w io.Writer, insights []*blackboard.Insight, instanceName string, now time.Time) int {
	if len(insights) == 0 {
		fmt.Fprintf(w, "No insights found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Insights for instance '%s':\n\n", instanceName)

	const row = "%-8s %-8s %-8s %-5s %-14s %-8s %s\n"
	fmt.Fprintf(w, row, "ID", "TYPE", "ORIGIN", "CONF", "TOPIC", "AGE", "CONTENT")
	fmt.Fprintf(w, row, "--------", "--------", "--------", "-----", "--------------", "--------",
		"----------------------------------------")

	for _, i := range insights {
		fmt.Fprintf(w, row,
			formatID(i.ID),
			formatType(i.Type),
			formatID(i.OriginNodeID),
			formatScore(i.Confidence),
			formatTopic(i.Topic()),
			formatAge(i.CreatedAtMs, now),
			formatContent(i.Content),
		)
	}

	noun := "insight"
	if len(insights) != 1 {
		noun = "insights"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(insights), noun)

	return len(insights)
}

// FormatJSONL writes one compact JSON object per insight, for piping into jq.
func FormatJSONL(w io.Writer, insights []*blackboard.Insight) error {
	for _, insight := range insights {
		data, err := json.Marshal(insight)
		if err != nil {
			return fmt.Errorf("failed to marshal insight to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes one insight as indented JSON.
func FormatSingleJSON(w io.Writer, insight *blackboard.Insight) error {
	data, err := json.MarshalIndent(insight, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal insight to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatType(t blackboard.InsightType) string {
	switch t {
	case blackboard.InsightTypeRawObservation:
		return "Raw"
	case blackboard.InsightTypeDerivedPattern:
		return "Pattern"
	case blackboard.InsightTypeHypothesis:
		return "Hypoth"
	case blackboard.InsightTypeIntegratedUnderstanding:
		return "Merged"
	case blackboard.InsightTypeExternalInput:
		return "External"
	}
	return string(t)
}

func formatScore(score *float64) string {
	if score == nil {
		return "-"
	}
	return strconv.FormatFloat(*score, 'f', 2, 64)
}

func formatTopic(topic string) string {
	if topic == "" {
		return "-"
	}
	if len(topic) > 14 {
		return topic[:11] + "..."
	}
	return topic
}

// formatContent shows the first non-empty line of the compacted content,
// at most 40 characters.
func formatContent(content json.RawMessage) string {
	s := strings.TrimSpace(string(content))
	if s == "" || s == "null" {
		return "-"
	}

	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		s = text
	}

	var first string
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			first = trimmed
			break
		}
	}
	if first == "" {
		return "-"
	}

	if len(first) > 40 {
		return first[:37] + "..."
	}
	return first
}

// formatAge renders a timestamp as "12s ago", "3m ago", "2h ago" or "4d ago".
func formatAge(timestampMs int64, now time.Time) string {
	if timestampMs == 0 {
		return "-"
	}

	diff := now.Sub(time.UnixMilli(timestampMs))
	if diff < 0 {
		diff = 0
	}

	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
