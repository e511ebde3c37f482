package blackboard

import "time"

// Timeline utilities
//
// The timeline indexes every stored insight by creation time. It is a Redis
// ZSET where:
// - Key: collective:{instance_name}:timeline
// - Members: insight IDs
// - Score: created_at_ms (as float64)
//
// Milliseconds since the epoch fit exactly in a float64 mantissa, so scores
// round-trip without loss.

// TimelineEntry represents a single member of the timeline.
type TimelineEntry struct {
	InsightID   string
	CreatedAtMs int64
}

// TimelineScore converts a creation timestamp to a ZSET score.
func TimelineScore(createdAtMs int64) float64 {
	return float64(createdAtMs)
}

// TimestampFromScore converts a ZSET score back to a creation timestamp.
func TimestampFromScore(score float64) int64 {
	return int64(score)
}

// ScoreBound renders a time as an inclusive ZRANGEBYSCORE bound.
// A zero time maps to the open bound given by open ("-inf" or "+inf").
func ScoreBound(t time.Time, open string) string {
	if t.IsZero() {
		return open
	}
	return formatInt(t.UnixMilli())
}
