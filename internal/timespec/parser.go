// Package timespec parses the --since/--until style time flags used by the
// collective CLI.
package timespec

import (
	"fmt"
	"strconv"
	"time"
)

// Parser resolves relative specifications against Now.
type Parser struct {
	Now func() time.Time
}

var defaultParser = Parser{Now: time.Now}

// Parse converts spec to a Unix timestamp in milliseconds using the wall clock.
// See Parser.Parse for the accepted formats.
func Parse(spec string) (int64, error) {
	return defaultParser.Parse(spec)
}

// ParseRange parses --since and --until values using the wall clock.
func ParseRange(since, until string) (int64, int64, error) {
	return defaultParser.ParseRange(since, until)
}

// Parse accepts three formats:
//   - Go durations relative to now: "1h", "30m", "1h30m" means that long ago
//   - RFC3339 timestamps: "2025-10-29T13:00:00Z"
//   - raw Unix milliseconds: "1730206800000"
func (p Parser) Parse(spec string) (int64, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("invalid time specification: %s (duration must not be negative)", spec)
		}
		return p.now().Add(-d).UnixMilli(), nil
	}

	if ms, err := strconv.ParseInt(spec, 10, 64); err == nil && ms > 0 {
		return ms, nil
	}

	return 0, fmt.Errorf("invalid time specification: %s (use duration like '1h30m', RFC3339 like '2025-10-29T13:00:00Z' or Unix milliseconds)", spec)
}

// ParseRange returns (sinceMs, untilMs). Zero means no bound on that side.
// Both bounds set requires since < until.
func (p Parser) ParseRange(since, until string) (int64, int64, error) {
	var sinceMS, untilMS int64
	var err error

	if since != "" {
		sinceMS, err = p.Parse(since)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --since: %w", err)
		}
	}

	if until != "" {
		untilMS, err = p.Parse(until)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if sinceMS > 0 && untilMS > 0 && sinceMS >= untilMS {
		return 0, 0, fmt.Errorf("--since must be before --until")
	}

	return sinceMS, untilMS, nil
}

// Time converts a bound from ParseRange back into a time; zero stays zero.
func Time(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (p Parser) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}
