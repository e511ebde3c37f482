package boundary

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/dyluth/collective/pkg/blackboard"
)

// Redaction levels recorded in the MetaRedaction tag.
const (
	RedactionFiltered = "filtered"
	RedactionSummary  = "summary"
	RedactionFull     = "redacted"
)

const summaryLength = 50

// AccessLevel maps a trust score in [0,1] to an access level in 0..10.
func AccessLevel(trust float64) int {
	return int(math.Round(clamp(trust) * 10))
}

// Redact prepares insight for a peer with the given trust.
//
// The privacy filter, when not nil, scrubs the content first. Access level 7
// and above receives the scrubbed content, or the insight itself when nothing
// was scrubbed. Levels 3 to 6 receive a short summary of the scrubbed content.
// Below 3 the content is withheld entirely. Derived insights keep the origin,
// type and scores of the original and reference it through derived_from.
func Redact(insight *blackboard.Insight, trust float64, privacy *PrivacyFilter) (*blackboard.Insight, error) {
	level := AccessLevel(trust)

	scrubbed := insight.Content
	filtered := false
	if privacy != nil && level >= 3 {
		var err error
		if scrubbed, filtered, err = privacy.FilterJSON(insight.Content); err != nil {
			return nil, fmt.Errorf("failed to filter insight %s: %w", insight.ID, err)
		}
	}

	var (
		content   any
		redaction string
	)
	switch {
	case level >= 7 && !filtered:
		return insight, nil
	case level >= 7:
		content = scrubbed
		redaction = RedactionFiltered
	case level >= 3:
		content = map[string]any{"summary": summarize(string(scrubbed))}
		redaction = RedactionSummary
	default:
		content = map[string]any{"redacted": true}
		redaction = RedactionFull
	}

	opts := []blackboard.InsightOption{
		blackboard.WithDerivedFrom(insight.ID),
		blackboard.WithMeta(blackboard.MetaRedaction, redaction),
	}
	for k, v := range insight.Metadata {
		if k == blackboard.MetaDerivedFrom || k == blackboard.MetaRedaction {
			continue
		}
		opts = append(opts, blackboard.WithMeta(k, v))
	}
	if insight.Confidence != nil {
		opts = append(opts, blackboard.WithConfidence(*insight.Confidence))
	}
	if insight.Resonance != nil {
		opts = append(opts, blackboard.WithResonance(*insight.Resonance))
	}

	redacted, err := blackboard.NewInsight(insight.OriginNodeID, insight.Type, content, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to redact insight %s: %w", insight.ID, err)
	}
	return redacted, nil
}

func summarize(s string) string {
	if utf8.RuneCountInString(s) <= summaryLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:summaryLength]) + "..."
}
