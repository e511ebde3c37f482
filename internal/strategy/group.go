package strategy

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/dyluth/collective/pkg/blackboard"
)

// group is a set of insights about the same thing.
type group struct {
	key     string
	topic   string
	members []*blackboard.Insight // sorted by ID
}

// groupInsights buckets insights by topic, falling back to a digest of their
// content. Groups are returned in key order.
func groupInsights(insights []*blackboard.Insight) []group {
	byKey := make(map[string]*group)
	for _, i := range sortByID(insights) {
		key := GroupKey(i)
		g, ok := byKey[key]
		if !ok {
			g = &group{key: key, topic: i.Topic()}
			byKey[key] = g
		}
		g.members = append(g.members, i)
	}

	out := make([]group, 0, len(byKey))
	for _, g := range byKey {
		out = append(out, *g)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].key < out[b].key })
	return out
}

// GroupKey identifies the group an insight is integrated with: its topic, or
// a digest of its compacted content when it has none.
func GroupKey(i *blackboard.Insight) string {
	if t := i.Topic(); t != "" {
		return "topic:" + t
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, i.Content); err != nil {
		buf.Reset()
		buf.Write(i.Content)
	}
	return "digest:" + strconv.FormatUint(xxhash.Sum64(buf.Bytes()), 16)
}

func (g group) origins() int {
	seen := make(map[string]struct{}, len(g.members))
	for _, i := range g.members {
		seen[i.OriginNodeID] = struct{}{}
	}
	return len(seen)
}

func (g group) allIntegrated() bool {
	for _, i := range g.members {
		if i.Type != blackboard.InsightTypeIntegratedUnderstanding {
			return false
		}
	}
	return true
}

// spread is the range of member confidences.
func (g group) spread() float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, i := range g.members {
		c := i.ConfidenceOr(defaultConfidence)
		lo = math.Min(lo, c)
		hi = math.Max(hi, c)
	}
	if len(g.members) == 0 {
		return 0
	}
	return hi - lo
}

// conflict is the share of members whose stance disagrees with the most
// common stance. Members without a stance abstain.
func (g group) conflict() float64 {
	counts := make(map[string]int)
	stated := 0
	for _, i := range g.members {
		if s := i.Meta(blackboard.MetaStance); s != "" {
			counts[s]++
			stated++
		}
	}
	if stated == 0 || len(g.members) == 0 {
		return 0
	}
	top := 0
	for _, n := range counts {
		top = max(top, n)
	}
	return float64(stated-top) / float64(len(g.members))
}

type mergedContent struct {
	Topic  string            `json:"topic,omitempty"`
	Merged []json.RawMessage `json:"merged"`
}

func (g group) content() mergedContent {
	c := mergedContent{Topic: g.topic, Merged: make([]json.RawMessage, 0, len(g.members))}
	for _, i := range g.members {
		raw := i.Content
		if len(raw) == 0 {
			raw = json.RawMessage("null")
		}
		c.Merged = append(c.Merged, raw)
	}
	return c
}
