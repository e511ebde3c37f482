package boundary

import (
	"math"
	"sync"
	"time"
)

// TrustLevel is a coarse bucket for a trust score.
type TrustLevel string

const (
	TrustUnknown  TrustLevel = "UNKNOWN"
	TrustVeryLow  TrustLevel = "VERY_LOW"
	TrustLow      TrustLevel = "LOW"
	TrustModerate TrustLevel = "MODERATE"
	TrustHigh     TrustLevel = "HIGH"
	TrustVeryHigh TrustLevel = "VERY_HIGH"
)

const (
	defaultDecayRate    = 0.01
	defaultMinThreshold = 0.3
	neutralTrust        = 0.5
	maxInteractions     = 100
)

// Interaction is one event that moved a trust score.
type Interaction struct {
	Description string
	Impact      float64
	At          time.Time
}

type trustRecord struct {
	score        float64
	lastUpdated  time.Time
	interactions []Interaction
}

// TrustManager tracks how much this node trusts its peers.
//
// Scores live in [0,1] and decay by a fixed fraction per whole day without
// interaction. Snapshot feeds the boundary's Context.TrustLevels.
type TrustManager struct {
	mu           sync.Mutex
	records      map[string]*trustRecord
	decayRate    float64
	minThreshold float64
	now          func() time.Time
}

// NewTrustManager creates a manager with the given daily decay rate and
// sufficiency threshold. Both are clamped to [0,1].
func NewTrustManager(decayRate, minThreshold float64) *TrustManager {
	return &TrustManager{
		records:      make(map[string]*trustRecord),
		decayRate:    clamp(decayRate),
		minThreshold: clamp(minThreshold),
		now:          time.Now,
	}
}

// NewDefaultTrustManager creates a manager with 1% daily decay and a 0.3 threshold.
func NewDefaultTrustManager() *TrustManager {
	return NewTrustManager(defaultDecayRate, defaultMinThreshold)
}

// Initialize seeds trust for nodeID. Returns false if it was already known.
func (m *TrustManager) Initialize(nodeID string, score float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[nodeID]; ok {
		return false
	}
	m.records[nodeID] = &trustRecord{score: clamp(score), lastUpdated: m.now()}
	return true
}

// RecordInteraction shifts nodeID's trust by impact and returns the new score.
// Unknown nodes start from neutral trust.
func (m *TrustManager) RecordInteraction(nodeID, description string, impact float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.recordLocked(nodeID)
	now := m.now()
	rec.score = clamp(rec.score + impact)
	rec.lastUpdated = now
	rec.interactions = append(rec.interactions, Interaction{Description: description, Impact: impact, At: now})
	if len(rec.interactions) > maxInteractions {
		rec.interactions = rec.interactions[len(rec.interactions)-maxInteractions:]
	}
	return rec.score
}

// Score returns the decayed trust for nodeID.
func (m *TrustManager) Score(nodeID string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[nodeID]
	if !ok {
		return 0, false
	}
	m.decayLocked(rec)
	return rec.score, true
}

// IsSufficient reports whether nodeID's trust meets the threshold.
func (m *TrustManager) IsSufficient(nodeID string) bool {
	score, ok := m.Score(nodeID)
	return ok && score >= m.minThreshold
}

// Level buckets nodeID's trust.
func (m *TrustManager) Level(nodeID string) TrustLevel {
	score, ok := m.Score(nodeID)
	if !ok {
		return TrustUnknown
	}
	return LevelOf(score)
}

// LevelOf buckets a raw score.
func LevelOf(score float64) TrustLevel {
	switch {
	case score < 0.2:
		return TrustVeryLow
	case score < 0.4:
		return TrustLow
	case score < 0.6:
		return TrustModerate
	case score < 0.8:
		return TrustHigh
	default:
		return TrustVeryHigh
	}
}

// Propagate derives trust in target from trust in source scaled by factor.
// An existing score for target is averaged with the propagated one.
// Returns false when source is unknown.
func (m *TrustManager) Propagate(source, target string, factor float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.records[source]
	if !ok {
		return false
	}
	m.decayLocked(src)
	propagated := src.score * clamp(factor)

	if dst, ok := m.records[target]; ok {
		m.decayLocked(dst)
		dst.score = (dst.score + propagated) / 2
		dst.lastUpdated = m.now()
	} else {
		m.records[target] = &trustRecord{score: propagated, lastUpdated: m.now()}
	}
	return true
}

// Interactions returns a copy of the recent interaction history for nodeID.
func (m *TrustManager) Interactions(nodeID string) []Interaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[nodeID]
	if !ok {
		return nil
	}
	return append([]Interaction(nil), rec.interactions...)
}

// Snapshot returns the current decayed scores of every known node.
func (m *TrustManager) Snapshot() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]float64, len(m.records))
	for id, rec := range m.records {
		m.decayLocked(rec)
		out[id] = rec.score
	}
	return out
}

// Context builds an ingress boundary context for task from the current scores.
func (m *TrustManager) Context(task string) Context {
	return Context{Task: task, TrustLevels: m.Snapshot(), Direction: Ingress}
}

func (m *TrustManager) recordLocked(nodeID string) *trustRecord {
	rec, ok := m.records[nodeID]
	if !ok {
		rec = &trustRecord{score: neutralTrust, lastUpdated: m.now()}
		m.records[nodeID] = rec
	}
	m.decayLocked(rec)
	return rec
}

func (m *TrustManager) decayLocked(rec *trustRecord) {
	now := m.now()
	days := int(now.Sub(rec.lastUpdated) / (24 * time.Hour))
	if days <= 0 {
		return
	}
	rec.score *= math.Pow(1-m.decayRate, float64(days))
	rec.lastUpdated = now
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
