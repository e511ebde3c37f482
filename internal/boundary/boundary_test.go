package boundary

import (
	"sync"
	"testing"

	"github.com/dyluth/collective/pkg/blackboard"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insightFrom(t *testing.T, origin string, it blackboard.InsightType) *blackboard.Insight {
	t.Helper()
	insight, err := blackboard.NewInsight(origin, it, map[string]string{"text": "observed"}, blackboard.WithConfidence(0.9))
	require.NoError(t, err)
	return insight
}

func TestEvaluate(t *testing.T) {
	self := uuid.New().String()
	peer := uuid.New().String()
	policy := NewPolicy(self)
	policy.Tasks["sync"] = TaskRule{}
	strict := 0.95
	policy.Tasks["audit"] = TaskRule{MinTrust: &strict}
	policy.Tasks["summaries"] = TaskRule{AllowedTypes: []blackboard.InsightType{blackboard.InsightTypeIntegratedUnderstanding}}

	tests := []struct {
		name    string
		origin  string
		it      blackboard.InsightType
		ctx     Context
		allowed bool
	}{
		{"trusted raw observation", peer, blackboard.InsightTypeRawObservation,
			Context{Task: "sync", TrustLevels: map[string]float64{peer: 0.8}}, true},
		{"raw observation below threshold", peer, blackboard.InsightTypeRawObservation,
			Context{Task: "sync", TrustLevels: map[string]float64{peer: 0.5}}, false},
		{"integrated understanding is more lenient", peer, blackboard.InsightTypeIntegratedUnderstanding,
			Context{Task: "sync", TrustLevels: map[string]float64{peer: 0.5}}, true},
		{"missing trust is denied", peer, blackboard.InsightTypeIntegratedUnderstanding,
			Context{Task: "sync", TrustLevels: map[string]float64{}}, false},
		{"nil trust map is denied", peer, blackboard.InsightTypeIntegratedUnderstanding,
			Context{Task: "sync"}, false},
		{"own insight passes ingress", self, blackboard.InsightTypeRawObservation,
			Context{Task: "sync"}, true},
		{"task override raises threshold", peer, blackboard.InsightTypeIntegratedUnderstanding,
			Context{Task: "audit", TrustLevels: map[string]float64{peer: 0.9}}, false},
		{"task restricts types", peer, blackboard.InsightTypeHypothesis,
			Context{Task: "summaries", TrustLevels: map[string]float64{peer: 1}}, false},
		{"task allows listed type", peer, blackboard.InsightTypeIntegratedUnderstanding,
			Context{Task: "summaries", TrustLevels: map[string]float64{peer: 0.5}}, true},
		{"egress consults the peer", self, blackboard.InsightTypeRawObservation,
			Context{Direction: Egress, Peer: peer, TrustLevels: map[string]float64{peer: 0.75}}, true},
		{"egress to untrusted peer", self, blackboard.InsightTypeRawObservation,
			Context{Direction: Egress, Peer: peer, TrustLevels: map[string]float64{peer: 0.2}}, false},
		{"egress without peer", self, blackboard.InsightTypeRawObservation,
			Context{Direction: Egress, TrustLevels: map[string]float64{peer: 1}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			insight := insightFrom(t, tt.origin, tt.it)
			d := policy.Evaluate(insight, tt.ctx)
			assert.Equal(t, tt.allowed, d.Allowed, d.Reason)
			assert.Equal(t, tt.allowed, policy.ShouldAllowFlow(insight, tt.ctx))
		})
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	policy := NewPolicy("")
	peer := uuid.New().String()
	insight := insightFrom(t, peer, blackboard.InsightTypeHypothesis)
	ctx := Context{Task: "sync", TrustLevels: map[string]float64{peer: 0.55}}

	first := policy.Evaluate(insight, ctx)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, first, policy.Evaluate(insight, ctx))
		}()
	}
	wg.Wait()

	// No caching: a changed trust map changes the outcome.
	ctx.TrustLevels[peer] = 0.1
	assert.False(t, policy.ShouldAllowFlow(insight, ctx))
}

func TestCheck(t *testing.T) {
	policy := NewPolicy("")
	peer := uuid.New().String()
	insight := insightFrom(t, peer, blackboard.InsightTypeRawObservation)

	err := policy.Check(insight, Context{TrustLevels: map[string]float64{peer: 0.1}})

	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.ErrorIs(t, err, ErrBoundaryDenied)
	assert.Equal(t, insight.ID, denied.InsightID)
	assert.Equal(t, 0.7, denied.Decision.Required)
	assert.Contains(t, err.Error(), "below required")

	assert.NoError(t, policy.Check(insight, Context{TrustLevels: map[string]float64{peer: 0.7}}))
	assert.Error(t, policy.Check(nil, Context{}))
}

func TestRedact(t *testing.T) {
	peer := uuid.New().String()
	long := make([]byte, 80)
	for i := range long {
		long[i] = 'x'
	}
	insight, err := blackboard.NewInsight(peer, blackboard.InsightTypeHypothesis, string(long),
		blackboard.WithConfidence(0.6), blackboard.WithTopic("t"))
	require.NoError(t, err)

	t.Run("high trust passes unchanged", func(t *testing.T) {
		out, err := Redact(insight, 0.7, NewPrivacyFilter(DefaultPrivacyLevel))
		require.NoError(t, err)
		assert.Same(t, insight, out)
	})

	t.Run("medium trust gets a summary", func(t *testing.T) {
		out, err := Redact(insight, 0.5, NewPrivacyFilter(DefaultPrivacyLevel))
		require.NoError(t, err)
		assert.NotEqual(t, insight.ID, out.ID)
		assert.Equal(t, []string{insight.ID}, out.DerivedFrom())
		assert.Equal(t, RedactionSummary, out.Meta(blackboard.MetaRedaction))
		assert.Equal(t, "t", out.Topic())
		assert.Equal(t, 0.6, out.ConfidenceOr(0))
		assert.Contains(t, string(out.Content), "...")
	})

	t.Run("low trust is withheld", func(t *testing.T) {
		out, err := Redact(insight, 0.2, NewPrivacyFilter(DefaultPrivacyLevel))
		require.NoError(t, err)
		assert.JSONEq(t, `{"redacted":true}`, string(out.Content))
		assert.Equal(t, RedactionFull, out.Meta(blackboard.MetaRedaction))
	})
}

func TestAccessLevel(t *testing.T) {
	assert.Equal(t, 0, AccessLevel(-1))
	assert.Equal(t, 3, AccessLevel(0.25))
	assert.Equal(t, 7, AccessLevel(0.65))
	assert.Equal(t, 10, AccessLevel(2))
}
