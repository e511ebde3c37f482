package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/collective/internal/consistency"
	"github.com/dyluth/collective/internal/dynamics"
	"github.com/dyluth/collective/pkg/blackboard"
)

func observation(t *testing.T, origin string, content any, opts ...blackboard.InsightOption) *blackboard.Insight {
	t.Helper()
	i, err := blackboard.NewInsight(origin, blackboard.InsightTypeRawObservation, content, opts...)
	require.NoError(t, err)
	return i
}

func TestConsensusFormation_MergesTopic(t *testing.T) {
	self := uuid.New().String()
	peer := uuid.New().String()
	a := observation(t, peer, map[string]float64{"load": 0.7}, blackboard.WithConfidence(0.9), blackboard.WithTopic("load"))
	b := observation(t, peer, map[string]float64{"load": 0.8}, blackboard.WithConfidence(0.6), blackboard.WithTopic("load"))

	s := NewConsensusFormation(ConsensusOptions{NodeID: self})
	out, err := s.Process(context.Background(), []*blackboard.Insight{a, b})
	require.NoError(t, err)
	require.Len(t, out, 1)

	merged := out[0]
	assert.Equal(t, blackboard.InsightTypeIntegratedUnderstanding, merged.Type)
	assert.Equal(t, self, merged.OriginNodeID)
	assert.InDelta(t, 0.78, merged.ConfidenceOr(0), 1e-9)
	assert.Equal(t, "load", merged.Topic())
	assert.ElementsMatch(t, []string{a.ID, b.ID}, merged.DerivedFrom())
	assert.Equal(t, NameConsensus, merged.Meta(blackboard.MetaStrategy))
	assert.Equal(t, string(ScaleMicro), merged.Meta(MetaScale))

	assessment, ok := AssessmentOf(merged)
	require.True(t, ok)
	assert.Equal(t, dynamics.OutcomeConverged, assessment.Outcome)
	assert.Greater(t, assessment.Iterations, 0)
	assert.InDelta(t, assessment.Stability, merged.ResonanceOr(-1), 1e-4)

	var content mergedContent
	require.NoError(t, json.Unmarshal(merged.Content, &content))
	assert.Equal(t, "load", content.Topic)
	assert.Len(t, content.Merged, 2)
}

func TestConsensusFormation_OrderIndependent(t *testing.T) {
	origin := uuid.New().String()
	var in []*blackboard.Insight
	for _, c := range []float64{0.9, 0.6, 0.75, 0.8} {
		in = append(in, observation(t, origin, c, blackboard.WithConfidence(c), blackboard.WithTopic("t")))
	}
	reversed := make([]*blackboard.Insight, len(in))
	for n := range in {
		reversed[len(in)-1-n] = in[n]
	}

	s := NewConsensusFormation(ConsensusOptions{NodeID: origin})
	first, err := s.Process(context.Background(), in)
	require.NoError(t, err)
	second, err := s.Process(context.Background(), reversed)
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ConfidenceOr(0), second[0].ConfidenceOr(0))
	assert.JSONEq(t, string(first[0].Content), string(second[0].Content))
	assert.Equal(t, first[0].Metadata, second[0].Metadata)
}

func TestConsensusFormation_SkipsSmallGroups(t *testing.T) {
	origin := uuid.New().String()
	in := []*blackboard.Insight{
		observation(t, origin, 1, blackboard.WithTopic("a")),
		observation(t, origin, 2, blackboard.WithTopic("b")),
	}

	out, err := NewConsensusFormation(ConsensusOptions{NodeID: origin}).Process(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestConsensusFormation_DropsContradiction(t *testing.T) {
	origin := uuid.New().String()
	in := []*blackboard.Insight{
		observation(t, origin, "up", blackboard.WithConfidence(0.95), blackboard.WithTopic("trend"), blackboard.WithMeta(blackboard.MetaStance, "up")),
		observation(t, origin, "down", blackboard.WithConfidence(0.05), blackboard.WithTopic("trend"), blackboard.WithMeta(blackboard.MetaStance, "down")),
	}

	out, err := NewConsensusFormation(ConsensusOptions{NodeID: origin}).Process(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestConsensusFormation_GroupsUntaggedByContent(t *testing.T) {
	origin := uuid.New().String()
	in := []*blackboard.Insight{
		observation(t, origin, json.RawMessage(`{"a": 1}`)),
		observation(t, origin, json.RawMessage(`{"a":1}`)),
		observation(t, origin, json.RawMessage(`{"a":2}`)),
	}

	out, err := NewConsensusFormation(ConsensusOptions{NodeID: origin}).Process(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "", out[0].Topic())
	assert.InDelta(t, 0.5, out[0].ConfidenceOr(0), 1e-9)
}

func TestConsensusFormation_IntegrationContext(t *testing.T) {
	self := uuid.New().String()
	in := []*blackboard.Insight{
		observation(t, uuid.New().String(), 1, blackboard.WithTopic("x")),
		observation(t, uuid.New().String(), 2, blackboard.WithTopic("x")),
	}

	s := NewConsensusFormation(ConsensusOptions{})
	out, err := Apply(context.Background(), s, in, &IntegrationContext{NodeID: self, Task: "sync"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, self, out[0].OriginNodeID)
	assert.Equal(t, "sync", out[0].Meta(blackboard.MetaTask))
	assert.Equal(t, string(ScaleMeso), out[0].Meta(MetaScale))
}

func TestConsensusFormation_RecordsLedger(t *testing.T) {
	ctx := context.Background()
	m := consistency.NewMemoryManager(consistency.Options{})
	origin := uuid.New().String()
	s := NewConsensusFormation(ConsensusOptions{NodeID: origin, Ledger: m})

	strong := []*blackboard.Insight{
		observation(t, origin, 1, blackboard.WithConfidence(0.9), blackboard.WithTopic("k")),
		observation(t, origin, 2, blackboard.WithConfidence(0.8), blackboard.WithTopic("k")),
	}
	out, err := s.Process(ctx, strong)
	require.NoError(t, err)
	require.Len(t, out, 1)

	rec, ok, err := ReadConsensus(ctx, m, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, out[0].ID, rec.InsightID)
	assert.Equal(t, 2, rec.Sources)

	weak := []*blackboard.Insight{
		observation(t, origin, 3, blackboard.WithConfidence(0.4), blackboard.WithTopic("k")),
		observation(t, origin, 4, blackboard.WithConfidence(0.5), blackboard.WithTopic("k")),
	}
	_, err = s.Process(ctx, weak)
	require.NoError(t, err)

	rec, _, err = ReadConsensus(ctx, m, "k")
	require.NoError(t, err)
	assert.Equal(t, out[0].ID, rec.InsightID, "weaker merge must not replace the record")
}

func TestRecordConsensus_Monotonic(t *testing.T) {
	ctx := context.Background()
	m := consistency.NewMemoryManager(consistency.Options{})
	origin := uuid.New().String()

	merged := func(c float64) *blackboard.Insight {
		i, err := blackboard.NewInsight(origin, blackboard.InsightTypeIntegratedUnderstanding, nil,
			blackboard.WithConfidence(c), blackboard.WithTopic("m"))
		require.NoError(t, err)
		return i
	}

	replaced, err := RecordConsensus(ctx, m, merged(0.8), 2)
	require.NoError(t, err)
	assert.True(t, replaced)

	replaced, err = RecordConsensus(ctx, m, merged(0.7), 2)
	require.NoError(t, err)
	assert.False(t, replaced)

	replaced, err = RecordConsensus(ctx, m, merged(0.7), 3)
	require.NoError(t, err)
	assert.True(t, replaced)

	_, err = RecordConsensus(ctx, m, merged(0.9).WithMetadata(map[string]string{blackboard.MetaTopic: ""}), 1)
	assert.Error(t, err)
}

func TestRecordConsensus_RetriesBusyLedger(t *testing.T) {
	ctx := context.Background()
	m := consistency.NewMemoryManager(consistency.Options{TxTimeout: 20 * time.Millisecond})
	origin := uuid.New().String()
	i, err := blackboard.NewInsight(origin, blackboard.InsightTypeIntegratedUnderstanding, nil,
		blackboard.WithConfidence(0.5), blackboard.WithTopic("busy"))
	require.NoError(t, err)

	lock, err := m.AcquireLock(ctx, LedgerKey("busy"), 0)
	require.NoError(t, err)

	_, err = RecordConsensus(ctx, m, i, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, consistency.ErrLockTimeout))

	require.NoError(t, lock.Release(ctx))
	replaced, err := RecordConsensus(ctx, m, i, 2)
	require.NoError(t, err)
	assert.True(t, replaced)
}

func TestCrossNodeIntegration(t *testing.T) {
	self := uuid.New().String()
	trusted := uuid.New().String()
	lukewarm := uuid.New().String()
	stranger := uuid.New().String()

	in := []*blackboard.Insight{
		observation(t, trusted, 1, blackboard.WithConfidence(0.9), blackboard.WithTopic("q")),
		observation(t, lukewarm, 2, blackboard.WithConfidence(0.6), blackboard.WithTopic("q")),
		observation(t, stranger, 3, blackboard.WithConfidence(0.1), blackboard.WithTopic("q")),
		observation(t, trusted, 4, blackboard.WithConfidence(0.9), blackboard.WithTopic("lonely")),
	}
	ictx := &IntegrationContext{
		NodeID:      self,
		Task:        "sync",
		TrustLevels: map[string]float64{trusted: 0.9, lukewarm: 0.5},
	}

	s := NewCrossNodeIntegration(CrossNodeOptions{})
	out, err := s.Integrate(context.Background(), in, ictx)
	require.NoError(t, err)
	require.Len(t, out, 1)

	merged := out[0]
	assert.Equal(t, "q", merged.Topic())
	assert.Equal(t, "2", merged.Meta("origins"))
	assert.Len(t, merged.DerivedFrom(), 2)
	// (0.81·0.9 + 0.3·0.6) / (0.81 + 0.3)
	assert.InDelta(t, (0.81*0.9+0.3*0.6)/(0.81+0.3), merged.ConfidenceOr(0), 1e-9)

	assessment, ok := AssessmentOf(merged)
	require.True(t, ok)
	assert.Equal(t, dynamics.OutcomeConverged, assessment.Outcome)
}

func TestCrossNodeIntegration_RequiresContext(t *testing.T) {
	s := NewCrossNodeIntegration(CrossNodeOptions{})
	_, err := s.Integrate(context.Background(), nil, nil)
	assert.Error(t, err)

	_, err = Apply(context.Background(), AsProcessing(s, nil), nil, nil)
	assert.Error(t, err)
}

func TestCrossNodeIntegration_AsProcessing(t *testing.T) {
	self := uuid.New().String()
	peer := uuid.New().String()
	in := []*blackboard.Insight{
		observation(t, self, 1, blackboard.WithTopic("z")),
		observation(t, peer, 2, blackboard.WithTopic("z")),
	}

	p := AsProcessing(NewCrossNodeIntegration(CrossNodeOptions{}), &IntegrationContext{
		NodeID:      self,
		TrustLevels: map[string]float64{peer: 0.6},
	})
	out, err := p.Process(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, NameCrossNode, p.Name())
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(NewConsensusFormation(ConsensusOptions{}), NewCrossNodeIntegration(CrossNodeOptions{}))
	require.NoError(t, err)
	assert.Equal(t, []string{NameConsensus, NameCrossNode}, r.Names())

	s, err := r.Get(NameConsensus)
	require.NoError(t, err)
	assert.Equal(t, NameConsensus, s.Name())

	_, err = r.Get("majority-vote")
	assert.True(t, errors.Is(err, ErrUnknownStrategy))

	assert.Error(t, r.Register(NewConsensusFormation(ConsensusOptions{})))
}

func TestScaleFor(t *testing.T) {
	tests := []struct {
		origins    int
		integrated bool
		expected   Scale
	}{
		{1, false, ScaleMicro},
		{2, false, ScaleMeso},
		{4, false, ScaleMeso},
		{5, false, ScaleMacro},
		{3, true, ScaleMeta},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ScaleFor(tt.origins, tt.integrated))
	}
}

func TestMergedConfidence(t *testing.T) {
	origin := uuid.New().String()
	withRes := observation(t, origin, 1, blackboard.WithConfidence(0.9), blackboard.WithResonance(2))
	plain := observation(t, origin, 2, blackboard.WithConfidence(0.6))

	// weights 1.8 and 0.6
	assert.InDelta(t, (1.8*0.9+0.6*0.6)/2.4, MergedConfidence([]*blackboard.Insight{withRes, plain}), 1e-9)
	assert.Equal(t, 0.0, MergedConfidence(nil))

	zero := observation(t, origin, 3, blackboard.WithConfidence(0))
	assert.Equal(t, 0.0, MergedConfidence([]*blackboard.Insight{zero}))
}
