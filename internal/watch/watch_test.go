package watch

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/collective/internal/filter"
	"github.com/dyluth/collective/pkg/blackboard"
)

const origin = "6f1c2a4e-8b1d-4c3e-9a7f-2d5b6c7e8f90"

func setupClient(t *testing.T) *blackboard.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func newInsight(t *testing.T, typ blackboard.InsightType, opts ...blackboard.InsightOption) *blackboard.Insight {
	t.Helper()
	i, err := blackboard.NewInsight(origin, typ, map[string]string{"k": "v"}, opts...)
	require.NoError(t, err)
	return i
}

// lockedBuffer lets the test read output written by the streaming goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStreamInsights(t *testing.T) {
	t.Run("stops at the integration of a source", func(t *testing.T) {
		client := setupClient(t)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		source := newInsight(t, blackboard.InsightTypeRawObservation, blackboard.WithTopic("cpu"))
		unrelated := newInsight(t, blackboard.InsightTypeRawObservation, blackboard.WithTopic("disk"))
		merged := newInsight(t, blackboard.InsightTypeIntegratedUnderstanding,
			blackboard.WithDerivedFrom(source.ID), blackboard.WithTopic("cpu"),
			blackboard.WithMeta(blackboard.MetaOutcome, "converged"),
			blackboard.WithMeta(blackboard.MetaStability, "0.9900"))

		var out lockedBuffer
		done := make(chan error, 1)
		go func() {
			done <- StreamInsights(ctx, client, StreamOptions{
				Filters: &filter.Criteria{Topic: "cpu"},
				Until:   IntegrationOf(source.ID),
			}, &out)
		}()

		// The subscription is confirmed before StreamInsights blocks; keep
		// publishing until the stream reports the integration.
		require.Eventually(t, func() bool {
			for _, i := range []*blackboard.Insight{source, unrelated, merged} {
				require.NoError(t, client.CreateInsight(ctx, i))
			}
			select {
			case err := <-done:
				require.NoError(t, err)
				return true
			case <-time.After(50 * time.Millisecond):
				return false
			}
		}, 4*time.Second, 10*time.Millisecond)

		s := out.String()
		assert.Contains(t, s, "id="+source.ID[:8])
		assert.Contains(t, s, "🧩 Consensus formed: outcome=converged stability=0.9900 sources=1")
		assert.NotContains(t, s, "id="+unrelated.ID[:8])
	})

	t.Run("cancellation ends without error", func(t *testing.T) {
		client := setupClient(t)
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() { done <- StreamInsights(ctx, client, StreamOptions{}, &lockedBuffer{}) }()
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("stream did not stop")
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		err := StreamInsights(context.Background(), setupClient(t), StreamOptions{Format: "xml"}, &lockedBuffer{})
		assert.ErrorContains(t, err, "unknown output format")
	})
}

func TestPollForIntegration(t *testing.T) {
	ctx := context.Background()

	t.Run("finds integration", func(t *testing.T) {
		client := setupClient(t)
		source := newInsight(t, blackboard.InsightTypeHypothesis)
		merged := newInsight(t, blackboard.InsightTypeIntegratedUnderstanding, blackboard.WithDerivedFrom(source.ID))
		require.NoError(t, client.CreateInsight(ctx, source))

		go func() {
			time.Sleep(300 * time.Millisecond)
			_ = client.CreateInsight(ctx, merged)
		}()

		found, err := PollForIntegration(ctx, client, source.ID, 3*time.Second)
		require.NoError(t, err)
		assert.Equal(t, merged.ID, found.ID)
	})

	t.Run("timeout", func(t *testing.T) {
		client := setupClient(t)
		_, err := PollForIntegration(ctx, client, "missing", 500*time.Millisecond)
		assert.ErrorContains(t, err, "timeout waiting for integration")
	})

	t.Run("cancelled", func(t *testing.T) {
		client := setupClient(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := PollForIntegration(cctx, client, "missing", time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFormatters(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		var buf bytes.Buffer
		f, err := newFormatter(FormatDefault, &buf)
		require.NoError(t, err)

		i := newInsight(t, blackboard.InsightTypeRawObservation, blackboard.WithConfidence(0.75), blackboard.WithTopic("cpu"))
		require.NoError(t, f.FormatInsight(i))
		assert.Equal(t, "✨ Insight: type=RAW_OBSERVATION id="+i.ID[:8]+" origin=6f1c2a4e topic=cpu confidence=0.75\n", buf.String())
	})

	t.Run("integrated without assessment", func(t *testing.T) {
		var buf bytes.Buffer
		f := &defaultFormatter{writer: &buf}
		require.NoError(t, f.FormatInsight(newInsight(t, blackboard.InsightTypeIntegratedUnderstanding)))
		assert.Contains(t, buf.String(), "outcome=- stability=- sources=0")
	})

	t.Run("jsonl", func(t *testing.T) {
		var buf bytes.Buffer
		f, err := newFormatter(FormatJSONL, &buf)
		require.NoError(t, err)

		i := newInsight(t, blackboard.InsightTypeHypothesis)
		require.NoError(t, f.FormatInsight(i))
		assert.True(t, strings.HasPrefix(buf.String(), `{"id":"`+i.ID+`"`))
		assert.True(t, strings.HasSuffix(buf.String(), "}\n"))
	})
}
