package blackboard

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// toStringMap mimics what HGETALL returns for a hash written with HSET.
func toStringMap(hash map[string]interface{}) map[string]string {
	out := make(map[string]string, len(hash))
	for k, v := range hash {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func TestInsightRoundTrip(t *testing.T) {
	original := validInsight()
	original.Resonance = Float(0.25)
	original.Metadata = map[string]string{MetaTopic: "temperature", MetaStance: "up"}

	hash, err := InsightToHash(original)
	require.NoError(t, err)

	restored, err := HashToInsight(toStringMap(hash))
	require.NoError(t, err)

	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, original.OriginNodeID, restored.OriginNodeID)
	assert.Equal(t, original.CreatedAtMs, restored.CreatedAtMs)
	assert.Equal(t, original.Type, restored.Type)
	assert.JSONEq(t, string(original.Content), string(restored.Content))
	assert.Equal(t, 0.9, *restored.Confidence)
	assert.Equal(t, 0.25, *restored.Resonance)
	assert.Equal(t, original.Metadata, restored.Metadata)
}

func TestInsightRoundTrip_NoOptionalFields(t *testing.T) {
	original := validInsight()
	original.Confidence = nil
	original.Content = nil

	hash, err := InsightToHash(original)
	require.NoError(t, err)
	assert.NotContains(t, hash, "confidence")
	assert.NotContains(t, hash, "resonance")
	assert.Equal(t, "null", hash["content"])

	restored, err := HashToInsight(toStringMap(hash))
	require.NoError(t, err)
	assert.Nil(t, restored.Confidence)
	assert.Nil(t, restored.Resonance)
	assert.Nil(t, restored.Metadata)
	assert.Equal(t, json.RawMessage("null"), restored.Content)
}

func TestHashToInsight_Malformed(t *testing.T) {
	base := func() map[string]string {
		hash, err := InsightToHash(validInsight())
		require.NoError(t, err)
		return toStringMap(hash)
	}

	t.Run("bad timestamp", func(t *testing.T) {
		h := base()
		h["created_at_ms"] = "yesterday"
		_, err := HashToInsight(h)
		assert.Error(t, err)
	})

	t.Run("bad metadata", func(t *testing.T) {
		h := base()
		h["metadata"] = "{not json"
		_, err := HashToInsight(h)
		assert.Error(t, err)
	})

	t.Run("bad confidence", func(t *testing.T) {
		h := base()
		h["confidence"] = "high"
		_, err := HashToInsight(h)
		assert.Error(t, err)
	})
}
