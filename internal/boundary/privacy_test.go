package boundary

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/collective/pkg/blackboard"
)

func TestPrivacyFilter_Filter(t *testing.T) {
	tests := []struct {
		name   string
		level  int
		strict bool
		input  string
		want   string
	}{
		{"email", 1, false, "mail alice@example.com now", "mail [REDACTED-EMAIL] now"},
		{"phone", 1, false, "call (555) 123-4567", "call [REDACTED-PHONE]"},
		{"terms ignored below level 3", 2, false, "the password is hunter2", "the password is hunter2"},
		{"terms case insensitive", 3, false, "Top SECRET plan", "Top [REDACTED-TERM] plan"},
		{"numbers need strict", 4, false, "account 98765", "account 98765"},
		{"strict numbers", 4, true, "account 98765", "account [REDACTED-NUMBER]"},
		{"strict needs level 4", 3, true, "account 98765", "account 98765"},
		{"empty", 5, true, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewPrivacyFilter(tt.level)
			f.Strict = tt.strict
			assert.Equal(t, tt.want, f.Filter(tt.input))
		})
	}
}

func TestPrivacyFilter_Level(t *testing.T) {
	assert.Equal(t, MinPrivacyLevel, NewPrivacyFilter(0).Level())
	assert.Equal(t, MaxPrivacyLevel, NewPrivacyFilter(9).Level())
	assert.Equal(t, 4, NewPrivacyFilter(4).Level())
}

func TestPrivacyFilter_CustomRules(t *testing.T) {
	f := NewPrivacyFilter(DefaultPrivacyLevel)

	assert.True(t, f.AddTerm("Token"))
	assert.False(t, f.AddTerm("token"))
	assert.False(t, f.AddTerm("  "))

	require.NoError(t, f.AddPattern("ticket", `TCK-\d+`))
	assert.Error(t, f.AddPattern("ticket", `x`))
	assert.Error(t, f.AddPattern("broken", `(`))

	assert.Equal(t, "[REDACTED-TERM] for [REDACTED-TICKET]", f.Filter("token for TCK-9"))
	assert.True(t, f.ContainsSensitive("see TCK-1"))
	assert.True(t, f.ContainsSensitive("Confidential"))
	assert.False(t, f.ContainsSensitive("latency p99 120ms"))
}

func TestPrivacyFilter_FilterJSON(t *testing.T) {
	f := NewPrivacyFilter(DefaultPrivacyLevel)

	t.Run("scrubs values and sensitive members", func(t *testing.T) {
		out, changed, err := f.FilterJSON(json.RawMessage(`{"contact":"alice@example.com","password":"hunter2","tags":["ok","bob@example.org"],"n":12}`))
		require.NoError(t, err)
		assert.True(t, changed)
		assert.JSONEq(t, `{"contact":"[REDACTED-EMAIL]","password":"[REDACTED-TERM]","tags":["ok","[REDACTED-EMAIL]"],"n":12}`, string(out))
	})

	t.Run("clean content is returned as is", func(t *testing.T) {
		raw := json.RawMessage(`{"p99_ms": 120}`)
		out, changed, err := f.FilterJSON(raw)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, string(raw), string(out))
	})

	t.Run("large numbers keep precision", func(t *testing.T) {
		strict := NewPrivacyFilter(MaxPrivacyLevel)
		out, changed, err := strict.FilterJSON(json.RawMessage(`{"id":12345678901234567890,"note":"secret"}`))
		require.NoError(t, err)
		assert.True(t, changed)
		assert.JSONEq(t, `{"id":12345678901234567890,"note":"[REDACTED-TERM]"}`, string(out))
	})
}

func TestRedact_ScrubsBeforeSummarising(t *testing.T) {
	peer := uuid.New().String()
	insight, err := blackboard.NewInsight(peer, blackboard.InsightTypeRawObservation,
		map[string]string{"contact": "alice@example.com", "password": "hunter2"})
	require.NoError(t, err)
	privacy := NewPrivacyFilter(DefaultPrivacyLevel)

	t.Run("summary", func(t *testing.T) {
		out, err := Redact(insight, 0.5, privacy)
		require.NoError(t, err)
		assert.Equal(t, RedactionSummary, out.Meta(blackboard.MetaRedaction))
		assert.NotContains(t, string(out.Content), "alice@example.com")
		assert.NotContains(t, string(out.Content), "hunter2")
		assert.Contains(t, string(out.Content), "REDACTED-EMAIL")
	})

	t.Run("full access gets scrubbed content", func(t *testing.T) {
		out, err := Redact(insight, 0.9, privacy)
		require.NoError(t, err)
		assert.NotEqual(t, insight.ID, out.ID)
		assert.Equal(t, RedactionFiltered, out.Meta(blackboard.MetaRedaction))
		assert.Equal(t, []string{insight.ID}, out.DerivedFrom())
		assert.JSONEq(t, `{"contact":"[REDACTED-EMAIL]","password":"[REDACTED-TERM]"}`, string(out.Content))
	})

	t.Run("nil filter shares as is", func(t *testing.T) {
		out, err := Redact(insight, 0.9, nil)
		require.NoError(t, err)
		assert.Same(t, insight, out)
	})
}
