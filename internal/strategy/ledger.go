package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dyluth/collective/internal/consistency"
	"github.com/dyluth/collective/pkg/blackboard"
)

// ConsensusRecord is the best merge seen for a topic.
type ConsensusRecord struct {
	Topic       string  `json:"topic"`
	InsightID   string  `json:"insight_id"`
	OriginID    string  `json:"origin_node_id"`
	Confidence  float64 `json:"confidence"`
	Sources     int     `json:"sources"`
	Stability   float64 `json:"stability"`
	UpdatedAtMs int64   `json:"updated_at_ms"`
}

// LedgerKey is the shared-state key of a topic's consensus record.
func LedgerKey(topic string) string {
	return "consensus:" + topic
}

// supersedes reports whether r should replace prev. Records only move toward
// higher confidence or broader support.
func (r *ConsensusRecord) supersedes(prev *ConsensusRecord) bool {
	return prev == nil || r.Confidence >= prev.Confidence || r.Sources > prev.Sources
}

// RecordConsensus stores merged as its topic's record when it supersedes the
// current one. Lock timeouts are retried with exponential backoff for up to
// three attempts. Returns whether the record was replaced.
func RecordConsensus(ctx context.Context, m consistency.Manager, merged *blackboard.Insight, sources int) (bool, error) {
	topic := merged.Topic()
	if topic == "" {
		return false, fmt.Errorf("insight %s has no topic", merged.ID)
	}
	assessment, _ := AssessmentOf(merged)
	rec := &ConsensusRecord{
		Topic:       topic,
		InsightID:   merged.ID,
		OriginID:    merged.OriginNodeID,
		Confidence:  merged.ConfidenceOr(0),
		Sources:     sources,
		Stability:   assessment.Stability,
		UpdatedAtMs: time.Now().UnixMilli(),
	}
	key := LedgerKey(topic)

	var replaced bool
	op := func() error {
		var err error
		replaced, err = consistency.Execute(ctx, m, []string{key}, func(ctx context.Context, tx *consistency.Tx) (bool, error) {
			prev, err := decodeRecord(tx.Get(ctx, key))
			if err != nil {
				return false, err
			}
			if !rec.supersedes(prev) {
				return false, nil
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return false, fmt.Errorf("failed to marshal consensus record: %w", err)
			}
			return true, tx.Set(key, string(data))
		})
		if err != nil && !errors.Is(err, consistency.ErrLockTimeout) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 0
	notify := func(err error, d time.Duration) {
		log.Printf("[Strategy] Consensus ledger for %q busy, retrying in %v: %v", topic, d, err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx), notify); err != nil {
		return false, err
	}
	return replaced, nil
}

// ReadConsensus returns the committed record for topic.
func ReadConsensus(ctx context.Context, m consistency.Manager, topic string) (*ConsensusRecord, bool, error) {
	rec, err := decodeRecord(m.Read(ctx, LedgerKey(topic)))
	if err != nil {
		return nil, false, err
	}
	return rec, rec != nil, nil
}

func decodeRecord(value string, ok bool, err error) (*ConsensusRecord, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to read consensus record: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var rec ConsensusRecord
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode consensus record: %w", err)
	}
	return &rec, nil
}
