package blackboard

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Scalar fields are stored
// individually so they stay inspectable with redis-cli; the metadata map is
// JSON-encoded into a single field. Optional scores are omitted from the hash
// when unset.

// InsightToHash converts an Insight struct to a Redis hash format.
func InsightToHash(i *Insight) (map[string]interface{}, error) {
	metadataJSON, err := json.Marshal(i.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	content := string(i.Content)
	if content == "" {
		content = "null"
	}

	hash := map[string]interface{}{
		"id":             i.ID,
		"origin_node_id": i.OriginNodeID,
		"created_at_ms":  i.CreatedAtMs,
		"type":           string(i.Type),
		"content":        content,
		"metadata":       string(metadataJSON),
	}

	if i.Confidence != nil {
		hash["confidence"] = formatFloat(*i.Confidence)
	}
	if i.Resonance != nil {
		hash["resonance"] = formatFloat(*i.Resonance)
	}

	return hash, nil
}

// HashToInsight converts a Redis hash to an Insight struct.
func HashToInsight(hash map[string]string) (*Insight, error) {
	createdAtMs, err := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at_ms field: %w", err)
	}

	var metadata map[string]string
	if raw := hash["metadata"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	insight := &Insight{
		ID:           hash["id"],
		OriginNodeID: hash["origin_node_id"],
		CreatedAtMs:  createdAtMs,
		Type:         InsightType(hash["type"]),
		Content:      json.RawMessage(hash["content"]),
		Metadata:     metadata,
	}

	if raw, ok := hash["confidence"]; ok {
		c, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid confidence field: %w", err)
		}
		insight.Confidence = &c
	}

	if raw, ok := hash["resonance"]; ok {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid resonance field: %w", err)
		}
		insight.Resonance = &r
	}

	return insight, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func formatInt(i int64) string {
	return strconv.FormatInt(i, 10)
}
