// Package blackboard provides type-safe Go definitions and the Redis substrate
// for a collective of nodes exchanging insights.
//
// # Overview
//
// The blackboard is the shared state every node of a collective can reach. It
// stores insights, a temporal index over them, the shared context hash that the
// consistency layer guards, the node registry used for reachability checks, and
// one inbox stream per node used by the Redis transport.
//
// # Core Concepts
//
// Insights are immutable knowledge units. Every observation, hypothesis and
// integrated understanding is represented as an insight with an origin node, a
// type tag, an opaque JSON content payload, optional confidence and resonance
// scores, and string metadata. Refinement never mutates an insight: it produces
// a new one that lists its predecessors under the derived_from metadata key.
//
// The shared state hash holds the collective goal, context items and per-topic
// consensus records. It is only written through CommitState, which applies a
// batch of writes inside MULTI/EXEC so readers never observe a partial batch.
//
// Locks are plain Redis strings holding an owner token with a lease. Release is
// a compare-and-delete script so a node can never release a lock it lost.
//
// # Multi-Instance Support
//
// All Redis keys, Pub/Sub channels and streams are namespaced by instance name
// so several collectives can share one Redis server without interference.
//
// # Usage Example
//
//	import "github.com/dyluth/collective/pkg/blackboard"
//
//	insight, err := blackboard.NewInsight(nodeID, blackboard.InsightTypeRawObservation,
//		map[string]any{"reading": 42},
//		blackboard.WithConfidence(0.9),
//		blackboard.WithTopic("temperature"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	client, err := blackboard.NewClient(&redis.Options{Addr: "localhost:6379"}, "default")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	if err := client.CreateInsight(ctx, insight); err != nil {
//		log.Fatal(err)
//	}
//
// # Redis Schema
//
// All Redis keys follow the pattern: collective:{instance_name}:{entity}[:{id}]
//
// Insights: collective:{instance_name}:insight:{insight_id}
// Timeline: collective:{instance_name}:timeline (ZSET scored by created_at_ms)
// Shared state: collective:{instance_name}:state (HASH)
// Locks: collective:{instance_name}:lock:{resource}
// Node registry: collective:{instance_name}:nodes (HASH node_id -> heartbeat ms)
// Node inbox: collective:{instance_name}:node:{node_id}:inbox (STREAM)
//
// Pub/Sub channels: collective:{instance_name}:insight_events
package blackboard
