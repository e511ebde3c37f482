package blackboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so that
// several collectives can share a single Redis server.
//
// Key pattern: collective:{instance_name}:{entity}[:{id}]
// Channel pattern: collective:{instance_name}:{event_type}_events

// InsightKey returns the Redis key for an insight hash.
// Pattern: collective:{instance_name}:insight:{insight_id}
func InsightKey(instanceName, insightID string) string {
	return fmt.Sprintf("collective:%s:insight:%s", instanceName, insightID)
}

// InsightKeyPrefix returns the prefix shared by all insight keys of an instance.
func InsightKeyPrefix(instanceName string) string {
	return fmt.Sprintf("collective:%s:insight:", instanceName)
}

// TimelineKey returns the Redis key for the insight timeline ZSET.
// Members are insight IDs scored by created_at_ms.
// Pattern: collective:{instance_name}:timeline
func TimelineKey(instanceName string) string {
	return fmt.Sprintf("collective:%s:timeline", instanceName)
}

// StateKey returns the Redis key for the shared state hash.
// Pattern: collective:{instance_name}:state
func StateKey(instanceName string) string {
	return fmt.Sprintf("collective:%s:state", instanceName)
}

// LockKey returns the Redis key guarding a shared resource.
// Pattern: collective:{instance_name}:lock:{resource}
func LockKey(instanceName, resource string) string {
	return fmt.Sprintf("collective:%s:lock:%s", instanceName, resource)
}

// NodesKey returns the Redis key for the node registry hash.
// Fields are node IDs, values are the last heartbeat in Unix milliseconds.
// Pattern: collective:{instance_name}:nodes
func NodesKey(instanceName string) string {
	return fmt.Sprintf("collective:%s:nodes", instanceName)
}

// InboxKey returns the Redis stream a node consumes directed messages from.
// Pattern: collective:{instance_name}:node:{node_id}:inbox
func InboxKey(instanceName, nodeID string) string {
	return fmt.Sprintf("collective:%s:node:%s:inbox", instanceName, nodeID)
}

// InsightEventsChannel returns the Pub/Sub channel name for insight events.
// Pattern: collective:{instance_name}:insight_events
func InsightEventsChannel(instanceName string) string {
	return fmt.Sprintf("collective:%s:insight_events", instanceName)
}
