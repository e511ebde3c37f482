package node

import (
	"fmt"
	"log"
	"sort"

	"github.com/dyluth/collective/internal/boundary"
	"github.com/dyluth/collective/internal/config"
	"github.com/dyluth/collective/internal/consistency"
	"github.com/dyluth/collective/internal/dynamics"
	"github.com/dyluth/collective/internal/metrics"
	"github.com/dyluth/collective/internal/strategy"
	"github.com/dyluth/collective/internal/transport"
	"github.com/dyluth/collective/pkg/blackboard"
)

// PolicyFromConfig builds the boundary policy for selfID.
func PolicyFromConfig(selfID string, c *config.BoundaryConfig) *boundary.Policy {
	p := boundary.NewPolicy(selfID)
	if c == nil {
		return p
	}
	if c.DefaultMinTrust != nil {
		p.DefaultMinTrust = *c.DefaultMinTrust
	}
	for t, v := range c.MinTrust {
		p.MinTrust[blackboard.InsightType(t)] = v
	}
	for task, rule := range c.Tasks {
		r := boundary.TaskRule{MinTrust: rule.MinTrust}
		for _, t := range rule.AllowedTypes {
			r.AllowedTypes = append(r.AllowedTypes, blackboard.InsightType(t))
		}
		p.Tasks[task] = r
	}
	p.Privacy = PrivacyFromConfig(c)
	return p
}

// PrivacyFromConfig builds the egress privacy filter.
func PrivacyFromConfig(c *config.BoundaryConfig) *boundary.PrivacyFilter {
	level := boundary.DefaultPrivacyLevel
	if c != nil && c.PrivacyLevel != 0 {
		level = c.PrivacyLevel
	}
	f := boundary.NewPrivacyFilter(level)
	if c == nil {
		return f
	}
	f.Strict = c.StrictPrivacy
	for _, t := range c.SensitiveTerms {
		f.AddTerm(t)
	}
	names := make([]string, 0, len(c.SensitivePatterns))
	for name := range c.SensitivePatterns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := f.AddPattern(name, c.SensitivePatterns[name]); err != nil {
			log.Printf("[Node] Ignoring privacy pattern: %v", err)
		}
	}
	return f
}

// TrustFromConfig builds a trust manager seeded with the configured levels.
func TrustFromConfig(c *config.BoundaryConfig) *boundary.TrustManager {
	if c == nil || c.DecayRate == nil || c.MinThreshold == nil {
		return boundary.NewDefaultTrustManager()
	}
	m := boundary.NewTrustManager(*c.DecayRate, *c.MinThreshold)
	nodes := make([]string, 0, len(c.Trust))
	for id := range c.Trust {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)
	for _, id := range nodes {
		m.Initialize(id, c.Trust[id])
	}
	return m
}

// DynamicsParams converts the dynamics section.
func DynamicsParams(c *config.DynamicsConfig) dynamics.Params {
	p := dynamics.DefaultParams()
	if c == nil {
		return p
	}
	if c.Epsilon > 0 {
		p.Epsilon = c.Epsilon
	}
	if c.EscapeBound > 0 {
		p.EscapeBound = c.EscapeBound
	}
	if c.MaxIterations > 0 {
		p.MaxIterations = c.MaxIterations
	}
	return p
}

// ConsistencyOptions converts the consistency section.
func ConsistencyOptions(c *config.ConsistencyConfig) consistency.Options {
	if c == nil {
		return consistency.Options{}
	}
	return consistency.Options{LockTimeout: c.LockTimeout, Lease: c.Lease, TxTimeout: c.TxTimeout}
}

// Strategies builds the strategy registry described by cfg.
func Strategies(selfID string, cfg *config.CollectiveConfig, ledger consistency.Manager) (*strategy.Registry, error) {
	params := DynamicsParams(cfg.Dynamics)
	consensus := strategy.ConsensusOptions{NodeID: selfID, Params: params, Ledger: ledger}
	if cfg.Dynamics != nil {
		consensus.Gain = cfg.Dynamics.Gain
	}
	crossNode := strategy.CrossNodeOptions{Params: params}
	if cfg.Node != nil {
		crossNode.MinOrigins = cfg.Node.MinOrigins
	}
	return strategy.NewRegistry(
		strategy.NewConsensusFormation(consensus),
		strategy.NewCrossNodeIntegration(crossNode),
	)
}

// NewRedisNode wires a node onto a shared Redis instance: Redis Streams
// transport, Redis-backed consistency manager and insight store. The config
// must already be validated.
func NewRedisNode(cfg *config.CollectiveConfig, client *blackboard.Client, reg metrics.Registry) (*Node, error) {
	id := cfg.Node.ID
	if id == "" {
		return nil, fmt.Errorf("node.id is required")
	}

	manager := consistency.NewRedisManager(client, ConsistencyOptions(cfg.Consistency))
	strategies, err := Strategies(id, cfg, manager)
	if err != nil {
		return nil, err
	}

	return New(Options{
		ID:            id,
		Task:          cfg.Node.Task,
		Instance:      client.InstanceName(),
		Protocol:      transport.NewRedisProtocol(client, id, transport.RedisOptions{}),
		Policy:        PolicyFromConfig(id, cfg.Boundary),
		Trust:         TrustFromConfig(cfg.Boundary),
		Consistency:   manager,
		Strategies:    strategies,
		Strategy:      cfg.Node.Strategy,
		Store:         client,
		Metrics:       reg,
		Window:        cfg.Node.Window,
		FlushInterval: cfg.Node.FlushInterval,
	})
}
