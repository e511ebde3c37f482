package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dyluth/collective/pkg/blackboard"
)

// Known strategy names accepted by node.strategy.
var knownStrategies = map[string]bool{
	"consensus-formation":    true,
	"cross-node-integration": true,
}

// CollectiveConfig represents the top-level collective.yml configuration
type CollectiveConfig struct {
	Version     string             `yaml:"version"`
	Node        *NodeConfig        `yaml:"node,omitempty"`
	Redis       *RedisConfig       `yaml:"redis,omitempty"`
	Boundary    *BoundaryConfig    `yaml:"boundary,omitempty"`
	Dynamics    *DynamicsConfig    `yaml:"dynamics,omitempty"`
	Consistency *ConsistencyConfig `yaml:"consistency,omitempty"`
	Cache       *CacheConfig       `yaml:"cache,omitempty"`
	Health      *HealthConfig      `yaml:"health,omitempty"`
}

// NodeConfig specifies the local node
type NodeConfig struct {
	ID            string        `yaml:"id,omitempty"`             // UUID; generated at startup when empty
	Task          string        `yaml:"task,omitempty"`           // Task the node integrates for
	Window        int           `yaml:"window,omitempty"`         // Insights per topic before integrating (default 2)
	FlushInterval time.Duration `yaml:"flush_interval,omitempty"` // Integrate partial windows this often (default 5s, negative disables)
	Strategy      string        `yaml:"strategy,omitempty"`       // consensus-formation (default) or cross-node-integration
	MinOrigins    int           `yaml:"min_origins,omitempty"`    // cross-node-integration only (default 2)
}

// RedisConfig specifies the shared substrate
type RedisConfig struct {
	URL      string `yaml:"url,omitempty"`      // e.g. redis://localhost:6379
	Instance string `yaml:"instance,omitempty"` // Key namespace (default "default")
}

// BoundaryConfig specifies information boundary thresholds and trust seeds
type BoundaryConfig struct {
	DefaultMinTrust *float64            `yaml:"default_min_trust,omitempty"` // Threshold for types without an entry (default 0.5)
	MinTrust        map[string]float64  `yaml:"min_trust,omitempty"`         // Insight type -> threshold
	Tasks           map[string]TaskRule `yaml:"tasks,omitempty"`             // Task -> overrides
	Trust           map[string]float64  `yaml:"trust,omitempty"`             // Node ID -> initial trust
	DecayRate       *float64            `yaml:"decay_rate,omitempty"`        // Daily trust decay (default 0.01)
	MinThreshold    *float64            `yaml:"min_threshold,omitempty"`     // Sufficient trust (default 0.3)

	PrivacyLevel      int               `yaml:"privacy_level,omitempty"`      // 1-5, egress scrubbing strength (default 3)
	StrictPrivacy     bool              `yaml:"strict_privacy,omitempty"`     // Also mask long numbers at level 4+
	SensitiveTerms    []string          `yaml:"sensitive_terms,omitempty"`    // Added to password, secret, private, confidential
	SensitivePatterns map[string]string `yaml:"sensitive_patterns,omitempty"` // Name -> regexp, added to email and phone
}

// Built-in privacy pattern names that sensitive_patterns cannot redefine.
var builtinPrivacyPatterns = map[string]bool{"email": true, "phone": true}

// TaskRule narrows what may cross the boundary for one task
type TaskRule struct {
	MinTrust     *float64 `yaml:"min_trust,omitempty"`
	AllowedTypes []string `yaml:"allowed_types,omitempty"`
}

// DynamicsConfig specifies stability run bounds
type DynamicsConfig struct {
	Epsilon       float64 `yaml:"epsilon,omitempty"`        // default 1e-6
	EscapeBound   float64 `yaml:"escape_bound,omitempty"`   // default 2
	MaxIterations int     `yaml:"max_iterations,omitempty"` // default 100
	Gain          float64 `yaml:"gain,omitempty"`           // default 1.5
}

// ConsistencyConfig specifies lock and transaction timing
type ConsistencyConfig struct {
	LockTimeout time.Duration `yaml:"lock_timeout,omitempty"` // default 5s
	Lease       time.Duration `yaml:"lease,omitempty"`        // default 30s
	TxTimeout   time.Duration `yaml:"tx_timeout,omitempty"`   // default 10s
}

// CacheConfig specifies the shared context read cache
type CacheConfig struct {
	TTL      time.Duration `yaml:"ttl,omitempty"`       // default 2s
	MaxItems int64         `yaml:"max_items,omitempty"` // default 10000
}

// HealthConfig specifies the node's HTTP health server
type HealthConfig struct {
	Addr string `yaml:"addr,omitempty"` // default :8080
}

// Default returns a validated configuration with every default applied.
func Default() *CollectiveConfig {
	c := &CollectiveConfig{Version: "1.0"}
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return c
}

// Validate performs strict validation on the configuration and fills in defaults
func (c *CollectiveConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Node == nil {
		c.Node = &NodeConfig{}
	}
	if err := c.Node.validate(); err != nil {
		return err
	}

	if c.Redis == nil {
		c.Redis = &RedisConfig{}
	}
	if c.Redis.Instance == "" {
		c.Redis.Instance = "default"
	}
	if err := ValidateInstanceName(c.Redis.Instance); err != nil {
		return err
	}

	if c.Boundary == nil {
		c.Boundary = &BoundaryConfig{}
	}
	if err := c.Boundary.validate(); err != nil {
		return err
	}

	if c.Dynamics == nil {
		c.Dynamics = &DynamicsConfig{}
	}
	if err := c.Dynamics.validate(); err != nil {
		return err
	}

	if c.Consistency == nil {
		c.Consistency = &ConsistencyConfig{}
	}
	if err := c.Consistency.validate(); err != nil {
		return err
	}

	if c.Cache == nil {
		c.Cache = &CacheConfig{}
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 2 * time.Second
	}
	if c.Cache.MaxItems == 0 {
		c.Cache.MaxItems = 10000
	}
	if c.Cache.MaxItems < 0 {
		return fmt.Errorf("cache.max_items must be > 0, got %d", c.Cache.MaxItems)
	}

	if c.Health == nil {
		c.Health = &HealthConfig{}
	}
	if c.Health.Addr == "" {
		c.Health.Addr = ":8080"
	}

	return nil
}

func (n *NodeConfig) validate() error {
	if n.ID != "" {
		if !isUUID(n.ID) {
			return fmt.Errorf("node.id must be a UUID, got %q", n.ID)
		}
	}
	if n.Window == 0 {
		n.Window = 2
	}
	if n.Window < 1 {
		return fmt.Errorf("node.window must be >= 1, got %d", n.Window)
	}
	if n.FlushInterval == 0 {
		n.FlushInterval = 5 * time.Second
	}
	if n.FlushInterval < 0 {
		n.FlushInterval = 0
	}
	if n.Strategy == "" {
		n.Strategy = "consensus-formation"
	}
	if !knownStrategies[n.Strategy] {
		return fmt.Errorf("invalid node.strategy: %s (must be 'consensus-formation' or 'cross-node-integration')", n.Strategy)
	}
	if n.MinOrigins == 0 {
		n.MinOrigins = 2
	}
	if n.MinOrigins < 1 {
		return fmt.Errorf("node.min_origins must be >= 1, got %d", n.MinOrigins)
	}
	return nil
}

func (b *BoundaryConfig) validate() error {
	if b.DefaultMinTrust == nil {
		v := 0.5
		b.DefaultMinTrust = &v
	}
	if err := checkUnit("boundary.default_min_trust", *b.DefaultMinTrust); err != nil {
		return err
	}

	for t, v := range b.MinTrust {
		if err := blackboard.InsightType(t).Validate(); err != nil {
			return fmt.Errorf("boundary.min_trust: %w", err)
		}
		if err := checkUnit("boundary.min_trust."+t, v); err != nil {
			return err
		}
	}

	for task, rule := range b.Tasks {
		if rule.MinTrust != nil {
			if err := checkUnit("boundary.tasks."+task+".min_trust", *rule.MinTrust); err != nil {
				return err
			}
		}
		for _, t := range rule.AllowedTypes {
			if err := blackboard.InsightType(t).Validate(); err != nil {
				return fmt.Errorf("boundary.tasks.%s.allowed_types: %w", task, err)
			}
		}
	}

	for node, v := range b.Trust {
		if !isUUID(node) {
			return fmt.Errorf("boundary.trust: node ID must be a UUID, got %q", node)
		}
		if err := checkUnit("boundary.trust."+node, v); err != nil {
			return err
		}
	}

	if b.DecayRate == nil {
		v := 0.01
		b.DecayRate = &v
	}
	if err := checkUnit("boundary.decay_rate", *b.DecayRate); err != nil {
		return err
	}
	if b.MinThreshold == nil {
		v := 0.3
		b.MinThreshold = &v
	}
	if err := checkUnit("boundary.min_threshold", *b.MinThreshold); err != nil {
		return err
	}

	if b.PrivacyLevel == 0 {
		b.PrivacyLevel = 3
	}
	if b.PrivacyLevel < 1 || b.PrivacyLevel > 5 {
		return fmt.Errorf("boundary.privacy_level must be in [1,5], got %d", b.PrivacyLevel)
	}
	for name, expr := range b.SensitivePatterns {
		if builtinPrivacyPatterns[name] {
			return fmt.Errorf("boundary.sensitive_patterns.%s: name is built in", name)
		}
		if _, err := regexp.Compile(expr); err != nil {
			return fmt.Errorf("boundary.sensitive_patterns.%s: %w", name, err)
		}
	}
	return nil
}

func (d *DynamicsConfig) validate() error {
	if d.Epsilon == 0 {
		d.Epsilon = 1e-6
	}
	if d.EscapeBound == 0 {
		d.EscapeBound = 2
	}
	if d.MaxIterations == 0 {
		d.MaxIterations = 100
	}
	if d.Gain == 0 {
		d.Gain = 1.5
	}
	if d.Epsilon < 0 {
		return fmt.Errorf("dynamics.epsilon must be > 0, got %v", d.Epsilon)
	}
	if d.EscapeBound <= d.Epsilon {
		return fmt.Errorf("dynamics.escape_bound must exceed epsilon, got %v", d.EscapeBound)
	}
	if d.MaxIterations < 1 {
		return fmt.Errorf("dynamics.max_iterations must be >= 1, got %d", d.MaxIterations)
	}
	if d.Gain < 0 {
		return fmt.Errorf("dynamics.gain must be > 0, got %v", d.Gain)
	}
	return nil
}

func (c *ConsistencyConfig) validate() error {
	if c.LockTimeout == 0 {
		c.LockTimeout = 5 * time.Second
	}
	if c.Lease == 0 {
		c.Lease = 30 * time.Second
	}
	if c.TxTimeout == 0 {
		c.TxTimeout = 10 * time.Second
	}
	if c.LockTimeout < 0 || c.Lease < 0 || c.TxTimeout < 0 {
		return fmt.Errorf("consistency timeouts must be positive")
	}
	if c.Lease < c.TxTimeout {
		return fmt.Errorf("consistency.lease (%v) must be at least consistency.tx_timeout (%v)", c.Lease, c.TxTimeout)
	}
	return nil
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

func checkUnit(field string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be in [0,1], got %v", field, v)
	}
	return nil
}

// MaxInstanceNameLength keeps instance names usable as DNS labels.
const MaxInstanceNameLength = 63

var instanceNamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// ValidateInstanceName checks that name is lowercase alphanumeric with inner
// hyphens and at most MaxInstanceNameLength characters.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if len(name) > MaxInstanceNameLength {
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), MaxInstanceNameLength)
	}
	if !instanceNamePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}
	return nil
}

// Load reads and validates collective.yml from the specified path
func Load(path string) (*CollectiveConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse validates a collective.yml document held in memory
func Parse(data []byte) (*CollectiveConfig, error) {
	var config CollectiveConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
