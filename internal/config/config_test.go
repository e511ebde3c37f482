package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collective.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_MinimalConfigGetsDefaults(t *testing.T) {
	config, err := Load(writeConfig(t, `version: "1.0"`))
	require.NoError(t, err)

	assert.Equal(t, 2, config.Node.Window)
	assert.Equal(t, 5*time.Second, config.Node.FlushInterval)
	assert.Equal(t, "consensus-formation", config.Node.Strategy)
	assert.Equal(t, "default", config.Redis.Instance)
	assert.Equal(t, 0.5, *config.Boundary.DefaultMinTrust)
	assert.Equal(t, 1e-6, config.Dynamics.Epsilon)
	assert.Equal(t, 100, config.Dynamics.MaxIterations)
	assert.Equal(t, 30*time.Second, config.Consistency.Lease)
	assert.Equal(t, ":8080", config.Health.Addr)
}

func TestLoad_FullConfig(t *testing.T) {
	nodeID := uuid.New().String()
	peer := uuid.New().String()
	config, err := Load(writeConfig(t, `version: "1.0"
node:
  id: "`+nodeID+`"
  task: sync
  window: 3
  flush_interval: 250ms
  strategy: cross-node-integration
redis:
  url: redis://localhost:6379
  instance: lab
boundary:
  default_min_trust: 0.6
  min_trust:
    RAW_OBSERVATION: 0.8
  tasks:
    sync:
      min_trust: 0.4
      allowed_types: [RAW_OBSERVATION, HYPOTHESIS]
  trust:
    "`+peer+`": 0.8
dynamics:
  gain: 2
consistency:
  lock_timeout: 1s
  tx_timeout: 2s
`))
	require.NoError(t, err)

	assert.Equal(t, nodeID, config.Node.ID)
	assert.Equal(t, 250*time.Millisecond, config.Node.FlushInterval)
	assert.Equal(t, "cross-node-integration", config.Node.Strategy)
	assert.Equal(t, "lab", config.Redis.Instance)
	assert.Equal(t, 0.8, config.Boundary.MinTrust["RAW_OBSERVATION"])
	assert.Equal(t, []string{"RAW_OBSERVATION", "HYPOTHESIS"}, config.Boundary.Tasks["sync"].AllowedTypes)
	assert.Equal(t, 0.8, config.Boundary.Trust[peer])
	assert.Equal(t, 2.0, config.Dynamics.Gain)
	assert.Equal(t, time.Second, config.Consistency.LockTimeout)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/collective.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	config, err := Load(writeConfig(t, "version: \"1.0\"\nnode:\n  - this is invalid\n    yaml syntax\n"))
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		contains string
	}{
		{"version", `version: "2.0"`, "unsupported version"},
		{"node id", "version: \"1.0\"\nnode:\n  id: node-1\n", "node.id"},
		{"strategy", "version: \"1.0\"\nnode:\n  strategy: vote\n", "invalid node.strategy"},
		{"window", "version: \"1.0\"\nnode:\n  window: -1\n", "node.window"},
		{"type threshold", "version: \"1.0\"\nboundary:\n  min_trust:\n    GOSSIP: 0.5\n", "unknown insight type"},
		{"threshold range", "version: \"1.0\"\nboundary:\n  default_min_trust: 1.5\n", "default_min_trust"},
		{"task types", "version: \"1.0\"\nboundary:\n  tasks:\n    sync:\n      allowed_types: [RUMOUR]\n", "allowed_types"},
		{"trust key", "version: \"1.0\"\nboundary:\n  trust:\n    bob: 0.5\n", "boundary.trust"},
		{"escape bound", "version: \"1.0\"\ndynamics:\n  epsilon: 0.5\n  escape_bound: 0.1\n", "escape_bound"},
		{"lease", "version: \"1.0\"\nconsistency:\n  lease: 1s\n  tx_timeout: 5s\n", "consistency.lease"},
		{"instance", "version: \"1.0\"\nredis:\n  instance: Prod_1\n", "invalid instance name"},
		{"privacy level", "version: \"1.0\"\nboundary:\n  privacy_level: 6\n", "boundary.privacy_level"},
		{"privacy pattern", "version: \"1.0\"\nboundary:\n  sensitive_patterns:\n    ticket: \"(\"\n", "sensitive_patterns.ticket"},
		{"builtin pattern", "version: \"1.0\"\nboundary:\n  sensitive_patterns:\n    email: x\n", "name is built in"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestValidateInstanceName(t *testing.T) {
	for _, name := range []string{"a", "default", "prod-2", "x1-y2-z3"} {
		assert.NoError(t, ValidateInstanceName(name), name)
	}
	for _, name := range []string{"", "-prod", "prod-", "Prod", "prod_1", strings.Repeat("a", 64)} {
		assert.Error(t, ValidateInstanceName(name), name)
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, "1.0", c.Version)
	assert.NotNil(t, c.Boundary.DecayRate)
	assert.Equal(t, 3, c.Boundary.PrivacyLevel)
}

func TestService_DottedKeys(t *testing.T) {
	s, err := NewService([]byte(`
node:
  task: sync
  window: 4
dynamics:
  gain: 1.25
  verbose: true
consistency:
  lease: 45s
boundary:
  min_trust:
    HYPOTHESIS: 0.5
`))
	require.NoError(t, err)

	assert.Equal(t, "sync", s.GetString("node.task", ""))
	assert.Equal(t, "fallback", s.GetString("node.missing", "fallback"))
	assert.Equal(t, "4", s.GetString("node.window", ""))
	assert.Equal(t, 4, s.GetInt("node.window", 0))
	assert.Equal(t, 7, s.GetInt("node.task", 7))
	assert.Equal(t, 1.25, s.GetFloat("dynamics.gain", 0))
	assert.Equal(t, 4.0, s.GetFloat("node.window", 0))
	assert.True(t, s.GetBool("dynamics.verbose", false))
	assert.Equal(t, 45*time.Second, s.GetDuration("consistency.lease", 0))
	assert.Equal(t, time.Minute, s.GetDuration("consistency.missing", time.Minute))
	assert.True(t, s.Has("boundary.min_trust.HYPOTHESIS"))
	assert.False(t, s.Has("node.task.deeper"))

	var thresholds map[string]float64
	require.NoError(t, s.GetObject("boundary.min_trust", &thresholds))
	assert.Equal(t, map[string]float64{"HYPOTHESIS": 0.5}, thresholds)
	assert.Error(t, s.GetObject("nowhere", &thresholds))
}

func TestServiceFor_ExposesDefaults(t *testing.T) {
	s, err := ServiceFor(Default())
	require.NoError(t, err)

	assert.Equal(t, 100, s.GetInt("dynamics.max_iterations", 0))
	assert.Equal(t, 1e-6, s.GetFloat("dynamics.epsilon", 0))
	assert.Equal(t, 10*time.Second, s.GetDuration("consistency.tx_timeout", 0))
	assert.Equal(t, "consensus-formation", s.GetString("node.strategy", ""))
}
