package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Service exposes a configuration document through dotted-key lookups such
// as "dynamics.max_iterations". Missing or mistyped keys yield the default.
type Service struct {
	root map[string]interface{}
}

// NewService builds a service over a raw YAML document.
func NewService(data []byte) (*Service, error) {
	root := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &Service{root: root}, nil
}

// ServiceFor builds a service over a validated configuration, defaults included.
func ServiceFor(c *CollectiveConfig) (*Service, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return NewService(data)
}

// Lookup returns the raw value at key.
func (s *Service) Lookup(key string) (interface{}, bool) {
	var cur interface{} = s.root
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Has reports whether key is set.
func (s *Service) Has(key string) bool {
	_, ok := s.Lookup(key)
	return ok
}

// GetString returns the value at key as a string.
func (s *Service) GetString(key, def string) string {
	v, ok := s.Lookup(key)
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}, []interface{}:
		return def
	default:
		return fmt.Sprint(t)
	}
}

// GetInt returns the value at key as an int.
func (s *Service) GetInt(key string, def int) int {
	v, ok := s.Lookup(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return def
}

// GetFloat returns the value at key as a float64.
func (s *Service) GetFloat(key string, def float64) float64 {
	v, ok := s.Lookup(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	return def
}

// GetBool returns the value at key as a bool.
func (s *Service) GetBool(key string, def bool) bool {
	v, ok := s.Lookup(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
	}
	return def
}

// GetDuration returns the value at key parsed as a duration ("5s", "250ms").
// Bare integers are nanoseconds.
func (s *Service) GetDuration(key string, def time.Duration) time.Duration {
	v, ok := s.Lookup(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case string:
		if d, err := time.ParseDuration(t); err == nil {
			return d
		}
	case int:
		return time.Duration(t)
	}
	return def
}

// GetObject decodes the subtree at key into out.
func (s *Service) GetObject(key string, out interface{}) error {
	v, ok := s.Lookup(key)
	if !ok {
		return fmt.Errorf("config key %q not found", key)
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %q: %w", key, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return nil
}
