package style

import (
	"fmt"
	"os"

	"github.com/paulmach/osm"
	"gopkg.in/yaml.v3"
)

// Config selects which features are tiled, per element type
type Config struct {
	Nodes     *FilterConfig `yaml:"nodes,omitempty"`
	Ways      *FilterConfig `yaml:"ways,omitempty"`
	Relations *FilterConfig `yaml:"relations,omitempty"`
}

// FilterConfig defines tag rules for one element type
type FilterConfig struct {
	// Skip drops every element of this type
	Skip bool `yaml:"skip,omitempty"`
	// Include keeps elements with one of these key/values; an empty value
	// list matches any value, "*" matches any value too
	Include map[string][]string `yaml:"include,omitempty"`
	// Exclude drops elements with one of these key/values, after Include
	Exclude map[string][]string `yaml:"exclude,omitempty"`
	// RequireAny requires at least one of these keys
	RequireAny []string `yaml:"require_any,omitempty"`
}

// LoadConfig loads a style configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read style file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse style YAML: %w", err)
	}

	return &cfg, nil
}

// Selector applies a Config to elements
type Selector struct {
	nodes, ways, relations *Filter
}

// NewSelector builds a selector; a nil config selects everything
func NewSelector(cfg *Config) *Selector {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Selector{
		nodes:     NewFilter(cfg.Nodes),
		ways:      NewFilter(cfg.Ways),
		relations: NewFilter(cfg.Relations),
	}
}

// Select reports whether an element of type t with tags should be tiled.
// Unknown types are always selected so they surface as errors downstream.
func (s *Selector) Select(t osm.Type, tags map[string]string) bool {
	switch t {
	case osm.TypeNode:
		return s.nodes.Match(tags)
	case osm.TypeWay:
		return s.ways.Match(tags)
	case osm.TypeRelation:
		return s.relations.Match(tags)
	default:
		return true
	}
}

// Filter checks tags against one FilterConfig
type Filter struct {
	cfg *FilterConfig
}

// NewFilter creates a filter from configuration
func NewFilter(cfg *FilterConfig) *Filter {
	if cfg == nil {
		cfg = &FilterConfig{}
	}
	return &Filter{cfg: cfg}
}

// Match checks if the given tags pass the filter rules
func (f *Filter) Match(tags map[string]string) bool {
	if f.cfg.Skip {
		return false
	}

	if len(f.cfg.RequireAny) > 0 {
		found := false
		for _, key := range f.cfg.RequireAny {
			if _, ok := tags[key]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.cfg.Include) > 0 && !matchesAny(f.cfg.Include, tags) {
		return false
	}

	return !matchesAny(f.cfg.Exclude, tags)
}

// HasFilter returns true if any rule is configured
func (f *Filter) HasFilter() bool {
	return f.cfg.Skip || len(f.cfg.Include) > 0 || len(f.cfg.Exclude) > 0 || len(f.cfg.RequireAny) > 0
}

func matchesAny(rules map[string][]string, tags map[string]string) bool {
	for key, values := range rules {
		tagValue, ok := tags[key]
		if !ok {
			continue
		}
		if len(values) == 0 {
			return true
		}
		for _, v := range values {
			if v == tagValue || v == "*" {
				return true
			}
		}
	}
	return false
}
