package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models planline.yml: one portfolio of items and sites plus the
// planning options applied when a run is started.
type Config struct {
	Portfolio struct {
		ID          string `yaml:"id"`
		Description string `yaml:"description"`
	} `yaml:"portfolio"`
	Plan     PlanConfig      `yaml:"plan"`
	Items    []ItemConfig    `yaml:"items"`
	Sites    []SiteConfig    `yaml:"sites"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type PlanConfig struct {
	Objective         string             `yaml:"objective" json:"objective,omitempty"`
	MaxParallelItems  int                `yaml:"max_parallel_items" json:"max_parallel_items,omitempty"`
	PhaseUnitDuration float64            `yaml:"phase_unit_duration" json:"phase_unit_duration,omitempty"`
	CapacityLimits    map[string]float64 `yaml:"capacity_limits" json:"capacity_limits,omitempty"`
}

type ItemConfig struct {
	ID                string             `yaml:"id"`
	Duration          float64            `yaml:"duration"`
	Priority          float64            `yaml:"priority"`
	Value             *float64           `yaml:"value"`
	Dependencies      []string           `yaml:"dependencies"`
	Requirements      map[string]float64 `yaml:"requirements"`
	AllowedLocations  []string           `yaml:"allowed_locations"`
	PreferredLocation string             `yaml:"preferred_location"`
}

type SiteConfig struct {
	LocationID     string             `yaml:"location_id"`
	Capacities     map[string]float64 `yaml:"capacities"`
	CostMultiplier float64            `yaml:"cost_multiplier"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pl portfolio init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure. Planning-level
// checks (dependency resolution, cycles, capacity) happen when a run starts.
func (c *Config) Validate() error {
	if c.Portfolio.ID == "" {
		return fmt.Errorf("config.portfolio.id is required")
	}
	if c.Plan.MaxParallelItems < 0 {
		return fmt.Errorf("config.plan.max_parallel_items must not be negative")
	}
	if c.Plan.PhaseUnitDuration < 0 {
		return fmt.Errorf("config.plan.phase_unit_duration must not be negative")
	}
	for rt, cap := range c.Plan.CapacityLimits {
		if rt == "" {
			return fmt.Errorf("config.plan.capacity_limits has empty resource type")
		}
		if cap < 0 {
			return fmt.Errorf("capacity limit for %s must not be negative", rt)
		}
	}
	seenItems := map[string]bool{}
	for i, it := range c.Items {
		if it.ID == "" {
			return fmt.Errorf("items[%d].id is required", i)
		}
		if seenItems[it.ID] {
			return fmt.Errorf("duplicate item id %s", it.ID)
		}
		seenItems[it.ID] = true
		if it.Duration <= 0 {
			return fmt.Errorf("item %s: duration must be positive", it.ID)
		}
		for rt, q := range it.Requirements {
			if rt == "" {
				return fmt.Errorf("item %s has empty resource type", it.ID)
			}
			if q < 0 {
				return fmt.Errorf("item %s: requirement for %s must not be negative", it.ID, rt)
			}
		}
		if len(it.AllowedLocations) == 0 {
			return fmt.Errorf("item %s: allowed_locations is required (use \"*\" for any site)", it.ID)
		}
	}
	seenSites := map[string]bool{}
	for i, s := range c.Sites {
		if s.LocationID == "" {
			return fmt.Errorf("sites[%d].location_id is required", i)
		}
		if seenSites[s.LocationID] {
			return fmt.Errorf("duplicate site %s", s.LocationID)
		}
		seenSites[s.LocationID] = true
		if s.CostMultiplier < 0 {
			return fmt.Errorf("site %s: cost_multiplier must not be negative", s.LocationID)
		}
		for rt, cap := range s.Capacities {
			if rt == "" {
				return fmt.Errorf("site %s has empty resource type", s.LocationID)
			}
			if cap < 0 {
				return fmt.Errorf("site %s: capacity for %s must not be negative", s.LocationID, rt)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "planline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(portfolioID string) string {
	return fmt.Sprintf(defaultTemplate, portfolioID)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `portfolio:
  id: %s
  description: "Example portfolio"

plan:
  objective: maximize_value
  max_parallel_items: 0
  phase_unit_duration: 1

items:
  - id: platform-upgrade
    duration: 8
    priority: 9
    requirements:
      engineering: 4
    allowed_locations: ["*"]

  - id: mobile-app
    duration: 5
    priority: 6
    value: 12
    dependencies: [platform-upgrade]
    requirements:
      engineering: 3
      design: 1
    allowed_locations: [berlin, lisbon]
    preferred_location: lisbon

  - id: market-research
    duration: 3
    priority: 4
    requirements:
      research: 2
    allowed_locations: ["*"]

sites:
  - location_id: berlin
    capacities:
      engineering: 6
      design: 2
    cost_multiplier: 1.2

  - location_id: lisbon
    capacities:
      engineering: 5
      design: 1
      research: 3
    cost_multiplier: 1.0
`
