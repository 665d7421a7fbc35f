package throttle

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML-facing configuration surface: per-class quotas as plain
// integers plus the route table. It compiles into a Registry.
type Config struct {
	// Classes maps endpoint class names to their quotas
	Classes map[string]ClassConfig `yaml:"classes"`

	// Routes is the ordered path table; more specific patterns must come
	// before more general ones
	Routes []RouteConfig `yaml:"routes,omitempty"`

	// SweepInterval is how often expired counter entries are dropped.
	// Format: "5m", "30s", "0" to disable.
	SweepInterval string `yaml:"sweep_interval,omitempty"`
}

// ClassConfig defines one endpoint class's quotas.
type ClassConfig struct {
	// Points is the number of requests allowed per window
	Points int `yaml:"points"`

	// WindowSeconds is the window length
	WindowSeconds int `yaml:"window_seconds"`

	// BlockSeconds is the cool-down entered once the quota is exceeded;
	// zero limits only for the remainder of the window
	BlockSeconds int `yaml:"block_seconds"`

	// Strategy overrides the key-extraction strategy for the class
	// (see ParseStrategy); empty means address-agent
	Strategy string `yaml:"strategy,omitempty"`

	// Burst is an optional second quota enforced alongside the nominal one
	Burst *BurstConfig `yaml:"burst,omitempty"`
}

// BurstConfig defines a short-window burst quota for a class.
type BurstConfig struct {
	Points        int `yaml:"points"`
	WindowSeconds int `yaml:"window_seconds"`
	BlockSeconds  int `yaml:"block_seconds,omitempty"`
}

// RouteConfig binds one path pattern to a class. Patterns ending in "*"
// match by prefix.
type RouteConfig struct {
	Path  string `yaml:"path"`
	Class string `yaml:"class"`
}

// DefaultConfig mirrors DefaultRegistry as a serializable value, so a config
// file only needs to state what differs.
func DefaultConfig() *Config {
	classes := make(map[string]ClassConfig)
	routes := []RouteConfig{}

	reg := DefaultRegistry()
	for _, class := range reg.Classes() {
		l, _ := reg.Limits(class)
		cc := ClassConfig{
			Points:        l.Sustained.Points,
			WindowSeconds: int(l.Sustained.Window / time.Second),
			BlockSeconds:  int(l.Sustained.Block / time.Second),
			Strategy:      l.Strategy,
		}
		if !l.Burst.IsZero() {
			cc.Burst = &BurstConfig{
				Points:        l.Burst.Points,
				WindowSeconds: int(l.Burst.Window / time.Second),
				BlockSeconds:  int(l.Burst.Block / time.Second),
			}
		}
		classes[string(class)] = cc
	}
	for _, route := range reg.routes {
		routes = append(routes, RouteConfig{Path: route.Pattern, Class: string(route.Class)})
	}

	return &Config{
		Classes:       classes,
		Routes:        routes,
		SweepInterval: "5m",
	}
}

// LoadConfigFromFile loads configuration from a YAML file. Missing sections
// fall back to the defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
	}

	defaults := DefaultConfig()
	if len(config.Classes) == 0 {
		config.Classes = defaults.Classes
	}
	if len(config.Routes) == 0 {
		// Inherit only the default routes whose class the file kept.
		for _, route := range defaults.Routes {
			if _, ok := config.Classes[route.Class]; ok {
				config.Routes = append(config.Routes, route)
			}
		}
	}
	if config.SweepInterval == "" {
		config.SweepInterval = defaults.SweepInterval
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks every class quota, the route table, and the sweep
// interval.
func (c *Config) Validate() error {
	if len(c.Classes) == 0 {
		return fmt.Errorf("%w: no endpoint classes configured", ErrInvalidConfig)
	}
	if _, ok := c.Classes[string(ClassGeneral)]; !ok {
		return fmt.Errorf("%w: unmatched paths resolve to %q, which must be configured", ErrInvalidConfig, ClassGeneral)
	}
	for name, cc := range c.Classes {
		if err := cc.limits().Validate(); err != nil {
			return fmt.Errorf("%w: class %q", err, name)
		}
		if _, err := ParseStrategy(cc.Strategy); err != nil {
			return fmt.Errorf("class %q: %w", name, err)
		}
	}
	for _, route := range c.Routes {
		if _, ok := c.Classes[route.Class]; !ok {
			return fmt.Errorf("%w: route %q references %q", ErrUnknownClass, route.Path, route.Class)
		}
	}
	if _, err := c.sweepInterval(); err != nil {
		return err
	}
	return nil
}

// Registry compiles the config into a Registry.
func (c *Config) Registry() (*Registry, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	r := NewRegistry()
	for name, cc := range c.Classes {
		if err := r.Register(Class(name), cc.limits()); err != nil {
			return nil, err
		}
	}
	for _, route := range c.Routes {
		if err := r.AddRoute(route.Path, Class(route.Class)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (c *Config) sweepInterval() (time.Duration, error) {
	if c.SweepInterval == "" || c.SweepInterval == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: invalid sweep_interval %q", ErrInvalidConfig, c.SweepInterval)
	}
	return d, nil
}

func (cc ClassConfig) limits() Limits {
	l := Limits{
		Sustained: Policy{
			Points: cc.Points,
			Window: time.Duration(cc.WindowSeconds) * time.Second,
			Block:  time.Duration(cc.BlockSeconds) * time.Second,
		},
		Strategy: cc.Strategy,
	}
	if cc.Burst != nil {
		l.Burst = Policy{
			Points: cc.Burst.Points,
			Window: time.Duration(cc.Burst.WindowSeconds) * time.Second,
			Block:  time.Duration(cc.Burst.BlockSeconds) * time.Second,
		}
	}
	return l
}
