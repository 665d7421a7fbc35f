package throttle

import (
	"fmt"
	"log"
	"time"
)

// Option is a functional option for configuring a Gatekeeper.
type Option func(*gatekeeper) error

// WithRegistry sets the policy registry. If not provided, DefaultRegistry
// is used.
func WithRegistry(registry *Registry) Option {
	return func(g *gatekeeper) error {
		if registry == nil {
			return fmt.Errorf("%w: registry cannot be nil", ErrInvalidConfig)
		}
		g.registry = registry
		return nil
	}
}

// WithConfig compiles the configuration into the registry and sweep
// interval.
func WithConfig(config *Config) Option {
	return func(g *gatekeeper) error {
		if config == nil {
			return fmt.Errorf("%w: config cannot be nil", ErrInvalidConfig)
		}
		registry, err := config.Registry()
		if err != nil {
			return err
		}
		interval, err := config.sweepInterval()
		if err != nil {
			return err
		}
		g.registry = registry
		g.sweepInterval = interval
		return nil
	}
}

// WithConfigFile loads configuration from a YAML file.
func WithConfigFile(path string) Option {
	return func(g *gatekeeper) error {
		config, err := LoadConfigFromFile(path)
		if err != nil {
			return err
		}
		return WithConfig(config)(g)
	}
}

// WithStoreFactory sets how per-class counter stores are built. The default
// builds in-memory stores; pass a factory producing RedisCounterStore
// instances, with the class and role folded into the key prefix, to share
// counters across processes.
func WithStoreFactory(factory StoreFactory) Option {
	return func(g *gatekeeper) error {
		if factory == nil {
			return fmt.Errorf("%w: store factory cannot be nil", ErrInvalidConfig)
		}
		g.storeFactory = factory
		return nil
	}
}

// WithStrategy overrides the key-extraction strategy for one endpoint
// class.
func WithStrategy(class Class, extractor KeyExtractor) Option {
	return func(g *gatekeeper) error {
		if extractor == nil {
			return fmt.Errorf("%w: key extractor cannot be nil", ErrInvalidConfig)
		}
		g.overrides[class] = extractor
		return nil
	}
}

// WithRecorder attaches a decision recorder, e.g. *metrics.Metrics.
func WithRecorder(recorder Recorder) Option {
	return func(g *gatekeeper) error {
		if recorder == nil {
			return fmt.Errorf("%w: recorder cannot be nil", ErrInvalidConfig)
		}
		g.recorder = recorder
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *log.Logger) Option {
	return func(g *gatekeeper) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidConfig)
		}
		g.logger = logger
		return nil
	}
}

// WithSweepInterval sets how often expired counter entries are evicted.
// Zero disables background sweeping.
func WithSweepInterval(interval time.Duration) Option {
	return func(g *gatekeeper) error {
		if interval < 0 {
			return fmt.Errorf("%w: sweep interval cannot be negative", ErrInvalidConfig)
		}
		g.sweepInterval = interval
		return nil
	}
}
