package throttle

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// Policy is an immutable rate limit configuration: a quota of points counted
// over a fixed window, and a cool-down applied once the quota is exceeded.
type Policy struct {
	// Points is the number of consumptions allowed per window
	Points int

	// Window is the span over which points are counted before resetting
	Window time.Duration

	// Block is how long all consumptions fail after the quota is exceeded.
	// Zero means the key stays limited only for the remainder of the window.
	Block time.Duration
}

// Validate checks that the policy is usable.
func (p Policy) Validate() error {
	if p.Points < 1 || p.Window <= 0 {
		return ErrInvalidPolicy
	}
	if p.Block < 0 {
		return fmt.Errorf("%w: block duration cannot be negative", ErrInvalidPolicy)
	}
	return nil
}

// IsZero reports whether the policy is unset.
func (p Policy) IsZero() bool {
	return p.Points == 0 && p.Window == 0 && p.Block == 0
}

// Class names a category of endpoints sharing one rate limit policy.
type Class string

// Endpoint classes encode a trust gradient: bulk registration is the
// strictest, machine-to-machine token exchange next, interactive
// authorization looser, and discovery/general the most permissive.
const (
	ClassRegistration  Class = "registration"
	ClassToken         Class = "token"
	ClassAPI           Class = "api"
	ClassAuthorization Class = "authorization"
	ClassFederation    Class = "federation"
	ClassGeneral       Class = "general"
)

// Limits bundles everything registered for one endpoint class: the nominal
// sustained policy, an optional short-window burst policy, and the name of
// the key-extraction strategy to use.
type Limits struct {
	Sustained Policy

	// Burst, when set, is enforced alongside Sustained: a request must pass
	// both counters. Leave zero to disable burst protection for the class.
	Burst Policy

	// Strategy is a key-extraction strategy name understood by
	// ParseStrategy. Empty means "address-agent".
	Strategy string
}

// Validate checks the sustained policy and, when present, the burst policy.
func (l Limits) Validate() error {
	if err := l.Sustained.Validate(); err != nil {
		return err
	}
	if !l.Burst.IsZero() {
		if err := l.Burst.Validate(); err != nil {
			return fmt.Errorf("%w: burst policy", err)
		}
	}
	return nil
}

// Route binds a path pattern to an endpoint class. A pattern ending in "*"
// matches by prefix, anything else matches exactly.
type Route struct {
	Pattern string
	Class   Class
}

// Registry holds the per-class limits and the ordered route table used to
// classify request paths. Policies are bound at registration time and never
// mutated afterwards.
type Registry struct {
	classes map[Class]Limits
	routes  []Route
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[Class]Limits)}
}

// Register binds limits to an endpoint class.
func (r *Registry) Register(class Class, limits Limits) error {
	if class == "" {
		return fmt.Errorf("%w: empty class name", ErrInvalidConfig)
	}
	if err := limits.Validate(); err != nil {
		return fmt.Errorf("%w: class %q", err, class)
	}
	r.classes[class] = limits
	return nil
}

// AddRoute appends a path pattern to the route table. Matching is
// first-match-wins in registration order, so more specific patterns must be
// added before more general ones.
func (r *Registry) AddRoute(pattern string, class Class) error {
	if pattern == "" || !strings.HasPrefix(pattern, "/") {
		return fmt.Errorf("%w: route pattern must start with /", ErrInvalidConfig)
	}
	if _, ok := r.classes[class]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	r.routes = append(r.routes, Route{Pattern: pattern, Class: class})
	return nil
}

// Classify resolves a request path to an endpoint class. The path is
// normalized first so that variants like "//token" cannot dodge a stricter
// class. An unmatched path resolves to ClassGeneral.
func (r *Registry) Classify(requestPath string) Class {
	clean := path.Clean("/" + requestPath)

	for _, route := range r.routes {
		if prefix, ok := strings.CutSuffix(route.Pattern, "*"); ok {
			if strings.HasPrefix(clean, prefix) {
				return route.Class
			}
			continue
		}
		if clean == route.Pattern {
			return route.Class
		}
	}
	return ClassGeneral
}

// Limits returns the limits registered for a class.
func (r *Registry) Limits(class Class) (Limits, bool) {
	l, ok := r.classes[class]
	return l, ok
}

// Classes returns the registered class names in stable order.
func (r *Registry) Classes() []Class {
	out := make([]Class, 0, len(r.classes))
	for c := range r.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultRegistry returns the registry used when no configuration is
// supplied: OIDC provider endpoints with per-class quotas ordered
// registration < token <= api < authorization < general.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	register := func(class Class, limits Limits) {
		if err := r.Register(class, limits); err != nil {
			panic(err)
		}
	}
	addRoute := func(pattern string, class Class) {
		if err := r.AddRoute(pattern, class); err != nil {
			panic(err)
		}
	}

	register(ClassRegistration, Limits{
		Sustained: Policy{Points: 5, Window: time.Minute, Block: 5 * time.Minute},
		Burst:     Policy{Points: 2, Window: time.Second},
	})
	register(ClassToken, Limits{
		Sustained: Policy{Points: 30, Window: time.Minute, Block: time.Minute},
		Burst:     Policy{Points: 10, Window: time.Second},
		Strategy:  StrategyCredentials,
	})
	register(ClassAPI, Limits{
		Sustained: Policy{Points: 30, Window: time.Minute, Block: time.Minute},
		Burst:     Policy{Points: 10, Window: time.Second},
		Strategy:  StrategyCredentials,
	})
	register(ClassAuthorization, Limits{
		Sustained: Policy{Points: 60, Window: time.Minute, Block: 30 * time.Second},
		Burst:     Policy{Points: 20, Window: time.Second},
	})
	register(ClassFederation, Limits{
		Sustained: Policy{Points: 45, Window: time.Minute, Block: time.Minute},
		Burst:     Policy{Points: 15, Window: time.Second},
		Strategy:  StrategyEntity,
	})
	register(ClassGeneral, Limits{
		Sustained: Policy{Points: 120, Window: time.Minute, Block: 10 * time.Second},
		Burst:     Policy{Points: 30, Window: time.Second},
	})

	// Exact routes before prefixes.
	addRoute("/register", ClassRegistration)
	addRoute("/token", ClassToken)
	addRoute("/introspection", ClassAPI)
	addRoute("/revocation", ClassAPI)
	addRoute("/authorization", ClassAuthorization)
	addRoute("/authorization/*", ClassAuthorization)
	addRoute("/federation/*", ClassFederation)
	addRoute("/.well-known/*", ClassGeneral)

	return r
}
