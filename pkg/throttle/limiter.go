package throttle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"time"
)

// Gatekeeper is the request-scoped admission gate the HTTP layer consumes.
type Gatekeeper interface {
	// Allow spends one point for key under the given endpoint class.
	Allow(ctx context.Context, class Class, key string) (*Result, error)

	// AllowRequest classifies the request path, extracts the key with the
	// class's strategy, and consumes.
	AllowRequest(r *http.Request) (*Decision, error)

	// Middleware wraps a handler: it attaches rate limit headers and either
	// proceeds or writes the standardized 429 response.
	Middleware(next http.Handler) http.Handler

	// StartBackgroundSweep starts periodic eviction of expired counter
	// entries. Returns a function to stop it.
	StartBackgroundSweep() func()
}

// Decision is the result of gating one HTTP request.
type Decision struct {
	// Allowed indicates whether the request should proceed
	Allowed bool

	// Remaining is the number of points left in the current window
	Remaining int

	// Limit is the configured points ceiling of the class's nominal policy
	Limit int

	// RetryAfter is how long until the gate reopens; zero when allowed
	// and the window is fresh
	RetryAfter time.Duration

	// Reset is the instant the window resets or the block lifts
	Reset time.Time

	// Key is the partition key that was charged
	Key string

	// Class is the endpoint class the path resolved to
	Class Class
}

// Recorder receives one event per gating decision. The metrics package
// provides an implementation.
type Recorder interface {
	RecordDecision(class string, allowed bool)
}

// StoreFactory builds one counter store per (class, role) pair at startup.
// role is RoleSustained or RoleBurst; factories backing shared storage must
// namespace keys by both arguments so the two counters of a class never
// collide.
type StoreFactory func(class Class, role string, policy Policy) (CounterStore, error)

// store roles passed to a StoreFactory.
const (
	RoleSustained = "sustained"
	RoleBurst     = "burst"
)

// gatekeeper is the concrete Gatekeeper.
type gatekeeper struct {
	registry      *Registry
	gates         map[Class]CounterStore
	strategies    map[Class]KeyExtractor
	overrides     map[Class]KeyExtractor
	storeFactory  StoreFactory
	sweepInterval time.Duration
	recorder      Recorder
	logger        *log.Logger
}

// New creates a Gatekeeper. With no options it enforces DefaultRegistry
// with in-memory counters.
//
// Example:
//
//	gate, err := throttle.New(
//	    throttle.WithConfigFile("throttle.yaml"),
//	)
func New(opts ...Option) (Gatekeeper, error) {
	g := &gatekeeper{
		overrides:     make(map[Class]KeyExtractor),
		sweepInterval: 5 * time.Minute,
		logger:        log.New(os.Stderr, "throttle: ", log.LstdFlags),
	}
	g.storeFactory = func(_ Class, _ string, p Policy) (CounterStore, error) {
		return NewMemoryStore(p)
	}

	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if g.registry == nil {
		g.registry = DefaultRegistry()
	}
	if _, ok := g.registry.Limits(ClassGeneral); !ok {
		return nil, fmt.Errorf("%w: unmatched paths resolve to %q, which must be registered", ErrInvalidConfig, ClassGeneral)
	}

	g.gates = make(map[Class]CounterStore)
	g.strategies = make(map[Class]KeyExtractor)
	for _, class := range g.registry.Classes() {
		limits, _ := g.registry.Limits(class)

		gate, err := g.buildGate(class, limits)
		if err != nil {
			return nil, fmt.Errorf("class %q: %w", class, err)
		}
		g.gates[class] = gate

		if ex, ok := g.overrides[class]; ok {
			g.strategies[class] = ex
			continue
		}
		ex, err := ParseStrategy(limits.Strategy)
		if err != nil {
			return nil, fmt.Errorf("class %q: %w", class, err)
		}
		g.strategies[class] = ex
	}

	return g, nil
}

func (g *gatekeeper) buildGate(class Class, limits Limits) (CounterStore, error) {
	sustained, err := g.storeFactory(class, RoleSustained, limits.Sustained)
	if err != nil {
		return nil, err
	}
	if limits.Burst.IsZero() {
		return sustained, nil
	}
	burst, err := g.storeFactory(class, RoleBurst, limits.Burst)
	if err != nil {
		return nil, err
	}
	return NewBurstGuard(burst, sustained)
}

// Allow spends one point for key under class.
func (g *gatekeeper) Allow(ctx context.Context, class Class, key string) (*Result, error) {
	gate, ok := g.gates[class]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	res, err := gate.Consume(ctx, key)
	if err != nil {
		return nil, err
	}
	if g.recorder != nil {
		g.recorder.RecordDecision(string(class), res.Allowed)
	}
	return res, nil
}

// AllowRequest gates one HTTP request.
func (g *gatekeeper) AllowRequest(r *http.Request) (*Decision, error) {
	class := g.registry.Classify(r.URL.Path)

	key, err := g.strategies[class](r)
	if err != nil {
		return nil, fmt.Errorf("key extraction failed: %w", err)
	}

	res, err := g.Allow(r.Context(), class, key)
	if err != nil {
		return nil, err
	}

	return &Decision{
		Allowed:    res.Allowed,
		Remaining:  res.Remaining,
		Limit:      g.gates[class].Policy().Points,
		RetryAfter: res.RetryAfter,
		Reset:      time.Now().Add(res.RetryAfter),
		Key:        key,
		Class:      class,
	}, nil
}

// blockResponse is the standardized payload written on a refused request.
type blockResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	RetryAfter       int    `json:"retry_after"`
}

// Middleware wraps next with the admission gate.
//
// Headers set on every response:
//   - X-RateLimit-Limit: points ceiling of the matched class
//   - X-RateLimit-Remaining: points left in the current window
//   - X-RateLimit-Reset: Unix timestamp when the window resets
//
// A refused request additionally gets Retry-After and a 429 body with the
// OAuth temporarily_unavailable error code.
func (g *gatekeeper) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, err := g.AllowRequest(r)
		if err != nil {
			g.logger.Printf("admission check failed: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", decision.Reset.Unix()))

		if !decision.Allowed {
			retryAfter := retryAfterSeconds(decision.RetryAfter)
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(blockResponse{
				Error:            "temporarily_unavailable",
				ErrorDescription: "Too many requests. Please try again later.",
				RetryAfter:       retryAfter,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// StartBackgroundSweep starts eviction on every gate that supports it.
func (g *gatekeeper) StartBackgroundSweep() func() {
	stops := make([]func(), 0, len(g.gates))
	for _, gate := range g.gates {
		if sw, ok := gate.(interface {
			StartBackgroundSweep(time.Duration) func()
		}); ok {
			stops = append(stops, sw.StartBackgroundSweep(g.sweepInterval))
		}
	}
	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
