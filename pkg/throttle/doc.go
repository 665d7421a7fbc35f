// Package throttle is the admission-control layer of an OpenID Connect
// front end: a keyed, fixed-window rate limiter with per-endpoint-class
// policies, burst protection, and request-derived partition keys.
//
// # Quick Start
//
// Gate an HTTP mux with the default OIDC endpoint classes:
//
//	gate, err := throttle.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	stop := gate.StartBackgroundSweep()
//	defer stop()
//
//	http.ListenAndServe(":8080", gate.Middleware(mux))
//
// Every response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset. A refused request gets HTTP 429, a Retry-After header,
// and a JSON body with the OAuth temporarily_unavailable error code.
//
// # Endpoint Classes
//
// Request paths are classified against an ordered table of exact and prefix
// patterns; first match wins and unmatched paths fall into the permissive
// general class. The default classes encode an abuse gradient: client
// registration is the strictest, then token exchange and resource-server
// API calls, then interactive authorization, then discovery/general.
//
// # Keys
//
// Which requests share a quota is decided per class by a key-extraction
// strategy: the client network address, an address+user-agent hash, the
// authenticated client_id, or the federation entity taken from a JWT in the
// request body (entity_configuration, trust_chain[0], or request object,
// decoded without signature verification). Strategies that read tokens
// never fail on malformed input; they fall back to the address+agent key.
//
// # Counters
//
// Each class is enforced by a fixed-window counter with a cool-down: once
// the quota is exceeded, every attempt fails until the block lifts. Classes
// with a burst policy run two counters, a short high-ceiling one and the
// nominal sustained one, and a request must pass both. Counters are
// in-memory by default; WithStoreFactory swaps in Redis-backed counters for
// multi-instance deployments.
//
// # Configuration
//
// Policies are three integers per class (points, window_seconds,
// block_seconds) loaded from YAML:
//
//	classes:
//	  token:
//	    points: 30
//	    window_seconds: 60
//	    block_seconds: 60
//	    strategy: "credentials"
//	    burst:
//	      points: 10
//	      window_seconds: 1
//	routes:
//	  - path: "/token"
//	    class: "token"
//	  - path: "/federation/*"
//	    class: "federation"
//
// # Concurrency
//
// Consume is a synchronous in-memory state transition; the store mutex
// serializes the read-increment-write sequence per map, so hits never
// under- or over-count. The limiter performs no I/O and never suspends, so
// there is nothing to cancel.
package throttle
