package throttle

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidPolicy is returned when a policy has non-positive points or window
	ErrInvalidPolicy = errors.New("policy points and window must be positive")

	// ErrInvalidKey is returned when the rate limit key is empty or unusable.
	// A strategy that produces empty keys is a caller defect; treat this as
	// fatal at startup, not as a per-request condition.
	ErrInvalidKey = errors.New("rate limit key cannot be empty")

	// ErrUnknownClass is returned when a route or override references an
	// endpoint class that was never registered
	ErrUnknownClass = errors.New("unknown endpoint class")

	// ErrStoreUnavailable is returned when a remote counter store cannot be reached
	ErrStoreUnavailable = errors.New("counter store unavailable")

	// ErrKeyExtractionFailed is returned when key extraction from request fails
	ErrKeyExtractionFailed = errors.New("failed to extract key from request")
)
