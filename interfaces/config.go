package interfaces

import (
	"errors"
	"fmt"
)

// Backend names an Engine implementation.
type Backend string

const (
	// BackendGo is the pure-Go UDP engine from the dht package.
	BackendGo Backend = "go"

	// BackendNative is the cgo binding to libopendht.
	BackendNative Backend = "native"

	// BackendSimulation is the scriptable in-memory engine used in tests.
	BackendSimulation Backend = "sim"
)

// Configuration validation errors.
var (
	// ErrUnknownBackend is returned when Backend names no implementation.
	ErrUnknownBackend = errors.New("unknown engine backend")
	// ErrInvalidRequestTimeout is returned when RequestTimeout is not positive.
	ErrInvalidRequestTimeout = errors.New("RequestTimeout must be positive")
	// ErrInvalidRetryAttempts is returned when RetryAttempts is negative.
	ErrInvalidRetryAttempts = errors.New("RetryAttempts must be non-negative")
	// ErrInvalidBucketSize is returned when BucketSize is not positive.
	ErrInvalidBucketSize = errors.New("BucketSize must be positive")
)

// EngineConfig holds configuration for creating an Engine.
type EngineConfig struct {
	// Backend selects the implementation
	Backend Backend

	// RequestTimeout is the per-request network timeout in milliseconds
	RequestTimeout int

	// RetryAttempts sets how often bootstrap pings are retried
	RetryAttempts int

	// BucketSize is the k in k-buckets for engines that have one
	BucketSize int
}

// Validate checks the configuration for invalid values.
func (c *EngineConfig) Validate() error {
	switch c.Backend {
	case BackendGo, BackendNative, BackendSimulation:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w, got %d", ErrInvalidRequestTimeout, c.RequestTimeout)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("%w, got %d", ErrInvalidRetryAttempts, c.RetryAttempts)
	}
	if c.BucketSize <= 0 {
		return fmt.Errorf("%w, got %d", ErrInvalidBucketSize, c.BucketSize)
	}
	return nil
}
