package factory

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/opendht/dht"
	"github.com/opd-ai/opendht/interfaces"
	"github.com/opd-ai/opendht/testing"
)

// Validation constants for configuration bounds checking.
const (
	// MinRequestTimeout is the minimum allowed request timeout in milliseconds.
	MinRequestTimeout = 50
	// MaxRequestTimeout is the maximum allowed request timeout in milliseconds (10 minutes).
	MaxRequestTimeout = 600000
	// MinRetryAttempts is the minimum allowed retry attempts.
	MinRetryAttempts = 0
	// MaxRetryAttempts is the maximum allowed retry attempts.
	MaxRetryAttempts = 100
	// MaxBucketSize is the largest accepted k-bucket size.
	MaxBucketSize = 64
)

// Environment variables read by NewEngineFactory.
const (
	EnvBackend        = "OPENDHT_BACKEND"
	EnvRequestTimeout = "OPENDHT_REQUEST_TIMEOUT"
	EnvRetryAttempts  = "OPENDHT_RETRY_ATTEMPTS"
	EnvBucketSize     = "OPENDHT_BUCKET_SIZE"
)

// ErrBackendUnavailable is returned when the native backend was not
// compiled in.
var ErrBackendUnavailable = errors.New("engine backend not available in this build")

// EngineFactory creates engine implementations based on configuration.
// It is safe for concurrent use; all methods are protected by an internal mutex.
type EngineFactory struct {
	mu            sync.RWMutex
	defaultConfig *interfaces.EngineConfig
	goOptions     []dht.Option
}

// TestConfigOption is a functional option for customizing test simulation configuration.
type TestConfigOption func(*interfaces.EngineConfig)

// NewEngineFactory creates a new factory with default configuration
func NewEngineFactory() *EngineFactory {
	defaultConfig := createDefaultConfig()
	applyEnvironmentOverrides(defaultConfig)
	logConfigurationInfo(defaultConfig)

	return &EngineFactory{
		defaultConfig: defaultConfig,
	}
}

// createDefaultConfig initializes the default engine configuration.
//
// Default Value Rationale:
//   - Backend: go - Works everywhere without libopendht installed
//   - RequestTimeout: 2000ms - Long enough for a round trip across the internet
//   - RetryAttempts: 3 - Bootstrap pings are retried with backoff before giving up
//   - BucketSize: 8 - The k used by OpenDHT and most Kademlia deployments
func createDefaultConfig() *interfaces.EngineConfig {
	return &interfaces.EngineConfig{
		Backend:        interfaces.BackendGo,
		RequestTimeout: 2000,
		RetryAttempts:  3,
		BucketSize:     8,
	}
}

// applyEnvironmentOverrides updates configuration based on OPENDHT_*
// environment variables. Invalid values are logged and ignored.
func applyEnvironmentOverrides(config *interfaces.EngineConfig) {
	parseBackendSetting(config)
	parseBoundedInt(EnvRequestTimeout, MinRequestTimeout, MaxRequestTimeout, &config.RequestTimeout)
	parseBoundedInt(EnvRetryAttempts, MinRetryAttempts, MaxRetryAttempts, &config.RetryAttempts)
	parseBoundedInt(EnvBucketSize, 1, MaxBucketSize, &config.BucketSize)
}

func parseBackendSetting(config *interfaces.EngineConfig) {
	backendStr := os.Getenv(EnvBackend)
	if backendStr == "" {
		return
	}
	backend := interfaces.Backend(backendStr)
	switch backend {
	case interfaces.BackendGo, interfaces.BackendNative, interfaces.BackendSimulation:
		config.Backend = backend
	default:
		logrus.WithFields(logrus.Fields{
			"function":    "parseBackendSetting",
			"env_var":     EnvBackend,
			"value":       backendStr,
			"using_value": config.Backend,
		}).Warn("Unknown OPENDHT_BACKEND value, using default")
	}
}

// parseBoundedInt updates *target from an integer environment variable if
// it parses and lies within [min, max].
func parseBoundedInt(envVar string, min, max int, target *int) {
	raw := os.Getenv(envVar)
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseBoundedInt",
			"env_var":     envVar,
			"value":       raw,
			"error":       err.Error(),
			"using_value": *target,
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	if value < min || value > max {
		logrus.WithFields(logrus.Fields{
			"function":    "parseBoundedInt",
			"env_var":     envVar,
			"value":       value,
			"min":         min,
			"max":         max,
			"using_value": *target,
		}).Warn("Environment variable out of bounds, using default")
		return
	}
	*target = value
}

// logConfigurationInfo logs the final configuration settings for debugging purposes.
func logConfigurationInfo(config *interfaces.EngineConfig) {
	logrus.WithFields(logrus.Fields{
		"function":        "NewEngineFactory",
		"backend":         config.Backend,
		"request_timeout": config.RequestTimeout,
		"retry_attempts":  config.RetryAttempts,
		"bucket_size":     config.BucketSize,
	}).Info("Created engine factory with configuration")
}

// CreateEngine creates an engine based on the current default configuration.
func (f *EngineFactory) CreateEngine() (interfaces.Engine, error) {
	return f.CreateEngineWithConfig(f.GetCurrentConfig())
}

// CreateEngineWithConfig creates an engine with custom configuration.
func (f *EngineFactory) CreateEngineWithConfig(config *interfaces.EngineConfig) (interfaces.Engine, error) {
	if config == nil {
		config = f.GetCurrentConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":        "CreateEngineWithConfig",
		"backend":         config.Backend,
		"request_timeout": config.RequestTimeout,
		"retry_attempts":  config.RetryAttempts,
	}).Info("Creating engine implementation")

	switch config.Backend {
	case interfaces.BackendSimulation:
		return testing.NewSimulatedEngine(config), nil
	case interfaces.BackendNative:
		return newNativeEngine(config)
	default:
		f.mu.RLock()
		opts := append([]dht.Option(nil), f.goOptions...)
		f.mu.RUnlock()
		return dht.NewEngine(config, opts...), nil
	}
}

// SetGoOptions sets the options passed to every pure-Go engine the factory
// creates. Other backends ignore them.
func (f *EngineFactory) SetGoOptions(opts ...dht.Option) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.goOptions = append([]dht.Option(nil), opts...)
}

// Factory adapts the factory to interfaces.Factory. Creation errors are
// logged and yield a nil engine, which callers treat as a start failure.
func (f *EngineFactory) Factory() interfaces.Factory {
	return func() interfaces.Engine {
		engine, err := f.CreateEngine()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "EngineFactory.Factory",
				"error":    err.Error(),
			}).Error("Failed to create engine")
			return nil
		}
		return engine
	}
}

// WithRequestTimeout sets a custom request timeout for the test configuration.
func WithRequestTimeout(timeout int) TestConfigOption {
	return func(c *interfaces.EngineConfig) {
		c.RequestTimeout = timeout
	}
}

// WithRetryAttempts sets custom retry attempts for the test configuration.
func WithRetryAttempts(retries int) TestConfigOption {
	return func(c *interfaces.EngineConfig) {
		c.RetryAttempts = retries
	}
}

// CreateSimulationForTesting creates a simulated engine specifically for testing.
// Default test configuration uses: RequestTimeout=100ms, RetryAttempts=1, BucketSize=8.
func (f *EngineFactory) CreateSimulationForTesting(opts ...TestConfigOption) *testing.SimulatedEngine {
	testConfig := &interfaces.EngineConfig{
		Backend:        interfaces.BackendSimulation,
		RequestTimeout: 100,
		RetryAttempts:  1,
		BucketSize:     8,
	}
	for _, opt := range opts {
		opt(testConfig)
	}

	logrus.WithFields(logrus.Fields{
		"function":        "CreateSimulationForTesting",
		"request_timeout": testConfig.RequestTimeout,
		"retry_attempts":  testConfig.RetryAttempts,
	}).Info("Creating simulation implementation for testing")

	return testing.NewSimulatedEngine(testConfig)
}

// SwitchBackend changes the backend used by CreateEngine.
func (f *EngineFactory) SwitchBackend(backend interfaces.Backend) error {
	switch backend {
	case interfaces.BackendGo, interfaces.BackendNative, interfaces.BackendSimulation:
	default:
		return fmt.Errorf("%w: %q", interfaces.ErrUnknownBackend, backend)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "SwitchBackend",
		"previous": f.defaultConfig.Backend,
		"current":  backend,
	}).Info("Switching factory backend")

	f.defaultConfig.Backend = backend
	return nil
}

// SwitchToSimulation switches the configuration to use the simulated engine.
func (f *EngineFactory) SwitchToSimulation() {
	_ = f.SwitchBackend(interfaces.BackendSimulation)
}

// SwitchToGo switches the configuration to use the pure-Go engine.
func (f *EngineFactory) SwitchToGo() {
	_ = f.SwitchBackend(interfaces.BackendGo)
}

// GetCurrentConfig returns a copy of the current default configuration
func (f *EngineFactory) GetCurrentConfig() *interfaces.EngineConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c := *f.defaultConfig
	return &c
}

// IsUsingSimulation returns true if the factory is configured for simulation
func (f *EngineFactory) IsUsingSimulation() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.defaultConfig.Backend == interfaces.BackendSimulation
}

// UpdateConfig replaces the factory's default configuration after
// validating it.
func (f *EngineFactory) UpdateConfig(config *interfaces.EngineConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "UpdateConfig",
		"old_backend": f.defaultConfig.Backend,
		"new_backend": config.Backend,
		"old_timeout": f.defaultConfig.RequestTimeout,
		"new_timeout": config.RequestTimeout,
	}).Info("Updating factory configuration")

	c := *config
	f.defaultConfig = &c
	return nil
}
