package opendht

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/opendht/factory"
	"github.com/opd-ai/opendht/interfaces"
)

const (
	// DefaultStreamCapacity is the number of values a Get or Listen stream
	// buffers before the engine is told to stop delivering.
	DefaultStreamCapacity = 10

	// DefaultMinRetryDelay is the floor applied to maintenance sleeps when
	// the engine asks to be ticked again immediately or in the past.
	DefaultMinRetryDelay = 200 * time.Millisecond
)

var (
	errInvalidStreamCapacity = errors.New("stream capacity must be positive")
	errInvalidMinRetryDelay  = errors.New("minimum retry delay must be positive")
)

// Options configures a DHT handle or Runner.
type Options struct {
	// Port is the UDP port the engine listens on. Zero picks a free port
	// where the engine supports it.
	Port uint16

	// Engine allocates the engine. When nil, the factory package builds one
	// from environment configuration.
	Engine interfaces.Factory

	// StreamCapacity bounds Get and Listen streams.
	StreamCapacity int

	// MinRetryDelay is the shortest maintenance sleep.
	MinRetryDelay time.Duration

	// Clock drives maintenance timers. Tests substitute clock.NewMock().
	Clock clock.Clock
}

// NewOptions returns Options with default values for the given port.
func NewOptions(port uint16) *Options {
	return &Options{
		Port:           port,
		StreamCapacity: DefaultStreamCapacity,
		MinRetryDelay:  DefaultMinRetryDelay,
		Clock:          clock.New(),
	}
}

// normalize fills unset fields with defaults and validates the rest.
func (o *Options) normalize() error {
	if o.StreamCapacity == 0 {
		o.StreamCapacity = DefaultStreamCapacity
	}
	if o.StreamCapacity < 0 {
		return errInvalidStreamCapacity
	}
	if o.MinRetryDelay == 0 {
		o.MinRetryDelay = DefaultMinRetryDelay
	}
	if o.MinRetryDelay < 0 {
		return errInvalidMinRetryDelay
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Engine == nil {
		f := factory.NewEngineFactory()
		logrus.WithFields(logrus.Fields{
			"function": "Options.normalize",
			"backend":  f.GetCurrentConfig().Backend,
		}).Debug("No engine configured, using factory default")
		o.Engine = f.Factory()
	}
	return nil
}
