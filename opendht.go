package opendht

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/opendht/interfaces"
	"github.com/opd-ai/opendht/limits"
)

// handle is the engine state shared by every clone of a DHT.
type handle struct {
	mu     sync.Mutex
	engine interfaces.Engine
	refs   int
	joined bool

	owner       uint64
	maintaining atomic.Bool
}

// DHT is a shared handle to a running engine. It is safe for concurrent
// use; Clone produces additional references for other goroutines, and the
// engine is stopped and released when the last reference is closed.
type DHT struct {
	h      *handle
	opts   Options
	bridge *bridge
	closed atomic.Bool
}

// New starts an engine listening on port with default options.
func New(port uint16) (*DHT, error) {
	return NewWithOptions(NewOptions(port))
}

// NewWithOptions allocates and starts an engine. If the engine fails to
// start it is released before the error is returned.
func NewWithOptions(options *Options) (*DHT, error) {
	if options == nil {
		options = NewOptions(0)
	}
	opts := *options
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	engine, err := startEngine(opts)
	if err != nil {
		return nil, err
	}

	owner := newOwner()
	d := &DHT{
		h:      &handle{engine: engine, refs: 1, owner: owner},
		opts:   opts,
		bridge: &bridge{owner: owner, capacity: opts.StreamCapacity},
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewWithOptions",
		"port":     opts.Port,
		"owner":    owner,
	}).Info("DHT handle started")
	return d, nil
}

// startEngine allocates an engine and runs it, dropping it on failure.
func startEngine(opts Options) (interfaces.Engine, error) {
	engine := opts.Engine()
	if engine == nil {
		return nil, fmt.Errorf("%w: engine factory returned nil", ErrStart)
	}
	if status := engine.Run(opts.Port); status != interfaces.StatusOK {
		engine.Drop()
		logrus.WithFields(logrus.Fields{
			"function": "startEngine",
			"port":     opts.Port,
			"status":   status,
		}).Error("Engine failed to start")
		return nil, fmt.Errorf("%w: port %d: status %#x", ErrStart, opts.Port, status)
	}
	return engine, nil
}

// withEngine runs fn with the engine locked. The lock covers only the
// synchronous engine call.
func (d *DHT) withEngine(fn func(e interfaces.Engine)) error {
	if d.closed.Load() {
		return ErrClosed
	}
	d.h.mu.Lock()
	defer d.h.mu.Unlock()

	if d.h.engine == nil || d.h.joined {
		return ErrClosed
	}
	fn(d.h.engine)
	return nil
}

// Bootstrap connects the engine to the given nodes. The completion reports
// whether the engine considered the bootstrap successful.
func (d *DHT) Bootstrap(addrs ...netip.AddrPort) (*Completion, error) {
	if err := validateAddrs(addrs); err != nil {
		return nil, err
	}
	var c *Completion
	err := d.withEngine(func(e interfaces.Engine) {
		c = d.bridge.bootstrap(e, addrs)
	})
	return c, err
}

// BootstrapHosts resolves "host:port" strings and bootstraps from every
// address they resolve to.
func (d *DHT) BootstrapHosts(ctx context.Context, hostports ...string) (*Completion, error) {
	addrs, err := resolveAddrs(ctx, hostports)
	if err != nil {
		return nil, err
	}
	return d.Bootstrap(addrs...)
}

// Put stores value under key.
func (d *DHT) Put(key InfoHash, value []byte) (*Completion, error) {
	if err := limits.ValidateValue(value); err != nil {
		return nil, err
	}
	var c *Completion
	err := d.withEngine(func(e interfaces.Engine) {
		c = d.bridge.put(e, key, value)
	})
	return c, err
}

// Get returns the values currently stored under key. The stream is finite
// and may contain duplicates.
func (d *DHT) Get(key InfoHash) (*Stream, error) {
	var s *Stream
	err := d.withEngine(func(e interfaces.Engine) {
		s = d.bridge.get(e, key)
	})
	return s, err
}

// Listen returns current and future values stored under key. The stream
// stays open until it is closed or the handle is torn down.
func (d *DHT) Listen(key InfoHash) (*Stream, error) {
	var s *Stream
	err := d.withEngine(func(e interfaces.Engine) {
		s = d.bridge.listen(e, key)
	})
	return s, err
}

// Tick runs one round of engine maintenance and returns when it should run
// again. The boolean is false once the engine is no longer running.
func (d *DHT) Tick() (time.Time, bool) {
	var (
		delay   time.Duration
		running bool
	)
	err := d.withEngine(func(e interfaces.Engine) {
		if running = e.IsRunning(); running {
			delay = e.Loop()
		}
	})
	if err != nil || !running {
		return time.Time{}, false
	}
	maintenanceTicks.Inc()
	return d.opts.Clock.Now().Add(delay), true
}

// Maintain drives Tick until the engine stops or ctx is canceled. Only one
// maintenance loop may run per handle, across all clones.
func (d *DHT) Maintain(ctx context.Context) error {
	if !d.h.maintaining.CompareAndSwap(false, true) {
		return ErrMaintainerRunning
	}
	defer d.h.maintaining.Store(false)

	return Maintain(ctx, d,
		WithClock(d.opts.Clock),
		WithMinRetryDelay(d.opts.MinRetryDelay),
	)
}

// IsRunning reports whether the engine is running.
func (d *DHT) IsRunning() bool {
	running := false
	_ = d.withEngine(func(e interfaces.Engine) {
		running = e.IsRunning()
	})
	return running
}

// Clone returns another reference to the same engine.
func (d *DHT) Clone() (*DHT, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	d.h.mu.Lock()
	defer d.h.mu.Unlock()

	if d.h.engine == nil {
		return nil, ErrClosed
	}
	d.h.refs++
	return &DHT{h: d.h, opts: d.opts, bridge: d.bridge}, nil
}

// Join stops the engine and waits for its workers to exit. Every clone
// observes the stop: further operations return ErrClosed and Tick reports
// the engine as stopped. Outstanding completions resolve with ErrCanceled
// and outstanding streams close. Resources are released when the last
// reference is closed.
func (d *DHT) Join() error {
	if d.closed.Load() {
		return ErrClosed
	}
	d.h.mu.Lock()
	defer d.h.mu.Unlock()

	if d.h.engine == nil {
		return ErrClosed
	}
	if d.h.joined {
		return nil
	}
	d.h.engine.Join()
	d.h.joined = true
	n := abandonOwned(d.h.owner)

	logrus.WithFields(logrus.Fields{
		"function":  "DHT.Join",
		"owner":     d.h.owner,
		"abandoned": n,
	}).Info("DHT engine joined")
	return nil
}

// Close releases this reference. Closing the last reference stops the
// engine, reclaims pending callback state and releases the engine.
// Closing the same reference twice is a no-op.
func (d *DHT) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	d.h.mu.Lock()
	d.h.refs--
	if d.h.refs > 0 {
		d.h.mu.Unlock()
		return nil
	}
	engine, joined := d.h.engine, d.h.joined
	d.h.engine = nil
	d.h.mu.Unlock()

	teardown(engine, joined, d.h.owner)
	return nil
}

// teardown stops the engine if needed, releases callback state the engine
// will no longer reclaim, and drops the engine. The order matters: once
// Join returns no callback can observe the abandoned state.
func teardown(engine interfaces.Engine, joined bool, owner uint64) {
	if !joined {
		engine.Join()
	}
	n := abandonOwned(owner)
	engine.Drop()

	logrus.WithFields(logrus.Fields{
		"function":  "teardown",
		"owner":     owner,
		"abandoned": n,
	}).Info("DHT engine released")
}
