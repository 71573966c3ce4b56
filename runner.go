package opendht

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/opendht/interfaces"
	"github.com/opd-ai/opendht/limits"
)

// Runner exclusively owns an engine. All engine calls, maintenance
// included, happen on the goroutine executing Run; other goroutines reach
// the engine through a Client.
//
// The engine is torn down when Run returns, which happens when its context
// is canceled, Close is called, or the engine stops running.
type Runner struct {
	engine interfaces.Engine
	opts   Options
	bridge *bridge

	requests chan request
	quit     chan struct{}
	stopped  chan struct{}

	started   atomic.Bool
	closeOnce sync.Once
}

type request struct {
	run  func(e interfaces.Engine)
	done chan struct{}
}

// NewRunner allocates and starts an engine for exclusive use.
func NewRunner(options *Options) (*Runner, error) {
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
	logrus.WithFields(logrus.Fields{
		"function": "NewRunner",
		"port":     opts.Port,
		"owner":    owner,
	}).Info("Runner engine started")

	return &Runner{
		engine:   engine,
		opts:     opts,
		bridge:   &bridge{owner: owner, capacity: opts.StreamCapacity},
		requests: make(chan request),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Run serves client requests and ticks the engine until ctx is canceled,
// Close is called, or the engine stops. It then tears the engine down and
// returns. Run may be called once.
func (r *Runner) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrRunnerStarted
	}
	defer func() {
		teardown(r.engine, false, r.bridge.owner)
		close(r.stopped)
	}()

	clk := r.opts.Clock
	for {
		if !r.engine.IsRunning() {
			logrus.WithFields(logrus.Fields{
				"function": "Runner.Run",
				"owner":    r.bridge.owner,
			}).Info("Engine stopped, runner exiting")
			return nil
		}
		next := clk.Now().Add(r.engine.Loop())
		maintenanceTicks.Inc()
		timer := clk.Timer(sleepDuration(clk.Now(), next, r.opts.MinRetryDelay))

		if err := r.serveUntil(ctx, timer.C); err != nil {
			timer.Stop()
			if err == ErrClosed {
				return nil
			}
			return err
		}
	}
}

// serveUntil handles requests until wake fires. It returns a non-nil error
// when the runner should exit.
func (r *Runner) serveUntil(ctx context.Context, wake <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.quit:
			return ErrClosed
		case req := <-r.requests:
			req.run(r.engine)
			close(req.done)
		case <-wake:
			return nil
		}
	}
}

// Close stops the runner and waits for the engine to be torn down. A runner
// that was never run is torn down directly.
func (r *Runner) Close() error {
	r.closeOnce.Do(func() {
		close(r.quit)
		if r.started.CompareAndSwap(false, true) {
			teardown(r.engine, false, r.bridge.owner)
			close(r.stopped)
		}
	})
	<-r.stopped
	return nil
}

// Done returns a channel closed once the engine has been torn down.
func (r *Runner) Done() <-chan struct{} {
	return r.stopped
}

// Client returns a handle for issuing operations to the runner.
func (r *Runner) Client() *Client {
	return &Client{r: r}
}

// Client issues operations to a Runner's engine. It is cheap to copy and
// safe for concurrent use. Once the runner has stopped every operation
// returns ErrClosed.
type Client struct {
	r *Runner
}

func (c *Client) do(fn func(e interfaces.Engine)) error {
	req := request{run: fn, done: make(chan struct{})}
	select {
	case c.r.requests <- req:
	case <-c.r.quit:
		return ErrClosed
	case <-c.r.stopped:
		return ErrClosed
	}
	<-req.done
	return nil
}

// Bootstrap connects the engine to the given nodes.
func (c *Client) Bootstrap(addrs ...netip.AddrPort) (*Completion, error) {
	if err := validateAddrs(addrs); err != nil {
		return nil, err
	}
	var out *Completion
	err := c.do(func(e interfaces.Engine) {
		out = c.r.bridge.bootstrap(e, addrs)
	})
	return out, err
}

// BootstrapHosts resolves "host:port" strings and bootstraps from them.
func (c *Client) BootstrapHosts(ctx context.Context, hostports ...string) (*Completion, error) {
	addrs, err := resolveAddrs(ctx, hostports)
	if err != nil {
		return nil, err
	}
	return c.Bootstrap(addrs...)
}

// Put stores value under key.
func (c *Client) Put(key InfoHash, value []byte) (*Completion, error) {
	if err := limits.ValidateValue(value); err != nil {
		return nil, err
	}
	var out *Completion
	err := c.do(func(e interfaces.Engine) {
		out = c.r.bridge.put(e, key, value)
	})
	return out, err
}

// Get returns the values currently stored under key.
func (c *Client) Get(key InfoHash) (*Stream, error) {
	var out *Stream
	err := c.do(func(e interfaces.Engine) {
		out = c.r.bridge.get(e, key)
	})
	return out, err
}

// Listen returns current and future values stored under key.
func (c *Client) Listen(key InfoHash) (*Stream, error) {
	var out *Stream
	err := c.do(func(e interfaces.Engine) {
		out = c.r.bridge.listen(e, key)
	})
	return out, err
}

// IsRunning reports whether the engine is running.
func (c *Client) IsRunning() bool {
	running := false
	_ = c.do(func(e interfaces.Engine) {
		running = e.IsRunning()
	})
	return running
}

// Serialize exports the engine's known nodes.
func (c *Client) Serialize() ([]byte, error) {
	var out []byte
	err := c.do(func(e interfaces.Engine) {
		out = c.r.bridge.serialize(e)
	})
	return out, err
}

// Deserialize merges a snapshot into the engine.
func (c *Client) Deserialize(snapshot []byte) error {
	if err := limits.ValidateSnapshot(snapshot); err != nil {
		return err
	}
	return c.do(func(e interfaces.Engine) {
		e.Deserialize(snapshot)
	})
}

// SaveSnapshot writes Serialize's output to path.
func (c *Client) SaveSnapshot(path string) error {
	return saveSnapshot(path, c.Serialize)
}

// LoadSnapshot reads a file written by SaveSnapshot and merges it.
func (c *Client) LoadSnapshot(path string) error {
	return loadSnapshot(path, c.Deserialize)
}
