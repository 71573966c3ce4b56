package dht

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/opendht/crypto"
	"github.com/opd-ai/opendht/interfaces"
	"github.com/opd-ai/opendht/limits"
	"github.com/opd-ai/opendht/transport"
)

var errSelfPing = errors.New("node answered with our own ID")

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for node timestamps, remote listener expiry
// and maintenance scheduling. Stored values expire on wall-clock time
// whatever clock is set.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithListenHost sets the host the UDP socket binds to. The default binds
// every interface.
func WithListenHost(host string) Option {
	return func(e *Engine) { e.host = host }
}

// WithKeyPair fixes the node identity instead of generating one.
func WithKeyPair(kp *crypto.KeyPair) Option {
	return func(e *Engine) { e.keyPair = kp }
}

// WithMaintenanceConfig overrides the maintenance schedule.
func WithMaintenanceConfig(cfg *MaintenanceConfig) Option {
	return func(e *Engine) { e.maintenance = cfg }
}

// Engine is a Kademlia DHT node speaking msgpack over UDP. It implements
// interfaces.Engine; callbacks run on the engine's own goroutines.
type Engine struct {
	config      interfaces.EngineConfig
	clock       clock.Clock
	host        string
	keyPair     *crypto.KeyPair
	keyErr      error
	selfID      crypto.ID
	maintenance *MaintenanceConfig

	routing    *RoutingTable
	storage    *Storage
	listeners  *ListenerRegistry
	rpc        *rpcTable
	bootstrap  *BootstrapManager
	maintainer *Maintainer

	mu        sync.Mutex
	transport transport.Transport
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   atomic.Bool
	joined    bool
	dropped   bool
}

// NewEngine creates an engine that is not yet listening. A nil config uses
// the factory defaults.
func NewEngine(config *interfaces.EngineConfig, opts ...Option) *Engine {
	e := &Engine{
		config:    interfaces.EngineConfig{Backend: interfaces.BackendGo, RequestTimeout: 2000, RetryAttempts: 3, BucketSize: 8},
		clock:     clock.New(),
		storage:   NewStorage(DefaultMaxKeys, DefaultValueLifetime),
		listeners: NewListenerRegistry(),
		rpc:       newRPCTable(),
	}
	if config != nil {
		e.config = *config
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.keyPair == nil {
		e.keyPair, e.keyErr = crypto.GenerateKeyPair()
	}
	if e.keyPair != nil {
		e.selfID = e.keyPair.ID()
	}

	e.routing = NewRoutingTable(e.selfID, e.bucketSize())
	e.bootstrap = NewBootstrapManager(e, e.config.RetryAttempts)
	e.maintainer = NewMaintainer(e, e.maintenance)
	return e
}

// ID returns the node ID.
func (e *Engine) ID() crypto.ID {
	return e.selfID
}

// LocalAddr returns the bound UDP address, or nil before Run.
func (e *Engine) LocalAddr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.transport == nil {
		return nil
	}
	return e.transport.LocalAddr()
}

// NodeCount returns the number of nodes in the routing table.
func (e *Engine) NodeCount() int {
	return e.routing.Size()
}

// StoredKeys returns the number of keys held in local storage.
func (e *Engine) StoredKeys() int {
	return e.storage.Len()
}

func (e *Engine) requestTimeout() time.Duration {
	return time.Duration(e.config.RequestTimeout) * time.Millisecond
}

func (e *Engine) bucketSize() int {
	if e.config.BucketSize <= 0 {
		return 8
	}
	return e.config.BucketSize
}

func udpAddr(ap netip.AddrPort) net.Addr {
	return net.UDPAddrFromAddrPort(ap)
}

// Run binds the UDP socket and starts serving requests.
func (e *Engine) Run(port uint16) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running.Load() {
		return interfaces.StatusOK
	}
	if e.joined || e.keyErr != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.Run",
			"joined":   e.joined,
			"error":    fmt.Sprint(e.keyErr),
		}).Error("Engine cannot start")
		return interfaces.StatusRunFailed
	}

	listen := net.JoinHostPort(e.host, strconv.Itoa(int(port)))
	t, err := transport.NewUDPTransport(listen)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.Run",
			"address":  listen,
			"error":    err.Error(),
		}).Error("Failed to open UDP socket")
		return interfaces.StatusRunFailed
	}

	e.transport = t
	e.registerHandlers(t)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.maintainer.Start(e.clock.Now())
	e.running.Store(true)

	logrus.WithFields(logrus.Fields{
		"function": "Engine.Run",
		"node_id":  e.selfID.String(),
		"address":  t.LocalAddr().String(),
	}).Info("DHT engine listening")
	return interfaces.StatusOK
}

// IsRunning reports whether the engine is serving.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// Loop starts due maintenance and returns the delay until more is due.
func (e *Engine) Loop() time.Duration {
	if !e.running.Load() {
		return e.maintainer.config.PingInterval
	}
	return e.maintainer.Tick(e.clock.Now())
}

// spawn runs fn on an engine goroutine. It reports false when the engine
// is not running, in which case fn is not called.
func (e *Engine) spawn(fn func(ctx context.Context)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running.Load() {
		return false
	}
	ctx := e.ctx
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(ctx)
	}()
	return true
}

// Join stops serving and waits for every engine goroutine to exit. Pending
// operations finish with their final callbacks before Join returns.
func (e *Engine) Join() {
	e.mu.Lock()
	if e.joined {
		e.mu.Unlock()
		return
	}
	e.joined = true
	e.running.Store(false)
	cancel, t := e.cancel, e.transport
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if t != nil {
		if err := t.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.Join",
				"error":    err.Error(),
			}).Warn("Error closing transport")
		}
	}
	e.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "Engine.Join",
		"node_id":  e.selfID.String(),
	}).Debug("DHT engine stopped")
}

// Drop releases stored values and subscriptions.
func (e *Engine) Drop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dropped {
		return
	}
	e.dropped = true

	var err error
	if e.transport != nil {
		err = multierr.Append(err, e.transport.Close())
	}
	if n := e.rpc.outstanding(); n > 0 {
		err = multierr.Append(err, fmt.Errorf("%d requests still outstanding", n))
	}
	e.storage.Purge()
	e.listeners.Reset()

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.Drop",
			"error":    err.Error(),
		}).Warn("Engine released with errors")
	}
}

// Bootstrap pings addrs and reports whether any answered.
func (e *Engine) Bootstrap(addrs []netip.AddrPort, done interfaces.DoneFunc, state uintptr) {
	addrs = append([]netip.AddrPort(nil), addrs...)
	if !e.spawn(func(ctx context.Context) {
		done(e.bootstrap.Bootstrap(ctx, addrs), state)
	}) {
		done(false, state)
	}
}

// Put stores value locally and on the k closest nodes. It succeeds when the
// value is held locally or any remote node acknowledged it.
func (e *Engine) Put(key, value []byte, done interfaces.DoneFunc, state uintptr) {
	id := crypto.IDFromBytes(key)
	if limits.ValidateValue(value) != nil {
		done(false, state)
		return
	}
	value = append([]byte(nil), value...)

	if !e.spawn(func(ctx context.Context) {
		local := e.storeValues(id, [][]byte{value}) >= 0
		acked := e.announce(ctx, id, value)
		logrus.WithFields(logrus.Fields{
			"function": "Engine.Put",
			"key":      id.String(),
			"acked":    acked,
		}).Debug("Put finished")
		done(local || acked > 0, state)
	}) {
		done(false, state)
	}
}

// Get delivers local values, then values found by a find_value lookup.
func (e *Engine) Get(key []byte, get interfaces.ValuesFunc, getState uintptr, done interfaces.DoneFunc, doneState uintptr) {
	id := crypto.IDFromBytes(key)
	sink := newValueSink(get, getState)

	if !e.spawn(func(ctx context.Context) {
		if sink.deliver(e.storage.Get(id)) {
			e.lookup(ctx, id, sink.deliver)
		}
		done(true, doneState)
	}) {
		done(false, doneState)
	}
}

// Listen delivers current values, then every new value stored under key
// locally or announced by the nodes subscribed to.
func (e *Engine) Listen(key []byte, get interfaces.ValuesFunc, state uintptr) {
	id := crypto.IDFromBytes(key)
	sink := newValueSink(get, state)
	e.listeners.AddLocal(id, sink)

	e.spawn(func(ctx context.Context) {
		if sink.deliver(e.storage.Get(id)) {
			e.subscribe(ctx, id)
		}
	})
}

// Serialize exports the routing table through cb.
func (e *Engine) Serialize(cb interfaces.CopyFunc, dst uintptr) {
	data, err := ExportNodes(e.routing.GetAllNodes())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.Serialize",
			"error":    err.Error(),
		}).Error("Failed to export nodes")
		return
	}
	cb(data, dst)
}

// Deserialize merges exported nodes into the routing table and pings them
// when the engine is running.
func (e *Engine) Deserialize(buf []byte) {
	nodes, err := DecodeNodes(buf, e.clock.Now())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Engine.Deserialize",
			"error":    err.Error(),
		}).Warn("Ignoring unreadable node snapshot")
		return
	}

	addrs := make([]netip.AddrPort, 0, len(nodes))
	for _, n := range nodes {
		if n.ID == e.selfID {
			continue
		}
		e.routing.AddNode(n)
		addrs = append(addrs, n.Address)
	}
	e.bootstrap.AddNodes(addrs)

	if len(addrs) > 0 {
		e.spawn(func(ctx context.Context) {
			e.bootstrap.Bootstrap(ctx, addrs)
		})
	}
}

// storeValues stores values under key, notifies local listeners and
// forwards new values to remote subscribers. It returns how many values
// were new, or -1 if none was valid.
func (e *Engine) storeValues(key crypto.ID, values [][]byte) int {
	valid := 0
	var fresh [][]byte
	for _, v := range values {
		if limits.ValidateValue(v) != nil {
			continue
		}
		valid++
		if e.storage.Store(key, v) {
			fresh = append(fresh, v)
		}
	}
	if valid == 0 {
		return -1
	}
	if len(fresh) == 0 {
		return 0
	}

	e.listeners.NotifyLocal(key, fresh)
	e.notifyRemote(key, fresh)
	return len(fresh)
}

func (e *Engine) notifyRemote(key crypto.ID, values [][]byte) {
	subs := e.listeners.RemoteFor(key, e.clock.Now())
	if len(subs) == 0 {
		return
	}
	packet, err := transport.NewMessagePacket(transport.PacketNotify, &transport.Message{
		Sender: e.selfID,
		Target: key,
		Values: fitValues(values, valuesBudget),
	})
	if err != nil {
		return
	}
	for _, addr := range subs {
		if err := e.transport.Send(packet, udpAddr(addr)); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "notifyRemote",
				"key":      key.String(),
				"to":       addr.String(),
				"error":    err.Error(),
			}).Debug("Failed to notify subscriber")
		}
	}
}

// announce stores value on the k nodes closest to key and returns how many
// acknowledged it.
func (e *Engine) announce(ctx context.Context, key crypto.ID, value []byte) int {
	nodes := e.lookup(ctx, key, nil)

	var acked atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(Alpha)
	for _, n := range nodes {
		g.Go(func() error {
			reply, err := e.requestNode(gctx, n, transport.PacketStore, &transport.Message{
				Target: key,
				Values: [][]byte{value},
			})
			if err == nil && reply.OK {
				acked.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(acked.Load())
}

// subscribe registers this node as a listener for key on the k closest
// nodes and delivers the values they already hold.
func (e *Engine) subscribe(ctx context.Context, key crypto.ID) {
	nodes := e.lookup(ctx, key, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(Alpha)
	for _, n := range nodes {
		g.Go(func() error {
			reply, err := e.requestNode(gctx, n, transport.PacketListen, &transport.Message{Target: key})
			if err == nil && len(reply.Values) > 0 {
				e.listeners.NotifyLocal(key, reply.Values)
			}
			return nil
		})
	}
	_ = g.Wait()
}

var _ interfaces.Engine = (*Engine)(nil)
