package testing

import (
	"net/netip"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/opd-ai/opendht/interfaces"
	"github.com/opd-ai/opendht/limits"
)

// DefaultLoopDelay is returned by Loop when no scripted delays remain.
const DefaultLoopDelay = time.Second

// CallRecord represents an engine entry-point invocation for test
// verification.
type CallRecord struct {
	Op        string
	Key       []byte
	Value     []byte
	Addrs     []netip.AddrPort
	Timestamp int64
}

// PendingOp is an operation recorded in manual mode. Tests invoke its
// callbacks to play the engine's worker thread.
type PendingOp struct {
	Op        string
	Key       []byte
	Get       interfaces.ValuesFunc
	GetState  uintptr
	Done      interfaces.DoneFunc
	DoneState uintptr
}

// SimOption configures a SimulatedEngine.
type SimOption func(*SimulatedEngine)

// WithManualCallbacks disables automatic callbacks. Operations are recorded
// as PendingOps and nothing is delivered until a test invokes them.
func WithManualCallbacks() SimOption {
	return func(s *SimulatedEngine) {
		s.auto = false
	}
}

// WithRunStatus makes Run return status instead of StatusOK.
func WithRunStatus(status int) SimOption {
	return func(s *SimulatedEngine) {
		s.runStatus = status
	}
}

// WithLoopDelays scripts the delays Loop returns, in order.
func WithLoopDelays(delays ...time.Duration) SimOption {
	return func(s *SimulatedEngine) {
		s.loopDelays = append([]time.Duration(nil), delays...)
	}
}

// WithStopAfterTicks makes the engine stop running after n calls to Loop.
func WithStopAfterTicks(n int) SimOption {
	return func(s *SimulatedEngine) {
		s.stopAfter = n
	}
}

// WithBootstrapResult sets the success flag reported for bootstraps.
func WithBootstrapResult(ok bool) SimOption {
	return func(s *SimulatedEngine) {
		s.bootstrapOK = ok
	}
}

type simListener struct {
	mu      sync.Mutex
	get     interfaces.ValuesFunc
	state   uintptr
	stopped bool
}

// deliver invokes the listener's callback unless it already asked to stop.
// The listener lock serializes deliveries so nothing follows a stop.
func (l *simListener) deliver(values [][]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return
	}
	if !l.get(values, l.state) {
		l.stopped = true
	}
}

func (l *simListener) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}

// SimulatedEngine implements interfaces.Engine in memory for testing.
//
// In the default automatic mode every callback is invoked from a separate
// goroutine, standing in for the native worker thread, and Join waits for
// those goroutines. Values stored with Put are visible to Get and Listen on
// the same engine.
type SimulatedEngine struct {
	config *interfaces.EngineConfig

	mu          sync.Mutex
	auto        bool
	runStatus   int
	bootstrapOK bool
	started     bool
	running     bool
	joinCount   int
	dropCount   int
	loopDelays  []time.Duration
	ticks       int
	stopAfter   int
	calls       []CallRecord
	ops         []PendingOp
	store       map[string][][]byte
	listeners   map[string][]*simListener
	nodes       []netip.AddrPort

	workers sync.WaitGroup
}

// NewSimulatedEngine creates a new simulated engine for testing.
func NewSimulatedEngine(config *interfaces.EngineConfig, opts ...SimOption) *SimulatedEngine {
	if config == nil {
		config = &interfaces.EngineConfig{Backend: interfaces.BackendSimulation}
	}

	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")
	logrus.WithFields(logrus.Fields{
		"function": "NewSimulatedEngine",
		"timeout":  config.RequestTimeout,
		"retries":  config.RetryAttempts,
	}).Info("Creating simulated engine for testing")

	s := &SimulatedEngine{
		config:      config,
		auto:        true,
		runStatus:   interfaces.StatusOK,
		bootstrapOK: true,
		store:       make(map[string][][]byte),
		listeners:   make(map[string][]*simListener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Factory returns a factory that always yields this engine.
func (s *SimulatedEngine) Factory() interfaces.Factory {
	return func() interfaces.Engine { return s }
}

// spawn runs fn on a tracked goroutine. It reports false once the engine
// has been joined. Callers must hold s.mu.
func (s *SimulatedEngine) spawn(fn func()) bool {
	if !s.running {
		return false
	}
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		fn()
	}()
	return true
}

func (s *SimulatedEngine) record(rec CallRecord) {
	rec.Timestamp = time.Now().UnixNano()
	s.calls = append(s.calls, rec)
}

// Run implements interfaces.Engine.Run.
func (s *SimulatedEngine) Run(port uint16) int {
	logrus.Warn("SIMULATION FUNCTION - NOT A REAL OPERATION")
	logrus.WithFields(logrus.Fields{
		"function": "SimulatedEngine.Run",
		"port":     port,
		"status":   s.runStatus,
	}).Info("Simulating engine start")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.record(CallRecord{Op: "run"})
	if s.runStatus != interfaces.StatusOK {
		return s.runStatus
	}
	s.started = true
	s.running = true
	return interfaces.StatusOK
}

// IsRunning implements interfaces.Engine.IsRunning.
func (s *SimulatedEngine) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Loop implements interfaces.Engine.Loop.
func (s *SimulatedEngine) Loop() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks++
	delay := DefaultLoopDelay
	if len(s.loopDelays) > 0 {
		idx := s.ticks - 1
		if idx >= len(s.loopDelays) {
			idx = len(s.loopDelays) - 1
		}
		delay = s.loopDelays[idx]
	}
	if s.stopAfter > 0 && s.ticks >= s.stopAfter {
		s.running = false
	}
	return delay
}

// Join implements interfaces.Engine.Join.
func (s *SimulatedEngine) Join() {
	s.mu.Lock()
	s.running = false
	s.joinCount++
	s.record(CallRecord{Op: "join"})
	s.mu.Unlock()

	s.workers.Wait()
}

// Drop implements interfaces.Engine.Drop.
func (s *SimulatedEngine) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropCount++
	s.record(CallRecord{Op: "drop"})
	s.listeners = make(map[string][]*simListener)
}

// Bootstrap implements interfaces.Engine.Bootstrap.
func (s *SimulatedEngine) Bootstrap(addrs []netip.AddrPort, done interfaces.DoneFunc, state uintptr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record(CallRecord{Op: "bootstrap", Addrs: append([]netip.AddrPort(nil), addrs...)})
	s.nodes = appendNodes(s.nodes, addrs)

	if !s.auto {
		s.ops = append(s.ops, PendingOp{Op: "bootstrap", Done: done, DoneState: state})
		return
	}
	ok := s.bootstrapOK && len(addrs) > 0
	s.spawn(func() { done(ok, state) })
}

// Put implements interfaces.Engine.Put.
func (s *SimulatedEngine) Put(key, value []byte, done interfaces.DoneFunc, state uintptr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	s.record(CallRecord{Op: "put", Key: k, Value: v})

	if !s.auto {
		s.ops = append(s.ops, PendingOp{Op: "put", Key: k, Done: done, DoneState: state})
		return
	}

	s.store[string(k)] = append(s.store[string(k)], v)
	for _, l := range s.listeners[string(k)] {
		l := l
		s.spawn(func() { l.deliver([][]byte{v}) })
	}
	s.spawn(func() { done(true, state) })
}

// Get implements interfaces.Engine.Get.
func (s *SimulatedEngine) Get(key []byte, get interfaces.ValuesFunc, getState uintptr, done interfaces.DoneFunc, doneState uintptr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := append([]byte(nil), key...)
	s.record(CallRecord{Op: "get", Key: k})

	if !s.auto {
		s.ops = append(s.ops, PendingOp{
			Op: "get", Key: k,
			Get: get, GetState: getState,
			Done: done, DoneState: doneState,
		})
		return
	}

	values := cloneValues(s.store[string(k)])
	s.spawn(func() {
		for _, batch := range batches(values, limits.MaxValuesPerBatch) {
			if !get(batch, getState) {
				break
			}
		}
		done(true, doneState)
	})
}

// Listen implements interfaces.Engine.Listen.
func (s *SimulatedEngine) Listen(key []byte, get interfaces.ValuesFunc, state uintptr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := append([]byte(nil), key...)
	s.record(CallRecord{Op: "listen", Key: k})

	if !s.auto {
		s.ops = append(s.ops, PendingOp{Op: "listen", Key: k, Get: get, GetState: state})
		return
	}

	l := &simListener{get: get, state: state}
	s.listeners[string(k)] = append(s.listeners[string(k)], l)
	if existing := cloneValues(s.store[string(k)]); len(existing) > 0 {
		s.spawn(func() { l.deliver(existing) })
	}
}

// Serialize implements interfaces.Engine.Serialize. The snapshot is the
// msgpack encoding of the known node addresses.
func (s *SimulatedEngine) Serialize(cb interfaces.CopyFunc, dst uintptr) {
	s.mu.Lock()
	s.record(CallRecord{Op: "serialize"})
	addrs := make([]string, 0, len(s.nodes))
	for _, n := range s.nodes {
		addrs = append(addrs, n.String())
	}
	s.mu.Unlock()

	data, err := msgpack.Marshal(addrs)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SimulatedEngine.Serialize",
			"error":    err.Error(),
		}).Error("Failed to encode simulated snapshot")
		return
	}
	cb(data, dst)
}

// Deserialize implements interfaces.Engine.Deserialize.
func (s *SimulatedEngine) Deserialize(buf []byte) {
	var addrs []string
	if err := msgpack.Unmarshal(buf, &addrs); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SimulatedEngine.Deserialize",
			"error":    err.Error(),
		}).Warn("Ignoring malformed simulated snapshot")
		return
	}

	parsed := make([]netip.AddrPort, 0, len(addrs))
	for _, a := range addrs {
		if ap, err := netip.ParseAddrPort(a); err == nil {
			parsed = append(parsed, ap)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(CallRecord{Op: "deserialize"})
	s.nodes = appendNodes(s.nodes, parsed)
}

// Calls returns a copy of the recorded entry-point invocations.
func (s *SimulatedEngine) Calls() []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallRecord, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times op was invoked.
func (s *SimulatedEngine) CallCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// PendingOps returns operations recorded in manual mode.
func (s *SimulatedEngine) PendingOps() []PendingOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingOp, len(s.ops))
	copy(out, s.ops)
	return out
}

// JoinCount returns how many times Join was called.
func (s *SimulatedEngine) JoinCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinCount
}

// DropCount returns how many times Drop was called.
func (s *SimulatedEngine) DropCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropCount
}

// Ticks returns how many times Loop was called.
func (s *SimulatedEngine) Ticks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// KnownNodes returns the addresses learned from bootstraps and snapshots.
func (s *SimulatedEngine) KnownNodes() []netip.AddrPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]netip.AddrPort(nil), s.nodes...)
}

// ActiveListeners returns how many listeners on key have not asked to stop.
func (s *SimulatedEngine) ActiveListeners(key []byte) int {
	s.mu.Lock()
	ls := append([]*simListener(nil), s.listeners[string(key)]...)
	s.mu.Unlock()

	n := 0
	for _, l := range ls {
		if !l.isStopped() {
			n++
		}
	}
	return n
}

// Stop makes the engine report that it is no longer running, as if its
// worker had exited on its own.
func (s *SimulatedEngine) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// IsSimulation reports that this engine is not backed by a network.
func (s *SimulatedEngine) IsSimulation() bool {
	return true
}

func appendNodes(nodes, addrs []netip.AddrPort) []netip.AddrPort {
	for _, a := range addrs {
		known := false
		for _, n := range nodes {
			if n == a {
				known = true
				break
			}
		}
		if !known {
			nodes = append(nodes, a)
		}
	}
	return nodes
}

func cloneValues(values [][]byte) [][]byte {
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = append([]byte(nil), v...)
	}
	return out
}

func batches(values [][]byte, size int) [][][]byte {
	var out [][][]byte
	for len(values) > size {
		out = append(out, values[:size])
		values = values[size:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}
