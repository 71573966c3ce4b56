// Package testing provides an in-memory DHT engine for deterministic
// testing of the opendht bridge.
//
// # Overview
//
// SimulatedEngine implements interfaces.Engine without any network. It
// mirrors the threading model of the real engines: callbacks are invoked
// from goroutines the engine owns, never from the goroutine that issued the
// operation, and Join blocks until those goroutines have exited.
//
// # Simulation vs Real Implementation
//
// Three engines conform to interfaces.Engine:
//
//   - Simulation (this package): values live in a map, bootstraps succeed
//     immediately. Used for unit and integration testing.
//
//   - Go (dht package): a Kademlia-style engine speaking msgpack over UDP.
//
//   - Native (native package, build tag "opendht"): libopendht through cgo.
//
// The factory package switches between them.
//
// # Usage
//
//	sim := testing.NewSimulatedEngine(nil)
//	node, err := opendht.NewWithOptions(&opendht.Options{Engine: sim.Factory()})
//
//	// ... exercise node ...
//
//	if sim.JoinCount() != 1 || sim.DropCount() != 1 {
//	    t.Error("expected exactly one teardown")
//	}
//
// # Manual Callbacks
//
// WithManualCallbacks records operations without completing them. Tests
// then play the engine's worker thread by invoking the recorded callbacks,
// which makes interleavings such as "receiver dropped before done" exact:
//
//	sim := testing.NewSimulatedEngine(nil, testing.WithManualCallbacks())
//	...
//	op := sim.PendingOps()[0]
//	op.Get([][]byte{[]byte("v")}, op.GetState)
//	op.Done(true, op.DoneState)
//
// # Scripted Maintenance
//
// WithLoopDelays and WithStopAfterTicks script what Loop returns and when
// the engine stops running, for testing maintenance loops.
//
// # Thread Safety
//
// All methods on SimulatedEngine are safe for concurrent use from
// multiple goroutines.
package testing
