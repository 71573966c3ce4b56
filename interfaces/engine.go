package interfaces

import (
	"net/netip"
	"time"
)

// Status codes returned by Engine.Run.
const (
	// StatusOK means the engine is listening.
	StatusOK = 0

	// StatusRunFailed mirrors the 0xffff code the native wrapper returns when
	// the runner throws during start.
	StatusRunFailed = 0xffff
)

// DoneFunc reports the completion of a one-shot operation or the end of a
// get enumeration. state is the token passed when the operation was issued.
type DoneFunc func(success bool, state uintptr)

// ValuesFunc receives a batch of values found for a key. The slices are only
// valid until the function returns. Returning false stops further delivery.
type ValuesFunc func(values [][]byte, state uintptr) bool

// CopyFunc receives a serialized snapshot. src is only valid until the
// function returns; dst is the token passed to Serialize.
type CopyFunc func(src []byte, dst uintptr)

// Engine is the fixed entry-point contract of a DHT engine.
//
// Engine methods are not safe for concurrent use unless the implementation
// says otherwise; the bridge serializes calls (shared handle) or confines
// them to one goroutine (exclusive runner). Callbacks, in contrast, arrive
// from the engine's own goroutines at any time.
type Engine interface {
	// Run starts the engine listening on port and returns a status code.
	Run(port uint16) int

	// IsRunning reports whether the engine's workers are still active.
	IsRunning() bool

	// Loop runs internal maintenance and returns the delay until it should
	// be called again.
	Loop() time.Duration

	// Join stops the engine and blocks until its workers have exited.
	Join()

	// Drop releases every resource held by the engine. It is called exactly
	// once, after Join.
	Drop()

	// Bootstrap connects the engine to known nodes.
	Bootstrap(addrs []netip.AddrPort, done DoneFunc, state uintptr)

	// Put stores value under key.
	Put(key, value []byte, done DoneFunc, state uintptr)

	// Get enumerates the values currently stored under key, then calls done.
	Get(key []byte, get ValuesFunc, getState uintptr, done DoneFunc, doneState uintptr)

	// Listen delivers current and future values stored under key until get
	// returns false or the engine stops.
	Listen(key []byte, get ValuesFunc, state uintptr)

	// Serialize exports the engine's known nodes through cb, synchronously.
	Serialize(cb CopyFunc, dst uintptr)

	// Deserialize merges previously exported nodes into the engine.
	Deserialize(buf []byte)
}

// Factory allocates a new, not yet running engine (engine_init).
type Factory func() Engine
