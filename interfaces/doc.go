// Package interfaces defines the fixed entry-point contract between the
// completion bridge and a DHT engine.
//
// The contract mirrors a C ABI: the engine never sees Go closures or Go
// pointers belonging to the bridge. Every asynchronous operation carries a
// plain function value with a fixed signature plus an opaque uintptr state
// token. The engine hands the token back, unmodified, when it invokes the
// function. What the token refers to is the bridge's business alone.
//
// # Engine
//
// [Engine] is the Go rendition of the native entry points:
//
//	engine_init       -> Factory
//	engine_run        -> Engine.Run
//	engine_is_running -> Engine.IsRunning
//	engine_tick       -> Engine.Loop
//	engine_join       -> Engine.Join
//	engine_drop       -> Engine.Drop
//	engine_bootstrap  -> Engine.Bootstrap
//	engine_put        -> Engine.Put
//	engine_get        -> Engine.Get
//	engine_listen     -> Engine.Listen
//	engine_serialize  -> Engine.Serialize
//	engine_deserialize-> Engine.Deserialize
//
// Implementations live in the dht package (pure Go over UDP), the native
// package (cgo binding to libopendht, build tag "opendht") and the testing
// package (scriptable in-memory engine).
//
// # Callback Rules
//
// Implementations must honour these rules, which the bridge relies on:
//
//   - A DoneFunc is invoked at most once per registered state token.
//   - A ValuesFunc may be invoked zero or more times, from any goroutine.
//     Returning false means "stop delivering for this call": a get still
//     invokes its DoneFunc, a listen is canceled and never calls back again.
//   - Byte slices handed to a ValuesFunc or CopyFunc are only valid for the
//     duration of that call. Callers copy what they keep.
//   - The same holds the other way: keys, values and snapshots passed to
//     Engine methods belong to the caller, and an engine copies what it
//     keeps past the call.
//   - After Join returns no callback is in flight and none will start.
//
// # Configuration
//
// [EngineConfig] selects and tunes an engine backend; see the factory
// package for environment overrides.
package interfaces
