// Package opendht exposes a callback-driven DHT engine through Go completion
// primitives.
//
// The engine (libopendht through cgo, or the pure-Go engine in the dht
// package) owns its own worker goroutines or threads and reports results by
// invoking fixed-signature callbacks with an opaque state token. This package
// turns those callbacks into a one-shot [Completion] for operations with a
// single outcome and a [Stream] for operations that yield values, while
// keeping ownership of every piece of callback state unambiguous.
//
// # Getting Started
//
// Create a handle listening on a UDP port, bootstrap it and keep it
// maintained in the background:
//
//	node, err := opendht.New(4222)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	go node.Maintain(ctx)
//
//	done, err := node.BootstrapHosts(ctx, "bootstrap.ring.cx:4222")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if ok, err := done.Wait(ctx); err != nil || !ok {
//	    log.Printf("bootstrap failed: ok=%v err=%v", ok, err)
//	}
//
// # Storing and Finding Values
//
// Keys are arbitrary bytes canonicalized to a 20-byte [InfoHash]:
//
//	key := opendht.HashString("foo")
//
//	stored, err := node.Put(key, []byte{9, 9, 9})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ok, err := stored.Wait(ctx)
//
//	values, err := node.Get(key)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for v := range values.C() {
//	    fmt.Printf("found %x\n", v)
//	}
//
// A Get stream is finite and MAY contain duplicates. A stream that closes
// without yielding anything means "not found"; it is not an error.
//
// Listen returns a stream of current and future values that never ends on
// its own. Close it to stop the subscription:
//
//	updates, err := node.Listen(key)
//	defer updates.Close()
//
// # Backpressure
//
// Streams are bounded (Options.StreamCapacity, 10 by default). The engine
// is never blocked by a slow consumer: when a stream's buffer is full the
// bridge tells the engine to stop delivering for that operation, so a
// consumer that does not keep up sees a truncated stream instead of stalling
// the network engine.
//
// The pure-Go engine hands over at most limits.MaxValuesPerBatch (8) values
// per callback, so with the default capacity a consumer only loses values
// when it falls a whole buffer behind. Raise StreamCapacity for keys that
// hold many values.
//
// # Ownership Transfer
//
// Engines only ever receive uintptr tokens. Each token names one entry in a
// process-wide table (see tokens.go) and each entry is reclaimed exactly
// once: by the engine's final callback, by a stop signal, or by teardown of
// the handle that issued it. A callback for a token that was already
// reclaimed is a broken engine contract and panics.
//
// # Handles
//
// Two ownership models are provided:
//
//   - [DHT] is shared. Clone it to hand copies to other goroutines; every
//     engine call is made under a mutex that is held only for the duration of
//     the synchronous call, never while a caller waits for a result. The
//     engine is torn down when the last clone is closed.
//
//   - [Runner] is exclusive. The engine is confined to the goroutine running
//     [Runner.Run], which also drives maintenance. Callers talk to it through
//     a lightweight [Client]. Canceling Run's context tears the engine down.
//
// # Maintenance
//
// Engines need a periodic tick. [Maintain] runs the tick loop against any
// [Ticker]; DHT.Maintain is the usual entry point. The loop ends when the
// engine stops running or the context is canceled.
//
// # Persistence
//
// Serialize exports the engine's known nodes and Deserialize merges them back:
//
//	if err := node.SaveSnapshot("nodes.bin"); err != nil {
//	    log.Printf("save failed: %v", err)
//	}
//
//	// next start
//	_ = node.LoadSnapshot("nodes.bin")
//
// # Engine Selection
//
// Options.Engine chooses the engine. When unset, the factory package picks a
// backend from the OPENDHT_BACKEND environment variable ("go" by default).
package opendht
