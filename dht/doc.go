// Package dht implements a pure-Go Kademlia DHT engine.
//
// Engine satisfies interfaces.Engine, so it can stand in for libopendht
// behind the opendht bridge. It speaks msgpack over UDP (see the transport
// package), keeps a 160-bit k-bucket routing table keyed by SHA-1 node IDs,
// and stores values in an expiring LRU.
//
// Like the native engine, Engine runs its own goroutines: every operation
// returns immediately and reports through the callbacks it was given. Join
// stops the engine and waits for those goroutines, after which no callback
// is invoked.
//
// Example:
//
//	e := dht.NewEngine(&interfaces.EngineConfig{
//	    Backend:        interfaces.BackendGo,
//	    RequestTimeout: 2000,
//	    RetryAttempts:  3,
//	    BucketSize:     8,
//	})
//	if status := e.Run(4222); status != interfaces.StatusOK {
//	    log.Fatalf("engine failed to start: %#x", status)
//	}
//	defer func() {
//	    e.Join()
//	    e.Drop()
//	}()
//
// Most code should not drive Engine directly; use opendht.New instead.
package dht
