// Package factory creates DHT engine implementations from configuration.
//
// The factory abstracts engine construction, allowing seamless switching
// between the simulated engine (for testing), the pure-Go engine and the
// libopendht binding without changing consuming code.
//
// # Configuration
//
// The factory supports configuration via environment variables:
//   - OPENDHT_BACKEND: "go", "native" or "sim"
//   - OPENDHT_REQUEST_TIMEOUT: integer milliseconds per network request
//   - OPENDHT_RETRY_ATTEMPTS: integer number of bootstrap retries
//   - OPENDHT_BUCKET_SIZE: integer k-bucket size for the Go engine
//
// The native backend is only available when built with -tags opendht;
// otherwise creating it fails with ErrBackendUnavailable.
//
// # Usage
//
//	f := factory.NewEngineFactory()
//	node, err := opendht.NewWithOptions(&opendht.Options{
//	    Port:   4222,
//	    Engine: f.Factory(),
//	})
//
// # Testing Support
//
// CreateSimulationForTesting returns a simulated engine with
// test-optimized configuration (short timeouts, single retry):
//
//	func TestMyFeature(t *testing.T) {
//	    sim := factory.NewEngineFactory().CreateSimulationForTesting()
//	    node, err := opendht.NewWithOptions(&opendht.Options{Engine: sim.Factory()})
//	    // ...
//	}
//
// # Backend Switching
//
//	f := factory.NewEngineFactory()
//	f.SwitchToSimulation()
//	f.SwitchToGo()
package factory
