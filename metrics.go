package opendht

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

// Callback kinds used as the "kind" label of opendht_callbacks_total.
const (
	callbackDone   = "done"
	callbackValues = "values"
	callbackCopy   = "copy"
)

var (
	pendingTokens = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "opendht",
		Name:      "pending_tokens",
		Help:      "Callback state tokens currently owned by an engine.",
	})

	callbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opendht",
		Name:      "callbacks_total",
		Help:      "Engine callbacks received, by kind.",
	}, []string{"kind"})

	backpressureStops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "opendht",
		Name:      "backpressure_stops_total",
		Help:      "Value deliveries refused because a stream was full or dropped.",
	})

	maintenanceTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "opendht",
		Name:      "maintenance_ticks_total",
		Help:      "Engine maintenance ticks performed.",
	})
)

// RegisterMetrics registers the bridge collectors with reg. Metrics are
// collected whether or not they are registered.
func RegisterMetrics(reg prometheus.Registerer) error {
	var err error
	for _, c := range []prometheus.Collector{
		pendingTokens,
		callbacksTotal,
		backpressureStops,
		maintenanceTicks,
	} {
		err = multierr.Append(err, reg.Register(c))
	}
	return err
}
