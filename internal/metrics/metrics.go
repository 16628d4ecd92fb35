// Package metrics exposes the component's Prometheus instrumentation:
// per-client socket usage, pump tick counts, and NIC frame counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector bundles the component's gauges/counters. The pump updates
// PumpTicks/PumpErrors and the RPC server updates EventsHarvested;
// SocketsInUse and NICFrames are registered but nothing in this module
// updates them. It is constructed once at startup and registered
// against a prometheus.Registerer (production code uses the default
// registry via MustRegister).
type Collector struct {
	SocketsInUse  *prometheus.GaugeVec
	PumpTicks     prometheus.Counter
	PumpErrors    prometheus.Counter
	NICFrames     *prometheus.CounterVec
	EventsHarvested prometheus.Counter
}

// Direction labels for NICFrames.
const (
	DirectionRx = "rx"
	DirectionTx = "tx"
)

func New() *Collector {
	return &Collector{
		SocketsInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "networkstack",
			Name:      "sockets_in_use",
			Help:      "Number of socket slots currently held by each client.",
		}, []string{"client"}),
		PumpTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "networkstack",
			Name:      "pump_tick_total",
			Help:      "Number of event-pump iterations completed.",
		}),
		PumpErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "networkstack",
			Name:      "pump_errors_total",
			Help:      "Number of event-pump iterations that ended in a fatal error.",
		}),
		NICFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "networkstack",
			Name:      "nic_frames_total",
			Help:      "Number of frames moved across the NIC transport.",
		}, []string{"direction"}),
		EventsHarvested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "networkstack",
			Name:      "events_harvested_total",
			Help:      "Number of event records returned by getPendingEvents.",
		}),
	}
}

// MustRegister registers every metric against reg, panicking on a
// duplicate-registration error at startup.
func (c *Collector) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(c.SocketsInUse, c.PumpTicks, c.PumpErrors, c.NICFrames, c.EventsHarvested)
}
