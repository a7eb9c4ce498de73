// Prometheus instrumentation for the websocket protocol surface.
//
// Label cardinality stays bounded: "event" is always one of the protocol
// event names and "outcome" is ok|error. Nothing acts on these counters;
// fan-out delivery failures are surfaced here and in the logs only.
package ws

import "github.com/prometheus/client_golang/prometheus"

var (
	// wsConnections gauges the number of live registered connections.
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Current number of registered websocket connections.",
		},
	)

	// wsEvents counts processed inbound events by name and outcome.
	wsEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_events_total",
			Help: "Total number of inbound websocket events processed.",
		},
		[]string{"event", "outcome"},
	)

	// wsFanout counts per-target delivery attempts during fan-out.
	wsFanout = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_fanout_deliveries_total",
			Help: "Total number of per-connection fan-out delivery attempts.",
		},
		[]string{"event", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(wsConnections, wsEvents, wsFanout)
}
