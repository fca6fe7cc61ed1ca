// Package metrics defines keva's server-side Prometheus collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the connection and command collectors shared by the
// listener and the dispatcher. Keyspace collectors live with the store.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	CommandsTotal     *prometheus.CounterVec
	CommandErrors     prometheus.Counter
	ProtocolErrors    prometheus.Counter
}

// New builds the collector set and registers it with registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "keva",
			Name:      "connections_active",
			Help:      "Currently open client connections.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keva",
			Name:      "connections_total",
			Help:      "Client connections accepted since start.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keva",
			Name:      "commands_total",
			Help:      "Commands dispatched, by command name.",
		}, []string{"command"}),
		CommandErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keva",
			Name:      "command_errors_total",
			Help:      "Requests answered with an error reply.",
		}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keva",
			Name:      "protocol_errors_total",
			Help:      "Connections dropped after a malformed frame.",
		}),
	}

	registry.MustRegister(
		m.ConnectionsActive,
		m.ConnectionsTotal,
		m.CommandsTotal,
		m.CommandErrors,
		m.ProtocolErrors,
	)
	return m
}
