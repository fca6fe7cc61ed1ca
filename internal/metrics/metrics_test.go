package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.Inc()
	m.CommandsTotal.WithLabelValues("GET").Inc()
	m.CommandsTotal.WithLabelValues("GET").Inc()
	m.CommandErrors.Inc()
	m.ProtocolErrors.Inc()

	families, err := registry.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["keva_connections_active"])
	assert.True(t, names["keva_connections_total"])
	assert.True(t, names["keva_commands_total"])
	assert.True(t, names["keva_command_errors_total"])
	assert.True(t, names["keva_protocol_errors_total"])

	assert.Equal(t, float64(2), testutil.ToFloat64(m.CommandsTotal.WithLabelValues("GET")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ConnectionsActive))
}
