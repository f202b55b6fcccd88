package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CommunicatorMessages.WithLabelValues("B1-communicator-1", "routed").Inc()
	m.OwnAreaUpdates.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "disgb_communicator_messages_total")
	assert.Contains(t, names, "disgb_own_area_updates_total")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommunicatorMessages.WithLabelValues("B1-communicator-1", "routed")))
}

func TestNewWithoutRegistry(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil).DistributionSends.WithLabelValues("B1", "sent").Inc()
	})

	// two instances must not collide on separate registries
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
