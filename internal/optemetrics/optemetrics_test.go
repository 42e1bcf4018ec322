package optemetrics_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/luqmana/opte/internal/action"
	"github.com/luqmana/opte/internal/layer"
	"github.com/luqmana/opte/internal/optemetrics"
	"github.com/luqmana/opte/internal/port"
)

type fakeSource struct {
	ports map[string]*port.Port
}

func (f *fakeSource) PortNames() []string {
	names := make([]string, 0, len(f.ports))
	for n := range f.ports {
		names = append(names, n)
	}
	return names
}

func (f *fakeSource) Port(name string) (*port.Port, bool) {
	p, ok := f.ports[name]
	return p, ok
}

func TestCollectorEmitsZeroedCountersForFreshPort(t *testing.T) {
	p := port.New(port.Config{Name: "uplink0", UFTCapacity: 64, UFTIdleTTL: 60, TimeWaitTicks: 10})
	src := &fakeSource{ports: map[string]*port.Port{"uplink0": p}}
	c := optemetrics.NewCollector(src)

	const expected = `
# HELP opte_port_frames_emitted_total Frames emitted (transformed or bypassed).
# TYPE opte_port_frames_emitted_total counter
opte_port_frames_emitted_total{port="uplink0"} 0
`
	require.NoError(t, testutil.GatherAndCompare(c, strings.NewReader(expected), "opte_port_frames_emitted_total"))
}

func TestCollectorReportsLayerRuleCounts(t *testing.T) {
	l, err := layer.New(layer.Config{
		Name:            "fw",
		LFTCapacity:     16,
		LFTIdleTTL:      60,
		OutboundDefault: action.NewAllow(),
		InboundDefault:  action.NewDeny(),
	})
	require.NoError(t, err)

	p := port.New(port.Config{Name: "uplink0", UFTCapacity: 64, UFTIdleTTL: 60, TimeWaitTicks: 10})
	p.AddLayer(l, 0)

	src := &fakeSource{ports: map[string]*port.Port{"uplink0": p}}
	c := optemetrics.NewCollector(src)

	const expected = `
# HELP opte_layer_outbound_rules Outbound rule table size.
# TYPE opte_layer_outbound_rules gauge
opte_layer_outbound_rules{layer="fw",port="uplink0"} 0
`
	require.NoError(t, testutil.GatherAndCompare(c, strings.NewReader(expected), "opte_layer_outbound_rules"))
}

func TestCollectorEmitsNothingForEmptySource(t *testing.T) {
	src := &fakeSource{ports: map[string]*port.Port{}}
	c := optemetrics.NewCollector(src)
	assert := require.New(t)
	assert.Equal(0, testutil.CollectAndCount(c))
}
