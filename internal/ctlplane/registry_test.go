package ctlplane_test

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luqmana/opte/internal/action"
	"github.com/luqmana/opte/internal/config"
	"github.com/luqmana/opte/internal/ctlplane"
	"github.com/luqmana/opte/internal/flowid"
	"github.com/luqmana/opte/internal/layer"
	"github.com/luqmana/opte/internal/match"
	"github.com/luqmana/opte/internal/port"
	"github.com/luqmana/opte/internal/rule"
)

func allowAllLayer(t *testing.T, name string) *layer.Layer {
	t.Helper()
	l, err := layer.New(layer.Config{
		Name:            name,
		LFTCapacity:     64,
		LFTIdleTTL:      60,
		OutboundDefault: action.NewAllow(),
		InboundDefault:  action.NewAllow(),
	})
	require.NoError(t, err)
	return l
}

func TestRegistryCreateAndDeletePort(t *testing.T) {
	reg := ctlplane.NewRegistry()
	p := port.New(port.Config{Name: "uplink0", UFTCapacity: 64, UFTIdleTTL: 60, TimeWaitTicks: 10})

	require.Nil(t, reg.CreatePort("uplink0", p))
	_, ok := reg.Port("uplink0")
	assert.True(t, ok)

	oerr := reg.CreatePort("uplink0", p)
	require.NotNil(t, oerr)
	assert.Equal(t, ctlplane.VariantBadArgument, oerr.Variant)

	require.Nil(t, reg.DeletePort("uplink0"))
	_, ok = reg.Port("uplink0")
	assert.False(t, ok)
}

func TestRegistryPortNotFoundErrors(t *testing.T) {
	reg := ctlplane.NewRegistry()

	_, oerr := reg.ListLayers("ghost")
	require.NotNil(t, oerr)
	assert.Equal(t, ctlplane.VariantPortNotFound, oerr.Variant)

	oerr = reg.ClearUft("ghost")
	require.NotNil(t, oerr)
	assert.Equal(t, ctlplane.VariantPortNotFound, oerr.Variant)
}

func TestRegistryLayerAndRuleLifecycle(t *testing.T) {
	reg := ctlplane.NewRegistry()
	p := port.New(port.Config{Name: "uplink0", UFTCapacity: 64, UFTIdleTTL: 60, TimeWaitTicks: 10})
	require.Nil(t, reg.CreatePort("uplink0", p))

	require.Nil(t, reg.AddLayer("uplink0", allowAllLayer(t, "fw"), 0))
	names, oerr := reg.ListLayers("uplink0")
	require.Nil(t, oerr)
	assert.Equal(t, []string{"fw"}, names)

	r := rule.New(10, match.All{match.ProtocolIs{Proto: flowid.ProtoTCP}}, action.NewAllow())
	require.Nil(t, reg.AddRule("uplink0", "fw", flowid.Outbound, r))

	rules, oerr := reg.ListRules("uplink0", "fw", flowid.Outbound)
	require.Nil(t, oerr)
	require.Len(t, rules, 1)

	require.Nil(t, reg.RemoveRule("uplink0", "fw", flowid.Outbound, r.ID))
	rules, oerr = reg.ListRules("uplink0", "fw", flowid.Outbound)
	require.Nil(t, oerr)
	assert.Empty(t, rules)

	require.Nil(t, reg.RemoveLayer("uplink0", "fw"))
	oerr = reg.RemoveLayer("uplink0", "fw")
	require.NotNil(t, oerr)
	assert.Equal(t, ctlplane.VariantLayerNotFound, oerr.Variant)
}

func TestRegistryDumpUftAndTcpFlowsOnEmptyPort(t *testing.T) {
	reg := ctlplane.NewRegistry()
	p := port.New(port.Config{Name: "uplink0", UFTCapacity: 64, UFTIdleTTL: 60, TimeWaitTicks: 10})
	require.Nil(t, reg.CreatePort("uplink0", p))

	entries, oerr := reg.DumpUft("uplink0", flowid.Outbound)
	require.Nil(t, oerr)
	assert.Empty(t, entries)

	flows, oerr := reg.DumpTcpFlows("uplink0")
	require.Nil(t, oerr)
	assert.Empty(t, flows)

	require.Nil(t, reg.ClearUft("uplink0"))
}

const rpcLayerHCL = `
lft_capacity = 32
outbound { default_action = "allow" }
inbound  { default_action = "deny" }
`

func TestRPCServerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sock := dir + "/opte-ctl.sock"

	reg := ctlplane.NewRegistry()
	srv := ctlplane.NewServer(reg, nil)

	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)

	go srv.Serve(ln)
	defer srv.Stop()

	// give the accept loop a moment to start; the listener already queues
	// incoming connections once Listen returns, so this is generous
	// rather than strictly required.
	time.Sleep(10 * time.Millisecond)

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	client := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	defer client.Close()

	var mismatchReply ctlplane.ListLayersReply
	require.NoError(t, client.Call("Opte.ListLayers", &ctlplane.ListLayersArgs{APIVersion: ctlplane.CurrentAPIVersion + 1, Port: "uplink0"}, &mismatchReply))
	require.NotNil(t, mismatchReply.Err)
	assert.Equal(t, ctlplane.VariantBadArgument, mismatchReply.Err.Variant)

	var createReply ctlplane.CreatePortReply
	createArgs := &ctlplane.CreatePortArgs{
		APIVersion: ctlplane.CurrentAPIVersion,
		Name:       "uplink0",
		Port:       config.PortConfig{Name: "uplink0", UFTCapacity: 64, UFTIdleTTLTicks: 60, TimeWaitTicks: 10},
	}
	require.NoError(t, client.Call("Opte.CreatePort", createArgs, &createReply))
	require.Nil(t, createReply.Err)
	assert.Equal(t, ctlplane.CurrentAPIVersion, createReply.APIVersion)

	var layerReply ctlplane.AddLayerReply
	layerArgs := &ctlplane.AddLayerArgs{
		APIVersion: ctlplane.CurrentAPIVersion,
		Port:       "uplink0",
		Layer: config.LayerConfig{
			Name:        "fw",
			LFTCapacity: 32,
			Outbound:    config.DirectionPolicy{Default: "allow"},
			Inbound:     config.DirectionPolicy{Default: "deny"},
		},
	}
	require.NoError(t, client.Call("Opte.AddLayer", layerArgs, &layerReply))
	require.Nil(t, layerReply.Err)

	var listReply ctlplane.ListLayersReply
	require.NoError(t, client.Call("Opte.ListLayers", &ctlplane.ListLayersArgs{APIVersion: ctlplane.CurrentAPIVersion, Port: "uplink0"}, &listReply))
	require.Nil(t, listReply.Err)
	assert.Equal(t, []string{"fw"}, listReply.Layers)

	var clearReply ctlplane.ClearUftReply
	require.NoError(t, client.Call("Opte.ClearUft", &ctlplane.ClearUftArgs{APIVersion: ctlplane.CurrentAPIVersion, Port: "uplink0"}, &clearReply))
	require.Nil(t, clearReply.Err)

	var deleteReply ctlplane.DeletePortReply
	require.NoError(t, client.Call("Opte.DeletePort", &ctlplane.DeletePortArgs{APIVersion: ctlplane.CurrentAPIVersion, Name: "uplink0"}, &deleteReply))
	require.Nil(t, deleteReply.Err)
}
