package flowid_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/luqmana/opte/internal/flowid"
)

func mkFlow(srcPort, dstPort uint16) flowid.FlowID {
	return flowid.FlowID{
		Proto:   flowid.ProtoTCP,
		SrcIP:   netip.MustParseAddr("10.0.0.2"),
		DstIP:   netip.MustParseAddr("10.0.0.3"),
		SrcPort: srcPort,
		DstPort: dstPort,
	}
}

func TestReverseIsInvolution(t *testing.T) {
	f := mkFlow(33000, 80)
	r := f.Reverse()
	assert.Equal(t, f.SrcIP, r.DstIP)
	assert.Equal(t, f, r.Reverse())
}

func TestDirectionOpposite(t *testing.T) {
	assert.Equal(t, flowid.Inbound, flowid.Outbound.Opposite())
	assert.Equal(t, flowid.Outbound, flowid.Inbound.Opposite())
}

func TestValid(t *testing.T) {
	f := mkFlow(1, 2)
	assert.True(t, f.Valid())
	assert.False(t, flowid.FlowID{}.Valid())
}
