package uft_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luqmana/opte/internal/flowid"
	"github.com/luqmana/opte/internal/ht"
	"github.com/luqmana/opte/internal/uft"
)

func testFlow() flowid.FlowID {
	return flowid.FlowID{
		Proto:   flowid.ProtoTCP,
		SrcIP:   netip.MustParseAddr("10.0.0.2"),
		DstIP:   netip.MustParseAddr("10.0.0.3"),
		SrcPort: 33000,
		DstPort: 80,
	}
}

func TestComposeInstallAndLookup(t *testing.T) {
	tbl := uft.New(16, 0, nil)
	id := testFlow()

	a := ht.New(ht.Edit{Op: ht.OpSet, Layer: ht.LayerInnerL3, Field: "src_ip", Value: []byte{1, 1, 1, 1}})
	b := ht.New(ht.Edit{Op: ht.OpModify, Layer: ht.LayerInnerL4, Field: "src_port", Delta: 1})

	composed := uft.ComposeInstall(tbl, id, []ht.HT{a, b}, 1, 0, 0)

	got, ok := tbl.Lookup(id, 1, false)
	require.True(t, ok)
	assert.Equal(t, composed.Edits(), got.Edits())
}

func TestLookupInvalidatesOnGenerationMismatch(t *testing.T) {
	tbl := uft.New(16, 0, nil)
	id := testFlow()
	tbl.Insert(id, ht.Identity(), 1, 0, 0)

	_, ok := tbl.Lookup(id, 2, false)
	assert.False(t, ok)
	assert.Equal(t, 0, tbl.Len())
}

func TestLookupInvalidatesOnTCPClosed(t *testing.T) {
	tbl := uft.New(16, 0, nil)
	id := testFlow()
	tbl.Insert(id, ht.Identity(), 1, 0, 0)

	_, ok := tbl.Lookup(id, 1, true)
	assert.False(t, ok)
}

func TestTableAtCapacityEvictsOldest(t *testing.T) {
	tbl := uft.New(1, 0, nil)
	a := flowid.FlowID{Proto: flowid.ProtoTCP, SrcIP: netip.MustParseAddr("10.0.0.2"), DstIP: netip.MustParseAddr("10.0.0.3"), SrcPort: 1, DstPort: 80}
	b := flowid.FlowID{Proto: flowid.ProtoTCP, SrcIP: netip.MustParseAddr("10.0.0.2"), DstIP: netip.MustParseAddr("10.0.0.3"), SrcPort: 2, DstPort: 80}

	tbl.Insert(a, ht.Identity(), 1, 0, 0)
	tbl.Insert(b, ht.Identity(), 1, 1, 0)

	assert.Equal(t, 1, tbl.Len())
	_, aPresent := tbl.Lookup(a, 1, false)
	_, bPresent := tbl.Lookup(b, 1, false)
	assert.False(t, aPresent)
	assert.True(t, bPresent)
}
