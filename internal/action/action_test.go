package action_test

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luqmana/opte/internal/action"
	"github.com/luqmana/opte/internal/flowid"
	"github.com/luqmana/opte/internal/ht"
	"github.com/luqmana/opte/internal/match"
)

type fakeFields struct{}

func (fakeFields) Proto() flowid.Proto  { return flowid.ProtoTCP }
func (fakeFields) SrcIP() netip.Addr    { return netip.MustParseAddr("10.0.0.2") }
func (fakeFields) DstIP() netip.Addr    { return netip.MustParseAddr("10.0.0.3") }
func (fakeFields) SrcPort() uint16      { return 33000 }
func (fakeFields) DstPort() uint16      { return 80 }
func (fakeFields) HasOuter() bool       { return false }

func TestStaticResolve(t *testing.T) {
	h := ht.New(ht.Edit{Op: ht.OpSet, Layer: ht.LayerInnerL3, Field: "src_ip", Value: []byte{1, 2, 3, 4}})
	a := action.NewStatic(h)
	res, err := a.Resolve(fakeFields{}, match.Meta{})
	require.NoError(t, err)
	assert.Equal(t, action.OutcomeTransform, res.Outcome)
	assert.Equal(t, h, res.HTOut)
}

func TestAllowResolve(t *testing.T) {
	res, err := action.NewAllow().Resolve(fakeFields{}, match.Meta{})
	require.NoError(t, err)
	assert.Equal(t, action.OutcomeTransform, res.Outcome)
	assert.True(t, res.HTOut.IsIdentity())
}

func TestDenyResolve(t *testing.T) {
	res, err := action.NewDeny().Resolve(fakeFields{}, match.Meta{})
	require.NoError(t, err)
	assert.Equal(t, action.OutcomeDeny, res.Outcome)
}

func TestStatefulResolveSuccess(t *testing.T) {
	a := action.NewStateful(func(f match.Fields, m match.Meta) (ht.HT, ht.HT, action.StateDesc, error) {
		out := ht.New(ht.Edit{Op: ht.OpSet, Layer: ht.LayerInnerL3, Field: "src_ip", Value: []byte{192, 0, 2, 5}})
		in := ht.New(ht.Edit{Op: ht.OpSet, Layer: ht.LayerInnerL3, Field: "dst_ip", Value: []byte{10, 0, 0, 2}})
		return out, in, "nat-desc", nil
	})
	res, err := a.Resolve(fakeFields{}, match.Meta{})
	require.NoError(t, err)
	assert.Equal(t, action.OutcomeTransform, res.Outcome)
	assert.True(t, res.HasDesc)
	assert.Equal(t, "nat-desc", res.Desc)
}

func TestStatefulResolveError(t *testing.T) {
	a := action.NewStateful(func(f match.Fields, m match.Meta) (ht.HT, ht.HT, action.StateDesc, error) {
		return ht.HT{}, ht.HT{}, nil, errors.New("no ports available")
	})
	_, err := a.Resolve(fakeFields{}, match.Meta{})
	assert.Error(t, err)
}

func TestHairpinResolve(t *testing.T) {
	a := action.NewHairpin(func(f match.Fields, m match.Meta) ([]byte, error) {
		return []byte{0xAA, 0xBB}, nil
	})
	res, err := a.Resolve(fakeFields{}, match.Meta{})
	require.NoError(t, err)
	assert.Equal(t, action.OutcomeHairpin, res.Outcome)
	assert.Equal(t, []byte{0xAA, 0xBB}, res.Reply)
}

func TestMetaResolve(t *testing.T) {
	var called bool
	a := action.NewMeta(func(m match.Meta) error {
		called = true
		m["trusted"] = true
		return nil
	})
	meta := match.Meta{}
	res, err := a.Resolve(fakeFields{}, meta)
	require.NoError(t, err)
	assert.Equal(t, action.OutcomeMeta, res.Outcome)
	assert.True(t, called)
	assert.Equal(t, true, meta["trusted"])
}
