package rule_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luqmana/opte/internal/action"
	"github.com/luqmana/opte/internal/flowid"
	"github.com/luqmana/opte/internal/match"
	"github.com/luqmana/opte/internal/rule"
)

type fakeFields struct {
	dstPort uint16
}

func (f fakeFields) Proto() flowid.Proto  { return flowid.ProtoTCP }
func (f fakeFields) SrcIP() netip.Addr    { return netip.MustParseAddr("10.0.0.2") }
func (f fakeFields) DstIP() netip.Addr    { return netip.MustParseAddr("10.0.0.3") }
func (f fakeFields) SrcPort() uint16      { return 33000 }
func (f fakeFields) DstPort() uint16      { return f.dstPort }
func (f fakeFields) HasOuter() bool       { return false }

func TestFindMatchRespectsPriority(t *testing.T) {
	var mutations int
	tbl := rule.NewTable(func() { mutations++ })

	low := rule.New(10, match.All{match.ExactField{Field: match.FieldDstPort, Value: 80}}, action.NewAllow())
	high := rule.New(20, match.All{match.ExactField{Field: match.FieldDstPort, Value: 80}}, action.NewDeny())

	tbl.Add(low)
	tbl.Add(high)
	assert.Equal(t, 2, mutations)

	matched, ok := tbl.FindMatch(fakeFields{dstPort: 80}, match.Meta{})
	require.True(t, ok)
	assert.Equal(t, high.ID, matched.ID)
}

func TestFindMatchTiebreakIsInsertionOrder(t *testing.T) {
	tbl := rule.NewTable(nil)
	first := rule.New(10, match.All{match.ExactField{Field: match.FieldDstPort, Value: 80}}, action.NewAllow())
	second := rule.New(10, match.All{match.ExactField{Field: match.FieldDstPort, Value: 80}}, action.NewDeny())
	tbl.Add(first)
	tbl.Add(second)

	matched, ok := tbl.FindMatch(fakeFields{dstPort: 80}, match.Meta{})
	require.True(t, ok)
	assert.Equal(t, first.ID, matched.ID)
}

func TestFindMatchPermutingEqualPriorityPreservesTiebreak(t *testing.T) {
	// spec.md §8: "permuting insertion order of equal-priority rules
	// preserves the first-match set by insertion-time tiebreak" — here we
	// assert the complementary fact: whichever rule is added first among
	// equal priorities wins, regardless of how many other rules exist.
	tblA := rule.NewTable(nil)
	tblB := rule.NewTable(nil)

	r1 := rule.New(5, match.All{match.ExactField{Field: match.FieldDstPort, Value: 443}}, action.NewAllow())
	r2 := rule.New(5, match.All{match.ExactField{Field: match.FieldDstPort, Value: 443}}, action.NewDeny())

	tblA.Add(r1)
	tblA.Add(r2)

	tblB.Add(r2)
	tblB.Add(r1)

	mA, _ := tblA.FindMatch(fakeFields{dstPort: 443}, match.Meta{})
	mB, _ := tblB.FindMatch(fakeFields{dstPort: 443}, match.Meta{})

	assert.Equal(t, r1.ID, mA.ID)
	assert.Equal(t, r2.ID, mB.ID)
}

func TestRemoveBumpsGenerationAndDropsRule(t *testing.T) {
	var mutations int
	tbl := rule.NewTable(func() { mutations++ })
	r := rule.New(1, match.All{}, action.NewAllow())
	tbl.Add(r)

	removed := tbl.Remove(r.ID)
	assert.True(t, removed)
	assert.Equal(t, 2, mutations)
	assert.Equal(t, 0, tbl.Len())
}

func TestRemoveUnknownIDIsNoop(t *testing.T) {
	var mutations int
	tbl := rule.NewTable(func() { mutations++ })
	removed := tbl.Remove(rule.ID(999))
	assert.False(t, removed)
	assert.Equal(t, 0, mutations)
}

func TestClearBumpsGenerationAndEmptiesTable(t *testing.T) {
	var mutations int
	tbl := rule.NewTable(func() { mutations++ })
	tbl.Add(rule.New(1, match.All{}, action.NewAllow()))
	tbl.Clear()
	assert.Equal(t, 0, tbl.Len())
	assert.Equal(t, 2, mutations)
}

func TestRequireGetMissingReturnsRuleNotFound(t *testing.T) {
	tbl := rule.NewTable(nil)
	_, err := rule.RequireGet(tbl, rule.ID(42))
	require.Error(t, err)
}
