package flowtable_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luqmana/opte/internal/flowid"
	"github.com/luqmana/opte/internal/flowtable"
)

func flow(n int) flowid.FlowID {
	return flowid.FlowID{
		Proto:   flowid.ProtoTCP,
		SrcIP:   netip.MustParseAddr("10.0.0.2"),
		DstIP:   netip.MustParseAddr("10.0.0.3"),
		SrcPort: uint16(30000 + n),
		DstPort: 80,
	}
}

func TestInsertAndLookup(t *testing.T) {
	tbl := flowtable.New[string](4, 0, nil)
	id := flow(1)
	_, evicted := tbl.Insert(id, "payload", 1, 100, 0)
	assert.False(t, evicted)

	e, ok := tbl.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, "payload", e.Value)
	assert.Equal(t, uint64(1), e.Gen)
}

func TestHardCapEvictsLRU(t *testing.T) {
	tbl := flowtable.New[int](2, 0, nil)
	a, b, c := flow(1), flow(2), flow(3)

	tbl.Insert(a, 1, 1, 1, 0)
	tbl.Insert(b, 2, 1, 2, 0)
	// touch a so it is more recently used than b
	tbl.Touch(a, 3)

	_, didEvict := tbl.Insert(c, 3, 1, 4, 0)
	assert.True(t, didEvict)

	_, aStillPresent := tbl.Lookup(a)
	_, bStillPresent := tbl.Lookup(b)
	assert.True(t, aStillPresent)
	assert.False(t, bStillPresent)
	assert.Equal(t, 2, tbl.Len())
}

func TestExpireByIdleTTL(t *testing.T) {
	tbl := flowtable.New[int](4, 10, nil)
	id := flow(1)
	tbl.Insert(id, 1, 1, 0, 0)

	dead := tbl.Expire(5)
	assert.Empty(t, dead)

	dead = tbl.Expire(11)
	assert.Equal(t, []flowid.FlowID{id}, dead)
	assert.Equal(t, 0, tbl.Len())
}

func TestExpireByFixedExpiryTick(t *testing.T) {
	tbl := flowtable.New[int](4, 0, nil)
	id := flow(1)
	tbl.Insert(id, 1, 1, 0, 50)

	assert.Empty(t, tbl.Expire(49))
	assert.Equal(t, []flowid.FlowID{id}, tbl.Expire(50))
}

func TestInvalidateOlderThan(t *testing.T) {
	tbl := flowtable.New[int](4, 0, nil)
	stale, fresh := flow(1), flow(2)
	tbl.Insert(stale, 1, 1, 0, 0)
	tbl.Insert(fresh, 2, 3, 0, 0)

	n := tbl.InvalidateOlderThan(2)
	assert.Equal(t, 1, n)

	_, staleOK := tbl.Lookup(stale)
	_, freshOK := tbl.Lookup(fresh)
	assert.False(t, staleOK)
	assert.True(t, freshOK)
}

func TestClear(t *testing.T) {
	tbl := flowtable.New[int](4, 0, nil)
	tbl.Insert(flow(1), 1, 1, 0, 0)
	tbl.Clear()
	assert.Equal(t, 0, tbl.Len())
}

func TestSnapshotIsACopy(t *testing.T) {
	tbl := flowtable.New[int](4, 0, nil)
	id := flow(1)
	tbl.Insert(id, 7, 1, 0, 0)

	snap := tbl.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 7, snap[0].Value)
}
