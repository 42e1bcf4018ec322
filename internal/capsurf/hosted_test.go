//go:build !optekernel

package capsurf_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luqmana/opte/internal/capsurf"
)

func TestMockClockAdvance(t *testing.T) {
	c := capsurf.NewMockClock(100)
	assert.Equal(t, int64(100), c.NowTick())
	c.Advance(5)
	assert.Equal(t, int64(105), c.NowTick())
	c.Set(0)
	assert.Equal(t, int64(0), c.NowTick())
}

func TestBoundedAllocatorRejectsOverBudget(t *testing.T) {
	a := capsurf.NewBoundedAllocator(16)
	_, err := a.Alloc(10)
	require.NoError(t, err)
	_, err = a.Alloc(10)
	assert.Error(t, err)
}

func TestUnboundedAllocatorNeverRejects(t *testing.T) {
	a := capsurf.NewBoundedAllocator(0)
	b, err := a.Alloc(1 << 20)
	require.NoError(t, err)
	assert.Len(t, b, 1<<20)
}

func TestRingProbeRetainsRecentEvents(t *testing.T) {
	ring := capsurf.NewRingProbe(nil, 2)
	ring.Probe("uft-hit", map[string]any{"i": 1})
	ring.Probe("uft-hit", map[string]any{"i": 2})
	ring.Probe("uft-hit", map[string]any{"i": 3})

	events := ring.Events()
	require.Len(t, events, 2)
	assert.Equal(t, 2, events[0].Fields["i"])
	assert.Equal(t, 3, events[1].Fields["i"])
}

func TestHostedEnvMutexIsUsable(t *testing.T) {
	env := capsurf.NewHosted(nil)
	m := env.NewMutex()
	m.Lock()
	m.Unlock()
	rw := env.NewRWMutex()
	rw.RLock()
	rw.RUnlock()
}
