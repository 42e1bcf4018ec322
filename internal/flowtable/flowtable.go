// Package flowtable implements the bounded flow-table cache shared by the
// per-layer LFTs and the port-level UFT (spec.md §3 "Flow Table Entry",
// §4.5 eviction policy). It is grounded on the teacher's
// internal/ebpf/flow.Manager: a mutex-guarded map plus a periodic sweep,
// generalized here with Go generics so the same table type backs both an
// LFT entry (HT + state ref) and a UFT entry (composed HT), and with an
// explicit LRU ring so the hard-cap eviction is O(1) instead of the
// teacher's full-map scan.
package flowtable

import (
	"container/list"

	"github.com/luqmana/opte/internal/capsurf"
	"github.com/luqmana/opte/internal/flowid"
)

// Entry is one cached flow-table record (spec.md §3). Value holds the
// layer- or port-specific payload (an HT, a state-descriptor reference, or
// both); Table never inspects it.
type Entry[V any] struct {
	FlowID      flowid.FlowID
	Value       V
	Gen         uint64
	HitCount    uint64
	LastHitTick int64
	ExpiryTick  int64 // 0 means "no fixed expiry beyond idle timeout"

	elem *list.Element // LRU ring position, owned by Table
}

// Table is a bounded map[FlowID]*Entry[V] with idle expiry and a
// hard-capacity LRU eviction, safe for concurrent use. Per spec.md §5's
// "fine-grained interior mutability" goal, each Table guards only its own
// flows; a Port holds one Table per direction so concurrent packets on
// different directions never contend.
type Table[V any] struct {
	mu       capsurf.RWMutex
	capacity int
	idleTTL  int64 // in ticks; 0 disables idle expiry
	entries  map[flowid.FlowID]*Entry[V]
	lru      *list.List // front = most recently hit
}

// New builds a Table bounded to capacity entries, with idleTTL ticks of
// no-hit grace before an entry becomes expiry-eligible (0 disables idle
// expiry, relying only on the hard cap and explicit invalidation). The
// table's lock comes from env (internal/capsurf), not a direct
// sync.RWMutex, so a kernel-context build can satisfy it with its own
// primitive; env == nil defaults to a hosted Env.
func New[V any](capacity int, idleTTL int64, env capsurf.Env) *Table[V] {
	if capacity <= 0 {
		capacity = 1
	}
	if env == nil {
		env = capsurf.NewHosted(nil)
	}
	return &Table[V]{
		mu:       env.NewRWMutex(),
		capacity: capacity,
		idleTTL:  idleTTL,
		entries:  make(map[flowid.FlowID]*Entry[V], capacity),
		lru:      list.New(),
	}
}

// Lookup returns the entry for id, if present, without changing its LRU
// position, hit count or tick (callers that count a hit call Touch).
func (t *Table[V]) Lookup(id flowid.FlowID) (*Entry[V], bool) {
	t.mu.RLock()
	e, ok := t.entries[id]
	t.mu.RUnlock()
	return e, ok
}

// Touch records a hit against an existing entry: bumps HitCount,
// LastHitTick, and moves it to the front of the LRU ring.
func (t *Table[V]) Touch(id flowid.FlowID, nowTick int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return
	}
	e.HitCount++
	e.LastHitTick = nowTick
	t.lru.MoveToFront(e.elem)
}

// Insert installs (or replaces) the entry for id. If the table is at
// capacity and id is not already present, the least-recently-hit entry is
// evicted first (spec.md §4.5 "hard cap... evict least-recently-hit").
// Insert returns the flow id evicted to make room, if any.
func (t *Table[V]) Insert(id flowid.FlowID, value V, gen uint64, nowTick, expiryTick int64) (evicted flowid.FlowID, didEvict bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.entries[id]; ok {
		existing.Value = value
		existing.Gen = gen
		existing.LastHitTick = nowTick
		existing.ExpiryTick = expiryTick
		t.lru.MoveToFront(existing.elem)
		return flowid.FlowID{}, false
	}

	if len(t.entries) >= t.capacity {
		back := t.lru.Back()
		if back != nil {
			victim := back.Value.(*Entry[V])
			evicted, didEvict = victim.FlowID, true
			t.removeLocked(victim.FlowID)
		}
	}

	e := &Entry[V]{FlowID: id, Value: value, Gen: gen, LastHitTick: nowTick, ExpiryTick: expiryTick}
	e.elem = t.lru.PushFront(e)
	t.entries[id] = e
	return evicted, didEvict
}

// Invalidate removes a single entry unconditionally (e.g. the TCP tracker
// reaching Closed, or a control-plane rule change's lazy-invalidation
// sweep). Reports whether an entry was present.
func (t *Table[V]) Invalidate(id flowid.FlowID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; !ok {
		return false
	}
	t.removeLocked(id)
	return true
}

// removeLocked deletes id from both the map and the LRU ring. Caller must
// hold t.mu for writing.
func (t *Table[V]) removeLocked(id flowid.FlowID) {
	e, ok := t.entries[id]
	if !ok {
		return
	}
	t.lru.Remove(e.elem)
	delete(t.entries, id)
}

// Len returns the current entry count.
func (t *Table[V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Clear removes every entry, e.g. on add_layer/remove_layer (spec.md
// §4.7 "bumps generation; flushes UFT").
func (t *Table[V]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[flowid.FlowID]*Entry[V], t.capacity)
	t.lru.Init()
}

// Expire sweeps entries whose ExpiryTick has passed or whose idle TTL has
// elapsed relative to nowTick, removing them and returning their flow ids.
// Called from the periodic tick (internal/porttick), never from the
// datapath (spec.md §5: "it never blocks the datapath globally" — the
// write lock here is held only for the duration of the sweep over this
// one table, not across ports).
func (t *Table[V]) Expire(nowTick int64) []flowid.FlowID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var dead []flowid.FlowID
	for id, e := range t.entries {
		if e.ExpiryTick != 0 && nowTick >= e.ExpiryTick {
			dead = append(dead, id)
			continue
		}
		if t.idleTTL > 0 && nowTick-e.LastHitTick >= t.idleTTL {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		t.removeLocked(id)
	}
	return dead
}

// InvalidateOlderThan removes every entry whose Gen is strictly less than
// currentGen: the lazy-invalidation sweep after a rule/layer mutation
// (spec.md §4.2 "any LFT/UFT entry whose generation is older than the
// layer's current generation is treated as invalid"). Most callers instead
// rely on IsStale at lookup time, which is allocation-free; this sweep
// exists for the control-plane path that wants stale entries reclaimed
// promptly rather than lazily.
func (t *Table[V]) InvalidateOlderThan(currentGen uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var stale []flowid.FlowID
	for id, e := range t.entries {
		if e.Gen < currentGen {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		t.removeLocked(id)
	}
	return len(stale)
}

// Snapshot returns a point-in-time copy of all entries, for dump_uft/
// dump_layer telemetry (spec.md §4.7, SPEC_FULL.md §4.1). The copy is
// shallow over Value; callers must not mutate shared state through it.
func (t *Table[V]) Snapshot() []Entry[V] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry[V], 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	return out
}
