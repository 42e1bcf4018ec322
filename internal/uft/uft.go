// Package uft implements the Unified Flow Table from spec.md §3/§4.5: a
// per-direction cache of the *composition* of every layer's HT for a
// flow, so a hot-path hit bypasses the whole layer list. Grounded on
// internal/flowtable.Table (the same bounded-map-plus-LRU machine backing
// the per-layer LFTs), specialized with the hit/invalidate decision
// spec.md §4.5 describes (generation mismatch or TCP-closed both evict).
package uft

import (
	"github.com/luqmana/opte/internal/capsurf"
	"github.com/luqmana/opte/internal/flowid"
	"github.com/luqmana/opte/internal/flowtable"
	"github.com/luqmana/opte/internal/ht"
)

// Entry is the UFT's cached value: the composed HT for this flow and
// direction.
type Entry struct {
	HT ht.HT
}

// Table is one direction's UFT.
type Table struct {
	ft *flowtable.Table[Entry]
}

// New builds a UFT bounded to capacity with the given idle TTL (ticks),
// guarded by a lock drawn from env (nil defaults to a hosted capsurf.Env).
func New(capacity int, idleTTL int64, env capsurf.Env) *Table {
	return &Table{ft: flowtable.New[Entry](capacity, idleTTL, env)}
}

// Lookup returns the composed HT for id, along with whether the entry is
// considered valid: present, its generation not older than currentGen,
// and closed (the caller's TCP tracker verdict) false (spec.md §4.5 "Hit & invalidated" conditions). An
// invalid entry is evicted immediately so the next lookup is a clean
// miss.
func (t *Table) Lookup(id flowid.FlowID, currentGen uint64, closed bool) (ht.HT, bool) {
	e, ok := t.ft.Lookup(id)
	if !ok {
		return ht.HT{}, false
	}
	if e.Gen < currentGen || closed {
		t.ft.Invalidate(id)
		return ht.HT{}, false
	}
	return e.Value.HT, true
}

// Touch records a hit against id (bumps hit count / LRU position /
// last-hit tick).
func (t *Table) Touch(id flowid.FlowID, nowTick int64) { t.ft.Touch(id, nowTick) }

// Insert installs the composed HT for id at generation gen. Port passes
// the sum of every layer's generation (port.aggregateGeneration), so a
// subsequent mutation of *any* layer raises the sum and invalidates this
// entry.
func (t *Table) Insert(id flowid.FlowID, composed ht.HT, gen uint64, nowTick, expiryTick int64) {
	t.ft.Insert(id, Entry{HT: composed}, gen, nowTick, expiryTick)
}

// Invalidate removes id unconditionally (rule-change sweep, TCP close).
func (t *Table) Invalidate(id flowid.FlowID) bool { return t.ft.Invalidate(id) }

// Expire sweeps idle/expired entries, returning the evicted flow ids.
func (t *Table) Expire(nowTick int64) []flowid.FlowID { return t.ft.Expire(nowTick) }

// Clear empties the table (port-level add_layer/remove_layer flush).
func (t *Table) Clear() { t.ft.Clear() }

// Len returns the current entry count.
func (t *Table) Len() int { return t.ft.Len() }

// Snapshot returns dump_uft telemetry rows (SPEC_FULL.md §4.1).
func (t *Table) Snapshot() []flowtable.Entry[Entry] { return t.ft.Snapshot() }

// ComposeInstall folds the per-layer HTs walked for one packet into a
// single HT and installs it (and, independently, the caller installs the
// reverse entry under the reverse flow id into the opposite direction's
// Table) — spec.md §4.4: "the composed HT chain is folded into a single
// HT and inserted into the UFT keyed by the original flow id... the
// reverse also inserted for the opposite direction".
func ComposeInstall(t *Table, id flowid.FlowID, layerHTs []ht.HT, gen uint64, nowTick, expiryTick int64) ht.HT {
	composed := ht.ComposeAll(layerHTs...)
	t.Insert(id, composed, gen, nowTick, expiryTick)
	return composed
}
