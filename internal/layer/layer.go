// Package layer implements the Layer from spec.md §3/§4.4: a named unit
// owning per-direction rule tables and per-direction LFTs, the cold-path
// walk (probe LFT, else find_match, else default action), and the
// generation counter that drives lazy LFT/UFT invalidation. Grounded on
// the teacher's internal/ebpf.Manager "coordinator of sub-managers"
// shape, specialized to own exactly the two (rule table, flow table)
// pairs spec.md names.
package layer

import (
	"sync/atomic"

	"github.com/luqmana/opte/internal/action"
	"github.com/luqmana/opte/internal/capsurf"
	"github.com/luqmana/opte/internal/flowid"
	"github.com/luqmana/opte/internal/flowtable"
	"github.com/luqmana/opte/internal/ht"
	"github.com/luqmana/opte/internal/match"
	"github.com/luqmana/opte/internal/opteerr"
	"github.com/luqmana/opte/internal/rule"
)

// LFTEntry is the LFT's cached value: the resolved HT plus the resolved
// action's state descriptor, if any (spec.md §3 "Flow Table Entry").
type LFTEntry struct {
	HT      ht.HT
	Desc    action.StateDesc
	HasDesc bool
	RuleID  rule.ID
}

// Config holds the per-direction knobs a Layer is constructed with.
// OutboundDefault and InboundDefault are both required (SPEC_FULL.md §6
// resolves the spec's first Open Question this way: no implicit
// Allow/Deny fallback).
type Config struct {
	Name               string
	LFTCapacity        int
	LFTIdleTTL         int64
	OutboundDefault    *action.Action
	InboundDefault     *action.Action

	// Env is the capability surface (internal/capsurf) this layer's LFTs
	// lock against instead of a direct sync.RWMutex (spec.md §9's dual
	// kernel/hosted capability surface). Defaults to a hosted Env when nil.
	Env capsurf.Env
}

// Layer is one named stage of a Port's pipeline.
type Layer struct {
	Name string

	Outbound *rule.Table
	Inbound  *rule.Table

	lftOut *flowtable.Table[LFTEntry]
	lftIn  *flowtable.Table[LFTEntry]

	outboundDefault *action.Action
	inboundDefault  *action.Action

	generation atomic.Uint64

	// counters, exported for internal/optemetrics to read without a
	// separate registration dance.
	Hits, Misses, Denies, GenDescFailures atomic.Uint64
}

// New builds a Layer. Both directions' default action must be non-nil.
func New(cfg Config) (*Layer, error) {
	if cfg.OutboundDefault == nil || cfg.InboundDefault == nil {
		return nil, opteerr.New(opteerr.KindConfig, "layer default action is required for both directions").With("layer", cfg.Name)
	}
	l := &Layer{
		Name:            cfg.Name,
		outboundDefault: cfg.OutboundDefault,
		inboundDefault:  cfg.InboundDefault,
	}
	l.Outbound = rule.NewTable(l.bumpGeneration)
	l.Inbound = rule.NewTable(l.bumpGeneration)
	l.lftOut = flowtable.New[LFTEntry](cfg.LFTCapacity, cfg.LFTIdleTTL, cfg.Env)
	l.lftIn = flowtable.New[LFTEntry](cfg.LFTCapacity, cfg.LFTIdleTTL, cfg.Env)
	l.generation.Store(1)
	return l, nil
}

func (l *Layer) bumpGeneration() { l.generation.Add(1) }

// Generation returns the layer's current generation counter.
func (l *Layer) Generation() uint64 { return l.generation.Load() }

func (l *Layer) lftFor(dir flowid.Direction) *flowtable.Table[LFTEntry] {
	if dir == flowid.Inbound {
		return l.lftIn
	}
	return l.lftOut
}

func (l *Layer) defaultFor(dir flowid.Direction) *action.Action {
	if dir == flowid.Inbound {
		return l.inboundDefault
	}
	return l.outboundDefault
}

// Result is the outcome of walking this layer for one packet.
type Result struct {
	Outcome action.Outcome
	HT      ht.HT
	Desc    action.StateDesc
	HasDesc bool
	Reply   []byte
	RuleID  rule.ID
}

// Walk executes this layer's cold/hot path for one packet (spec.md §4.4).
// id is the flow id computed from the *current* parsed view (which may
// already reflect upstream layers' HTs, since each layer observes the
// packet as transformed by the layers before it).
func (l *Layer) Walk(id flowid.FlowID, view match.Fields, meta match.Meta, dir flowid.Direction, nowTick int64) (Result, error) {
	lft := l.lftFor(dir)

	if entry, ok := lft.Lookup(id); ok && entry.Gen >= l.generation.Load() {
		lft.Touch(id, nowTick)
		l.Hits.Add(1)
		return Result{Outcome: action.OutcomeTransform, HT: entry.Value.HT, Desc: entry.Value.Desc, HasDesc: entry.Value.HasDesc, RuleID: entry.Value.RuleID}, nil
	}

	l.Misses.Add(1)

	var act *action.Action
	var matchedID rule.ID
	tbl := l.Inbound
	if dir == flowid.Outbound {
		tbl = l.Outbound
	}
	if r, ok := tbl.FindMatch(view, meta); ok {
		act = r.Action
		matchedID = r.ID
	} else {
		act = l.defaultFor(dir)
	}

	res, err := act.Resolve(view, meta)
	if err != nil {
		l.GenDescFailures.Add(1)
		return Result{}, err
	}

	switch res.Outcome {
	case action.OutcomeDeny:
		l.Denies.Add(1)
		return Result{Outcome: action.OutcomeDeny, RuleID: matchedID}, nil
	case action.OutcomeHairpin:
		return Result{Outcome: action.OutcomeHairpin, Reply: res.Reply, RuleID: matchedID}, nil
	case action.OutcomeMeta:
		return Result{Outcome: action.OutcomeMeta, HT: ht.Identity(), RuleID: matchedID}, nil
	}

	gen := l.generation.Load()
	forward := LFTEntry{HT: res.HTOut, Desc: res.Desc, HasDesc: res.HasDesc, RuleID: matchedID}
	lft.Insert(id, forward, gen, nowTick, 0)

	// Install the reverse-direction entry too (spec.md invariant 1: "every
	// LFT and UFT entry has a matching reverse-direction entry installed
	// at the same moment as the forward entry"). For a Static/Allow
	// action HTIn == HTOut (no real asymmetry); for Stateful it is the
	// generator's second HT.
	reverseLFT := l.lftFor(dir.Opposite())
	reverse := LFTEntry{HT: res.HTIn, Desc: res.Desc, HasDesc: res.HasDesc, RuleID: matchedID}
	reverseLFT.Insert(id.Reverse(), reverse, gen, nowTick, 0)

	return Result{Outcome: action.OutcomeTransform, HT: res.HTOut, Desc: res.Desc, HasDesc: res.HasDesc, RuleID: matchedID}, nil
}

// LookupLFT returns the raw LFT entry for id in the given direction,
// without touching hit counters or generation validity — used by
// port.coldPath to recover the reverse-direction HTs a just-completed
// Walk installed, so they can be composed into the opposite-direction
// UFT entry.
func (l *Layer) LookupLFT(dir flowid.Direction, id flowid.FlowID) (LFTEntry, bool) {
	e, ok := l.lftFor(dir).Lookup(id)
	if !ok {
		return LFTEntry{}, false
	}
	return e.Value, true
}

// Snapshot is the dump_layer telemetry shape (SPEC_FULL.md §4.1).
type Snapshot struct {
	Name            string
	Generation      uint64
	LFTOutCount     int
	LFTInCount      int
	Hits            uint64
	Misses          uint64
	Denies          uint64
	GenDescFailures uint64
	OutboundRules   int
	InboundRules    int
}

// Dump returns a point-in-time Snapshot of this layer.
func (l *Layer) Dump() Snapshot {
	return Snapshot{
		Name:            l.Name,
		Generation:      l.generation.Load(),
		LFTOutCount:     l.lftOut.Len(),
		LFTInCount:      l.lftIn.Len(),
		Hits:            l.Hits.Load(),
		Misses:          l.Misses.Load(),
		Denies:          l.Denies.Load(),
		GenDescFailures: l.GenDescFailures.Load(),
		OutboundRules:   l.Outbound.Len(),
		InboundRules:    l.Inbound.Len(),
	}
}

// FlushLFTs clears both directions' LFTs and bumps the layer's
// generation. Port.AddLayer/RemoveLayer do not call it: they flush only
// the port's UFTs, and each layer's LFTs keep their entries.
func (l *Layer) FlushLFTs() {
	l.lftOut.Clear()
	l.lftIn.Clear()
	l.bumpGeneration()
}

// ExpireLFTs sweeps both directions' LFTs for idle/expired entries,
// called from the periodic tick (internal/porttick).
func (l *Layer) ExpireLFTs(nowTick int64) (out, in []flowid.FlowID) {
	return l.lftOut.Expire(nowTick), l.lftIn.Expire(nowTick)
}
