// Package port implements the Port from spec.md §3/§4.7: the owner of a
// Port's layer list, per-direction UFT, TCP tracker, and the top-level
// Process() pipeline driver that ties parser -> layers -> HT composition
// -> UFT together. Grounded on the teacher's internal/ebpf.Manager, which
// plays the analogous "owns every sub-manager, drives them in sequence,
// guards structural changes with a write lock" role.
package port

import (
	"sync/atomic"

	"github.com/luqmana/opte/internal/action"
	"github.com/luqmana/opte/internal/buf"
	"github.com/luqmana/opte/internal/capsurf"
	"github.com/luqmana/opte/internal/flowid"
	"github.com/luqmana/opte/internal/ht"
	"github.com/luqmana/opte/internal/layer"
	"github.com/luqmana/opte/internal/match"
	"github.com/luqmana/opte/internal/opteerr"
	"github.com/luqmana/opte/internal/parser"
	"github.com/luqmana/opte/internal/rule"
	"github.com/luqmana/opte/internal/tcp"
	"github.com/luqmana/opte/internal/uft"
)

// defaultMaxFrameLen is the per-packet headroom a Port's working Frame is
// pre-sized to when Config.MaxFrameLen is unset, enough for a Geneve-style
// overlay push (outer Ethernet+IP+UDP+Geneve, spec.md §3 "optional outer
// L3/L4") on top of a standard 1500-byte-MTU inner frame.
const defaultMaxFrameLen = 1728

// ResultKind is the tag of a ProcessResult (spec.md §4.7/§6).
type ResultKind uint8

const (
	ResultEmit ResultKind = iota
	ResultEmitHairpin
	ResultDrop
	ResultBypass
)

func (k ResultKind) String() string {
	switch k {
	case ResultEmit:
		return "emit"
	case ResultEmitHairpin:
		return "emit_hairpin"
	case ResultDrop:
		return "drop"
	case ResultBypass:
		return "bypass"
	default:
		return "unknown"
	}
}

// ProcessResult is the outcome of Process (spec.md §4.7).
type ProcessResult struct {
	Kind       ResultKind
	Frame      []byte
	Direction  flowid.Direction // meaningful for EmitHairpin: the reply's egress direction
	DropReason error
	RuleID     rule.ID
}

// Config configures a Port at creation time.
type Config struct {
	Name          string
	UFTCapacity   int
	UFTIdleTTL    int64
	TimeWaitTicks int64

	// ChecksumOffloadProbe detects whether the host NIC handles checksum
	// validation, the condition under which spec.md §4.1 permits Parse's
	// BadChecksum check to be skipped entirely. Defaults to
	// parser.ChecksumOffload; tests inject a stub to avoid depending on
	// real host NIC state.
	ChecksumOffloadProbe func() bool

	// MaxFrameLen bounds the working buffer a Port allocates per packet,
	// so a Push edit has somewhere to grow into (spec.md §9's "no
	// heap-allocation liberties" — growth is capped up front, not
	// open-ended). Defaults to defaultMaxFrameLen; raised to the incoming
	// frame's own length if that's already larger.
	MaxFrameLen int

	// Env is the capability surface (internal/capsurf) this Port's locks
	// and per-packet frame allocation are built against, instead of
	// reaching for sync/make directly (spec.md §9's dual kernel/hosted
	// capability surface). Defaults to a hosted Env logging through
	// optelog.Default() when nil.
	Env capsurf.Env
}

// Port owns an ordered layer list, one UFT per direction, and the TCP
// tracker (spec.md §2 "One Port owns an ordered list of Layers, a
// Unified Flow Table (UFT) per direction, and a TCP flow tracker").
type Port struct {
	Name string

	mu     capsurf.RWMutex // control-plane writer lock (spec.md §5)
	layers []*layer.Layer

	uftOut *uft.Table
	uftIn  *uft.Table
	tcpTr  *tcp.Tracker
	parser *parser.Parser

	env         capsurf.Env
	maxFrameLen int

	timeWaitTicks int64
	uftCapacity   int
	uftIdleTTL    int64

	generation atomic.Uint64

	checksumOffload bool

	Emitted, Dropped, Bypassed atomic.Uint64
}

// New builds an empty Port (no layers). Layers are added via AddLayer.
func New(cfg Config) *Port {
	if cfg.UFTCapacity <= 0 {
		cfg.UFTCapacity = 1024
	}
	probe := cfg.ChecksumOffloadProbe
	if probe == nil {
		probe = parser.ChecksumOffload
	}
	env := cfg.Env
	if env == nil {
		env = capsurf.NewHosted(nil)
	}
	maxFrameLen := cfg.MaxFrameLen
	if maxFrameLen <= 0 {
		maxFrameLen = defaultMaxFrameLen
	}
	p := &Port{
		Name:            cfg.Name,
		mu:              env.NewRWMutex(),
		uftOut:          uft.New(cfg.UFTCapacity, cfg.UFTIdleTTL, env),
		uftIn:           uft.New(cfg.UFTCapacity, cfg.UFTIdleTTL, env),
		tcpTr:           tcp.New(),
		parser:          parser.New(),
		env:             env,
		maxFrameLen:     maxFrameLen,
		timeWaitTicks:   cfg.TimeWaitTicks,
		uftCapacity:     cfg.UFTCapacity,
		uftIdleTTL:      cfg.UFTIdleTTL,
		checksumOffload: probe(),
	}
	p.generation.Store(1)
	return p
}

// AddLayer inserts l at position pos (clamped to [0, len]), bumping the
// port's generation and flushing both UFTs (spec.md §4.7: "reconfigures
// the pipeline; bumps generation; flushes UFT").
func (p *Port) AddLayer(l *layer.Layer, pos int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos < 0 {
		pos = 0
	}
	if pos > len(p.layers) {
		pos = len(p.layers)
	}
	p.layers = append(p.layers, nil)
	copy(p.layers[pos+1:], p.layers[pos:])
	p.layers[pos] = l
	p.generation.Add(1)
	p.uftOut.Clear()
	p.uftIn.Clear()
}

// RemoveLayer removes the named layer, bumping generation and flushing
// both UFTs. Reports whether a layer was removed.
func (p *Port) RemoveLayer(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := -1
	for i, l := range p.layers {
		if l.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	p.layers = append(p.layers[:idx], p.layers[idx+1:]...)
	p.generation.Add(1)
	p.uftOut.Clear()
	p.uftIn.Clear()
	return true
}

// Layer returns the named layer, if present.
func (p *Port) Layer(name string) (*layer.Layer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, l := range p.layers {
		if l.Name == name {
			return l, true
		}
	}
	return nil, false
}

// ListLayers returns the layer names in pipeline order.
func (p *Port) ListLayers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.layers))
	for i, l := range p.layers {
		out[i] = l.Name
	}
	return out
}

// aggregateGeneration sums every layer's current generation, so any
// layer's mutation changes the sum (the UFT's invalidation check compares
// against this, per spec.md §4.5 "layer generation mismatch recorded on
// entry"). Callers must hold at least a read lock on p.mu.
func (p *Port) aggregateGeneration() uint64 {
	var sum uint64
	for _, l := range p.layers {
		sum += l.Generation()
	}
	return sum
}

// Process runs one frame through the pipeline for direction dir at tick
// nowTick (spec.md §4.7 process contract).
func (p *Port) Process(frame []byte, dir flowid.Direction, nowTick int64) ProcessResult {
	p.mu.RLock()
	defer p.mu.RUnlock()

	view, err := p.parser.Parse(frame, dir)
	if err != nil {
		p.Dropped.Add(1)
		return ProcessResult{Kind: ResultDrop, DropReason: err}
	}

	id := view.FlowID()
	uftTbl := p.uftFor(dir)
	gen := p.aggregateGeneration()
	closed := view.Proto() == flowid.ProtoTCP && p.tcpTr.IsClosed(id, dir)

	if composed, ok := uftTbl.Lookup(id, gen, closed); ok {
		f, err := buf.NewFrame(frame, p.maxFrameLen, p.env.Allocator())
		if err != nil {
			p.Dropped.Add(1)
			return ProcessResult{Kind: ResultDrop, DropReason: err}
		}
		bv := f.View()
		if err := ht.Apply(composed, bv, view); err != nil {
			p.Dropped.Add(1)
			return ProcessResult{Kind: ResultDrop, DropReason: err}
		}
		out := f.Bytes()
		if composed.ChangesLength() {
			reparsed, err := p.parser.Parse(out, dir)
			if err != nil {
				p.Dropped.Add(1)
				return ProcessResult{Kind: ResultDrop, DropReason: err}
			}
			*view = *reparsed
		} else {
			view.RefreshFields()
		}
		uftTbl.Touch(id, nowTick)
		p.feedTCP(view, dir, nowTick)
		p.Emitted.Add(1)
		return ProcessResult{Kind: ResultEmit, Frame: out, Direction: dir}
	}

	return p.coldPath(frame, view, id, dir, nowTick, gen)
}

func (p *Port) uftFor(dir flowid.Direction) *uft.Table {
	if dir == flowid.Inbound {
		return p.uftIn
	}
	return p.uftOut
}

// coldPath walks every layer in pipeline order (spec.md §4.4), applying
// each resolved HT immediately so downstream layers observe the
// transformed headers, then composes and installs the UFT entries for
// both directions.
func (p *Port) coldPath(frame []byte, view *parser.View, preID flowid.FlowID, dir flowid.Direction, nowTick int64, gen uint64) ProcessResult {
	f, err := buf.NewFrame(frame, p.maxFrameLen, p.env.Allocator())
	if err != nil {
		p.Dropped.Add(1)
		return ProcessResult{Kind: ResultDrop, DropReason: err}
	}
	bv := f.View()
	meta := match.Meta{match.MetaKeyRawFrame: f.Bytes()}

	var htsThisDir []ht.HT
	var lastRuleID rule.ID
	walkIDs := make([]flowid.FlowID, 0, len(p.layers))

	for _, l := range p.layers {
		id := view.FlowID()
		walkIDs = append(walkIDs, id)
		res, err := l.Walk(id, view, meta, dir, nowTick)
		if err != nil {
			p.Dropped.Add(1)
			return ProcessResult{Kind: ResultDrop, DropReason: err}
		}
		lastRuleID = res.RuleID

		switch res.Outcome {
		case action.OutcomeDeny:
			p.Dropped.Add(1)
			return ProcessResult{Kind: ResultDrop, DropReason: opteerr.New(opteerr.KindRuleMiss, "layer denied").With("layer", l.Name), RuleID: res.RuleID}
		case action.OutcomeHairpin:
			return ProcessResult{Kind: ResultEmitHairpin, Frame: res.Reply, Direction: dir.Opposite(), RuleID: res.RuleID}
		case action.OutcomeMeta:
			continue
		case action.OutcomeTransform:
			if !res.HT.IsIdentity() {
				if err := ht.Apply(res.HT, bv, view); err != nil {
					p.Dropped.Add(1)
					return ProcessResult{Kind: ResultDrop, DropReason: err}
				}
				if res.HT.ChangesLength() {
					reparsed, err := p.parser.Parse(f.Bytes(), dir)
					if err != nil {
						p.Dropped.Add(1)
						return ProcessResult{Kind: ResultDrop, DropReason: err}
					}
					*view = *reparsed
				} else {
					view.RefreshFields()
				}
				meta[match.MetaKeyRawFrame] = f.Bytes()
			}
			htsThisDir = append(htsThisDir, res.HT)
		}
	}

	postID := view.FlowID()
	uft.ComposeInstall(p.uftFor(dir), preID, htsThisDir, gen, nowTick, p.expiryFor(preID, dir, nowTick))

	// Reverse entry: compose each layer's reverse-direction LFT entry, in
	// reverse layer order, and install it under the post-transformation
	// reverse flow id (spec.md §4.4). l.Walk above keyed each layer's
	// reverse entry by the reverse of the flow id that layer saw, so the
	// lookup uses walkIDs[i] rather than the final postID.
	reverseID := postID.Reverse()
	oppDir := dir.Opposite()
	var htsReverse []ht.HT
	for i := len(p.layers) - 1; i >= 0; i-- {
		l := p.layers[i]
		if entry, ok := l.LookupLFT(oppDir, walkIDs[i].Reverse()); ok {
			htsReverse = append(htsReverse, entry.HT)
		}
	}
	uft.ComposeInstall(p.uftFor(oppDir), reverseID, htsReverse, gen, nowTick, p.expiryFor(reverseID, oppDir, nowTick))

	p.feedTCP(view, dir, nowTick)
	p.Emitted.Add(1)
	return ProcessResult{Kind: ResultEmit, Frame: f.Bytes(), Direction: dir, RuleID: lastRuleID}
}

// expiryFor returns a fixed UFT expiry tick (nowTick plus the port's
// TimeWait duration) for flows in TCP TimeWait (spec.md §4.5: "TCP
// entries in TimeWait have a fixed shorter expiry"), or 0 (no fixed
// expiry, idle TTL only) otherwise.
func (p *Port) expiryFor(id flowid.FlowID, dir flowid.Direction, nowTick int64) int64 {
	if p.tcpTr.State(id, dir) == tcp.TimeWait && p.timeWaitTicks > 0 {
		return nowTick + p.timeWaitTicks
	}
	return 0
}

func (p *Port) feedTCP(view *parser.View, dir flowid.Direction, nowTick int64) {
	if view.Proto() != flowid.ProtoTCP {
		return
	}
	flags := view.TCPFlags()
	ev := tcp.Event{
		Dir: dir,
		SYN: flags&parser.FlagSYN != 0,
		FIN: flags&parser.FlagFIN != 0,
		RST: flags&parser.FlagRST != 0,
		ACK: flags&parser.FlagACK != 0,
	}
	id := view.FlowID()
	state := p.tcpTr.Observe(id, ev, nowTick)
	if state == tcp.Closed {
		p.uftOut.Invalidate(id)
		p.uftIn.Invalidate(id.Reverse())
		p.uftOut.Invalidate(id.Reverse())
		p.uftIn.Invalidate(id)
	}
}

// AddRule adds rule r to the named layer's direction-specific table,
// bumping that layer's generation (spec.md §4.7).
func (p *Port) AddRule(layerName string, dir flowid.Direction, r *rule.Rule) error {
	l, ok := p.Layer(layerName)
	if !ok {
		return opteerr.Errorf(opteerr.KindLayerNotFound, "layer %q not found", layerName)
	}
	if dir == flowid.Inbound {
		l.Inbound.Add(r)
	} else {
		l.Outbound.Add(r)
	}
	return nil
}

// RemoveRule removes a rule by ID from the named layer's direction table.
func (p *Port) RemoveRule(layerName string, dir flowid.Direction, id rule.ID) error {
	l, ok := p.Layer(layerName)
	if !ok {
		return opteerr.Errorf(opteerr.KindLayerNotFound, "layer %q not found", layerName)
	}
	var removed bool
	if dir == flowid.Inbound {
		removed = l.Inbound.Remove(id)
	} else {
		removed = l.Outbound.Remove(id)
	}
	if !removed {
		return opteerr.Errorf(opteerr.KindRuleNotFound, "rule %d not found in layer %q", id, layerName)
	}
	return nil
}

// Tick runs one periodic expiry pass across both UFTs, every layer's
// LFTs, and TCP TimeWait flows (spec.md §4.5/§5, driven by
// internal/porttick). It takes each flowtable.Table's own lock and the
// TCP tracker's lock in turn (and the port's read lock only to copy the
// layer list), never the port's write lock, so a concurrent Process call
// waits only while the one table or tracker it needs is being swept.
func (p *Port) Tick(nowTick int64) {
	p.mu.RLock()
	layers := append([]*layer.Layer(nil), p.layers...)
	p.mu.RUnlock()

	p.uftOut.Expire(nowTick)
	p.uftIn.Expire(nowTick)
	for _, l := range layers {
		l.ExpireLFTs(nowTick)
	}

	deadline := nowTick - p.timeWaitTicks
	for _, id := range p.tcpTr.ExpireTimeWait(deadline) {
		p.uftOut.Invalidate(id)
		p.uftIn.Invalidate(id.Reverse())
	}
}

// Snapshot is the dump_port telemetry shape.
type Snapshot struct {
	Name            string
	UFTOut          int
	UFTIn           int
	TCPFlows        int
	Emitted         uint64
	Dropped         uint64
	Bypassed        uint64
	ChecksumOffload bool
	Layers          []layer.Snapshot
}

// Dump returns a point-in-time Snapshot (spec.md §4.7 dump_*).
func (p *Port) Dump() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := Snapshot{
		Name:            p.Name,
		UFTOut:          p.uftOut.Len(),
		UFTIn:           p.uftIn.Len(),
		TCPFlows:        p.tcpTr.Len(),
		Emitted:         p.Emitted.Load(),
		Dropped:         p.Dropped.Load(),
		Bypassed:        p.Bypassed.Load(),
		ChecksumOffload: p.checksumOffload,
	}
	for _, l := range p.layers {
		s.Layers = append(s.Layers, l.Dump())
	}
	return s
}

// DumpUft returns the raw UFT entries for a direction, for DumpUft
// control-plane command handling.
func (p *Port) DumpUft(dir flowid.Direction) []uft.Entry {
	tbl := p.uftFor(dir)
	snap := tbl.Snapshot()
	out := make([]uft.Entry, len(snap))
	for i, e := range snap {
		out[i] = e.Value
	}
	return out
}

// DumpTcpFlows returns the TCP tracker's flow/state pairs, for
// DumpTcpFlows.
func (p *Port) DumpTcpFlows() []tcp.FlowSnapshot {
	return p.tcpTr.Snapshot()
}

// ClearUft empties both directions' UFTs (ClearUft control-plane command).
func (p *Port) ClearUft() {
	p.uftOut.Clear()
	p.uftIn.Clear()
}
