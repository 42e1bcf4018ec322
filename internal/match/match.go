// Package match implements predicates over a parsed packet view and
// pipeline metadata (spec.md §4.2). Predicates are pure functions: given
// the same view and metadata they always return the same boolean.
package match

import (
	"net/netip"

	"github.com/gaissmai/bart"

	"github.com/luqmana/opte/internal/flowid"
)

// Fields is the minimal read-only surface a Predicate needs from a parsed
// view; internal/parser.View implements this directly.
type Fields interface {
	Proto() flowid.Proto
	SrcIP() netip.Addr
	DstIP() netip.Addr
	SrcPort() uint16
	DstPort() uint16
	HasOuter() bool
}

// Meta is the pipeline metadata map threaded alongside a packet (spec.md
// §4.3 Meta action). Predicates may inspect it (e.g. "has this port already
// been marked trusted by an earlier layer").
type Meta map[string]any

// MetaKeyRawFrame is the well-known Meta key internal/port populates with
// the current (possibly already partially header-transformed by earlier
// layers) frame bytes before calling Layer.Walk. A Hairpin action's
// GenReplyFunc needs the full frame — ARP/NDP/DHCP reply synthesis reads
// request fields (sender MAC, DHCP options, ICMP echo id/seq) that Fields
// alone doesn't expose — so internal/hairpin reads this key rather than
// internal/match growing frame-shaped accessors of its own.
const MetaKeyRawFrame = "raw_frame"

// Predicate is a pure matcher over a parsed view and metadata.
type Predicate interface {
	Match(f Fields, m Meta) bool
	String() string
}

// --- exact/range/mask field predicates -------------------------------------

// FieldKind selects which scalar field a predicate inspects.
type FieldKind uint8

const (
	FieldSrcPort FieldKind = iota
	FieldDstPort
)

func fieldValue(f Fields, k FieldKind) uint16 {
	switch k {
	case FieldDstPort:
		return f.DstPort()
	default:
		return f.SrcPort()
	}
}

// ExactField matches a scalar field against an exact value.
type ExactField struct {
	Field FieldKind
	Value uint16
}

func (p ExactField) Match(f Fields, _ Meta) bool { return fieldValue(f, p.Field) == p.Value }
func (p ExactField) String() string              { return "exact-field" }

// RangeField matches a scalar field against an inclusive range.
type RangeField struct {
	Field    FieldKind
	Lo, Hi uint16
}

func (p RangeField) Match(f Fields, _ Meta) bool {
	v := fieldValue(f, p.Field)
	return v >= p.Lo && v <= p.Hi
}
func (p RangeField) String() string { return "range-field" }

// MaskField matches (field & mask) == (value & mask).
type MaskField struct {
	Field FieldKind
	Value uint16
	Mask  uint16
}

func (p MaskField) Match(f Fields, _ Meta) bool {
	v := fieldValue(f, p.Field)
	return v&p.Mask == p.Value&p.Mask
}
func (p MaskField) String() string { return "mask-field" }

// --- optional narrow views ----------------------------------------------------
//
// EtherTypeFields and ICMPTypeFields are deliberately not folded into Fields
// itself: Fields is the surface every Predicate can assume, and widening it
// would force every Fields implementation (including test fakes) to grow
// fields most rules never touch. internal/parser.View implements both;
// EtherTypeIs/ICMPTypeIs type-assert for them and fail closed (no match)
// against a Fields value that doesn't support them.

// EtherTypeFields is implemented by a Fields value that can report the
// frame's inner Ethernet type, needed to recognize ARP (spec.md's hairpin
// carve-out), which never reaches Proto() since it carries no IP header.
type EtherTypeFields interface {
	EtherType() uint16
}

// ICMPTypeFields is implemented by a Fields value that can report the
// ICMP/ICMPv6 message type, needed to tell apart e.g. ICMPv6 neighbor
// solicitation from echo request — both share the same Proto().
type ICMPTypeFields interface {
	ICMPType() uint8
}

// EtherTypeIs matches the inner Ethernet type (e.g. 0x0806 for ARP).
type EtherTypeIs struct {
	EtherType uint16
}

func (p EtherTypeIs) Match(f Fields, _ Meta) bool {
	et, ok := f.(EtherTypeFields)
	return ok && et.EtherType() == p.EtherType
}
func (p EtherTypeIs) String() string { return "ether-type-is" }

// ICMPTypeIs matches the ICMP/ICMPv6 message type field.
type ICMPTypeIs struct {
	Type uint8
}

func (p ICMPTypeIs) Match(f Fields, _ Meta) bool {
	it, ok := f.(ICMPTypeFields)
	return ok && it.ICMPType() == p.Type
}
func (p ICMPTypeIs) String() string { return "icmp-type-is" }

// --- protocol ---------------------------------------------------------------

// ProtocolIs matches the inner L4 protocol exactly.
type ProtocolIs struct {
	Proto flowid.Proto
}

func (p ProtocolIs) Match(f Fields, _ Meta) bool { return f.Proto() == p.Proto }
func (p ProtocolIs) String() string              { return "protocol-is:" + p.Proto.String() }

// --- inner/outer selector ----------------------------------------------------

// HasOuterHeader matches frames that carry an outer (encapsulating)
// header, i.e. overlay-encapsulated traffic.
type HasOuterHeader struct{}

func (HasOuterHeader) Match(f Fields, _ Meta) bool { return f.HasOuter() }
func (HasOuterHeader) String() string              { return "has-outer-header" }

// --- address-set membership --------------------------------------------------

// AddrSide selects which address a membership predicate inspects.
type AddrSide uint8

const (
	AddrSrc AddrSide = iota
	AddrDst
)

// AddrSet is a CIDR membership predicate backed by a BART longest-prefix
// table (github.com/gaissmai/bart), giving O(1)-ish lookup regardless of
// how many prefixes the set contains — important since a layer's address
// set (e.g. a VPC's security-group CIDR list) may hold many entries and
// must be checked on every cold-path packet.
type AddrSet struct {
	Side  AddrSide
	table *bart.Table[struct{}]
	label string
}

// NewAddrSet builds an AddrSet containing the given prefixes.
func NewAddrSet(label string, side AddrSide, prefixes ...netip.Prefix) *AddrSet {
	t := &bart.Table[struct{}]{}
	for _, p := range prefixes {
		t.Insert(p, struct{}{})
	}
	return &AddrSet{Side: side, table: t, label: label}
}

// Add inserts an additional prefix into the set.
func (a *AddrSet) Add(p netip.Prefix) { a.table.Insert(p, struct{}{}) }

func (a *AddrSet) Match(f Fields, _ Meta) bool {
	var addr netip.Addr
	if a.Side == AddrSrc {
		addr = f.SrcIP()
	} else {
		addr = f.DstIP()
	}
	return a.table.Contains(addr)
}

func (a *AddrSet) String() string { return "addr-set:" + a.label }

// All combines predicates with AND semantics: a rule matches when all of
// its predicates match (spec.md §3).
type All []Predicate

func (ps All) Match(f Fields, m Meta) bool {
	for _, p := range ps {
		if !p.Match(f, m) {
			return false
		}
	}
	return true
}

func (ps All) String() string { return "all" }
