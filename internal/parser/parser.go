// Package parser implements the frame parser contract from spec.md §4.1:
// parse(frame, direction) -> ParsedView | ParseError. It performs bounded
// reads only, reuses gopacket's DecodingLayerParser and its decoded layers
// across calls (each call allocates only the returned View), and never
// mutates the frame. Unknown/absent headers yield an absent layer rather than failure,
// unless a predicate explicitly requires them.
package parser

import (
	"encoding/binary"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/luqmana/opte/internal/flowid"
	"github.com/luqmana/opte/internal/ht"
	"github.com/luqmana/opte/internal/opteerr"
)

// GeneveOverlayPort is the UDP destination port this engine treats as the
// overlay encapsulation boundary (spec.md §3: "optional outer L3/L4 (for
// encapsulated traffic)"). A real deployment's control plane would make
// this configurable per-port; the generic engine hardcodes the IANA Geneve
// port as its default, single-overlay-format assumption.
const GeneveOverlayPort = 6081

// View is the parsed header descriptor: offsets/lengths into the frame for
// each present header, plus decoded convenience fields used by predicates
// and the flow-id derivation. It implements match.Fields and
// ht.FieldResolver.
type View struct {
	raw []byte
	dir flowid.Direction

	hasOuter bool
	outerEth layerSpan
	outerL3  layerSpan
	outerL4  layerSpan

	innerEth layerSpan
	innerL3  layerSpan
	innerL4  layerSpan

	proto   flowid.Proto
	srcIP   netip.Addr
	dstIP   netip.Addr
	srcPort uint16
	dstPort uint16

	// tcpFlags/seq/ack are populated only when proto == ProtoTCP, for the
	// TCP tracker feed (spec.md §4.6).
	tcpFlags TCPFlags
	seq, ack uint32

	// etherType/icmpType/icmpTypeSet let a demo rule set's predicates
	// (internal/demorules) distinguish ARP (no IP layer at all, so Proto
	// alone can't identify it) and ICMPv6's dual use (Neighbor Discovery
	// vs echo) without widening the core match.Fields surface — they're
	// read only via the optional match.EtherTypeFields/ICMPTypeFields
	// interfaces, not match.Fields itself.
	etherType   uint16
	icmpType    uint8
	icmpTypeSet bool
}

type layerSpan struct {
	present    bool
	off, length int
}

// TCPFlags is a bitset of the control bits the TCP tracker watches.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
)

// Parser holds reusable gopacket decode buffers so repeated Parse calls (one
// per packet, and the mandatory re-parse after a length-changing HT) avoid
// allocating new layer structs, per spec.md §5's no-allocation datapath.
type Parser struct {
	eth   layers.Ethernet
	ip4   layers.IPv4
	ip6   layers.IPv6
	tcp   layers.TCP
	udp   layers.UDP
	icmp4 layers.ICMPv4
	icmp6 layers.ICMPv6
	arp   layers.ARP

	innerEth   layers.Ethernet
	innerIP4   layers.IPv4
	innerIP6   layers.IPv6
	innerTCP   layers.TCP
	innerUDP   layers.UDP
	innerICMP4 layers.ICMPv4

	decoded []gopacket.LayerType
	dlp     *gopacket.DecodingLayerParser
}

// New constructs a Parser with its decode chain wired for Ethernet ->
// IPv4/IPv6 -> TCP/UDP/ICMP, matching the header set spec.md §3 names.
func New() *Parser {
	p := &Parser{}
	p.dlp = gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&p.eth, &p.ip4, &p.ip6, &p.tcp, &p.udp, &p.icmp4, &p.icmp6, &p.arp,
	)
	p.dlp.IgnoreUnsupported = true
	return p
}

const minEthernetLen = 14

// Parse decodes frame into a View. A KindParse error is returned for
// frames below the minimum Ethernet length. An unsupported EtherType is
// not an error: the View simply has no L3/L4 headers present, since
// absent headers are tolerated (spec.md §4.1).
func (p *Parser) Parse(frame []byte, dir flowid.Direction) (*View, error) {
	if len(frame) < minEthernetLen {
		return nil, opteerr.New(opteerr.KindParse, "frame shorter than minimum Ethernet length").With("len", len(frame))
	}

	p.decoded = p.decoded[:0]
	// Any decode error beyond "frame too short for Ethernet" (already
	// checked above) is tolerated: per spec.md §4.1, unknown/truncated
	// headers beyond the first yield absent layers rather than a failed
	// parse, unless a predicate explicitly requires them.
	_ = p.dlp.DecodeLayers(frame, &p.decoded)

	v := &View{raw: frame, dir: dir, etherType: uint16(p.eth.EthernetType)}
	v.innerEth = layerSpan{present: true, off: 0, length: 14}

	var l3, l4 gopacket.LayerType
	haveL3, haveL4 := false, false

	for _, lt := range p.decoded {
		switch lt {
		case layers.LayerTypeICMPv4:
			v.icmpType, v.icmpTypeSet = p.icmp4.TypeCode.Type(), true
		case layers.LayerTypeICMPv6:
			v.icmpType, v.icmpTypeSet = p.icmp6.TypeCode.Type(), true
		case layers.LayerTypeIPv4:
			l3, haveL3 = lt, true
			v.innerL3 = layerSpan{present: true, off: len(p.eth.Contents), length: len(p.ip4.Contents)}
			v.proto = protoFromIPProtocol(p.ip4.Protocol)
			v.srcIP, _ = netip.AddrFromSlice(p.ip4.SrcIP)
			v.dstIP, _ = netip.AddrFromSlice(p.ip4.DstIP)
		case layers.LayerTypeIPv6:
			l3, haveL3 = lt, true
			v.innerL3 = layerSpan{present: true, off: len(p.eth.Contents), length: len(p.ip6.Contents)}
			v.proto = protoFromIPProtocol(p.ip6.NextHeader)
			v.srcIP, _ = netip.AddrFromSlice(p.ip6.SrcIP)
			v.dstIP, _ = netip.AddrFromSlice(p.ip6.DstIP)
		case layers.LayerTypeTCP:
			l4, haveL4 = lt, true
			v.innerL4 = layerSpan{present: true, off: v.innerL3.off + v.innerL3.length, length: len(p.tcp.Contents)}
			v.srcPort = uint16(p.tcp.SrcPort)
			v.dstPort = uint16(p.tcp.DstPort)
			v.tcpFlags = tcpFlagsFrom(&p.tcp)
			v.seq, v.ack = p.tcp.Seq, p.tcp.Ack
		case layers.LayerTypeUDP:
			l4, haveL4 = lt, true
			v.innerL4 = layerSpan{present: true, off: v.innerL3.off + v.innerL3.length, length: len(p.udp.Contents)}
			v.srcPort = uint16(p.udp.SrcPort)
			v.dstPort = uint16(p.udp.DstPort)
		}
	}
	_ = l3
	_ = haveL3

	// Overlay detection: a UDP packet to the Geneve port is treated as an
	// outer header with an encapsulated inner Ethernet/L3/L4 frame
	// (spec.md §3: "optional outer L3/L4 (for encapsulated traffic)").
	if haveL4 && l4 == layers.LayerTypeUDP && uint16(p.udp.DstPort) == GeneveOverlayPort {
		innerBase := len(frame) - len(p.udp.Payload)
		if err := p.parseOverlayInner(v, p.udp.Payload, innerBase); err != nil {
			// Truncated/garbled overlay payload: tolerate per §4.1, leave
			// inner headers absent rather than failing the whole parse.
			v.hasOuter = true
			v.outerEth = v.innerEth
			v.outerL3 = v.innerL3
			v.outerL4 = v.innerL4
			v.innerEth, v.innerL3, v.innerL4 = layerSpan{}, layerSpan{}, layerSpan{}
			v.proto, v.srcIP, v.dstIP, v.srcPort, v.dstPort = flowid.ProtoUnknown, netip.Addr{}, netip.Addr{}, 0, 0
			return v, nil
		}
	}

	return v, nil
}

// parseOverlayInner decodes the encapsulated frame carried as a Geneve
// payload. base is payload's offset within the original raw frame, so the
// inner layerSpans it records land on the same raw-frame coordinate system
// as the outer spans set by Parse, keeping FieldOffset/HeaderOffset correct
// for HT edits that target LayerInner* on encapsulated flows.
func (p *Parser) parseOverlayInner(v *View, payload []byte, base int) error {
	innerDLP := gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&p.innerEth, &p.innerIP4, &p.innerIP6, &p.innerTCP, &p.innerUDP, &p.innerICMP4,
	)
	innerDLP.IgnoreUnsupported = true
	var decoded []gopacket.LayerType
	_ = innerDLP.DecodeLayers(payload, &decoded)

	v.hasOuter = true
	v.outerEth = v.innerEth
	v.outerL3 = v.innerL3
	v.outerL4 = v.innerL4

	v.innerEth = layerSpan{present: true, off: base, length: 14}
	v.innerL3 = layerSpan{}
	v.innerL4 = layerSpan{}

	for _, lt := range decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			v.innerL3 = layerSpan{present: true, off: base + len(p.innerEth.Contents), length: len(p.innerIP4.Contents)}
			v.proto = protoFromIPProtocol(p.innerIP4.Protocol)
			v.srcIP, _ = netip.AddrFromSlice(p.innerIP4.SrcIP)
			v.dstIP, _ = netip.AddrFromSlice(p.innerIP4.DstIP)
		case layers.LayerTypeIPv6:
			v.innerL3 = layerSpan{present: true, off: base + len(p.innerEth.Contents), length: len(p.innerIP6.Contents)}
			v.proto = protoFromIPProtocol(p.innerIP6.NextHeader)
			v.srcIP, _ = netip.AddrFromSlice(p.innerIP6.SrcIP)
			v.dstIP, _ = netip.AddrFromSlice(p.innerIP6.DstIP)
		case layers.LayerTypeTCP:
			v.innerL4 = layerSpan{present: true, off: v.innerL3.off + v.innerL3.length, length: len(p.innerTCP.Contents)}
			v.srcPort = uint16(p.innerTCP.SrcPort)
			v.dstPort = uint16(p.innerTCP.DstPort)
			v.tcpFlags = tcpFlagsFrom(&p.innerTCP)
			v.seq, v.ack = p.innerTCP.Seq, p.innerTCP.Ack
		case layers.LayerTypeUDP:
			v.innerL4 = layerSpan{present: true, off: v.innerL3.off + v.innerL3.length, length: len(p.innerUDP.Contents)}
			v.srcPort = uint16(p.innerUDP.SrcPort)
			v.dstPort = uint16(p.innerUDP.DstPort)
		}
	}
	return nil
}

func protoFromIPProtocol(proto layers.IPProtocol) flowid.Proto {
	switch proto {
	case layers.IPProtocolTCP:
		return flowid.ProtoTCP
	case layers.IPProtocolUDP:
		return flowid.ProtoUDP
	case layers.IPProtocolICMPv4:
		return flowid.ProtoICMP
	case layers.IPProtocolICMPv6:
		return flowid.ProtoICMPv6
	default:
		return flowid.ProtoUnknown
	}
}

func tcpFlagsFrom(t *layers.TCP) TCPFlags {
	var f TCPFlags
	if t.FIN {
		f |= FlagFIN
	}
	if t.SYN {
		f |= FlagSYN
	}
	if t.RST {
		f |= FlagRST
	}
	if t.PSH {
		f |= FlagPSH
	}
	if t.ACK {
		f |= FlagACK
	}
	if t.URG {
		f |= FlagURG
	}
	return f
}

// --- match.Fields ------------------------------------------------------------

func (v *View) Proto() flowid.Proto  { return v.proto }
func (v *View) SrcIP() netip.Addr    { return v.srcIP }
func (v *View) DstIP() netip.Addr    { return v.dstIP }
func (v *View) SrcPort() uint16      { return v.srcPort }
func (v *View) DstPort() uint16      { return v.dstPort }
func (v *View) HasOuter() bool       { return v.hasOuter }
func (v *View) Direction() flowid.Direction { return v.dir }

// TCPFlags returns the observed TCP control bits, valid only when
// Proto() == ProtoTCP.
func (v *View) TCPFlags() TCPFlags { return v.tcpFlags }

// SeqAck returns the TCP sequence and ack numbers, valid only when
// Proto() == ProtoTCP.
func (v *View) SeqAck() (seq, ack uint32) { return v.seq, v.ack }

// EtherType implements match.EtherTypeFields, letting rule predicates
// tell ARP apart from IP traffic even though ARP never reaches Proto().
func (v *View) EtherType() uint16 { return v.etherType }

// ICMPType implements match.ICMPTypeFields, letting rule predicates
// distinguish e.g. ICMPv6 neighbor solicitation from echo request — both
// carry the same Proto() value. Valid only when Proto() is ICMP or ICMPv6.
func (v *View) ICMPType() uint8 { return v.icmpType }

// FlowID derives the canonical 5-tuple from the inner headers (spec.md §3).
func (v *View) FlowID() flowid.FlowID {
	return flowid.FlowID{
		Proto:   v.proto,
		SrcIP:   v.srcIP,
		DstIP:   v.dstIP,
		SrcPort: v.srcPort,
		DstPort: v.dstPort,
	}
}

// --- ht.FieldResolver ---------------------------------------------------------

// FieldOffset resolves a small, well-known set of field names used by the
// demonstration rule set and tests (src_ip/dst_ip/src_port/dst_port) to
// their byte offsets within the raw frame. A production rule set would
// extend this table per header kind; the generic engine only needs the
// mechanism, not every possible field (spec.md scopes the VPC rule set
// itself out).
func (v *View) FieldOffset(layer ht.HeaderLayer, field string) (int, int, error) {
	span := v.spanFor(layer)
	if !span.present {
		return 0, 0, opteerr.Errorf(opteerr.KindParse, "header layer %d absent", layer)
	}
	switch {
	case layer == ht.LayerInnerL3 && v.proto != flowid.ProtoUnknown:
		return v.ipFieldOffset(span, field)
	case layer == ht.LayerInnerL4 && (v.proto == flowid.ProtoTCP || v.proto == flowid.ProtoUDP):
		return v.portFieldOffset(span, field)
	}
	return 0, 0, opteerr.Errorf(opteerr.KindParse, "unknown field %q in layer %d", field, layer)
}

func (v *View) ipFieldOffset(span layerSpan, field string) (int, int, error) {
	isV6 := v.srcIP.Is6() && !v.srcIP.Is4In6()
	switch field {
	case "src_ip":
		if isV6 {
			return span.off + 8, 16, nil
		}
		return span.off + 12, 4, nil
	case "dst_ip":
		if isV6 {
			return span.off + 24, 16, nil
		}
		return span.off + 16, 4, nil
	}
	return 0, 0, opteerr.Errorf(opteerr.KindParse, "unknown ip field %q", field)
}

func (v *View) portFieldOffset(span layerSpan, field string) (int, int, error) {
	switch field {
	case "src_port":
		return span.off, 2, nil
	case "dst_port":
		return span.off + 2, 2, nil
	}
	return 0, 0, opteerr.Errorf(opteerr.KindParse, "unknown port field %q", field)
}

// HeaderOffset returns the start offset and length of a whole header
// layer, used by Push/Pop edits.
func (v *View) HeaderOffset(layer ht.HeaderLayer) (int, int, error) {
	span := v.spanFor(layer)
	if !span.present {
		return 0, 0, opteerr.Errorf(opteerr.KindParse, "header layer %d absent", layer)
	}
	return span.off, span.length, nil
}

// PushOffset returns the splice point at which a new header for layer
// would be inserted: the end of the nearest present header ahead of it in
// wire order (outerEth, outerL3, outerL4, innerEth, innerL3, innerL4), or
// 0 if none of those are present yet (the layer splices onto the very
// front of the frame, the encapsulation case). Used by Push edits, which
// by construction target an absent layer — HeaderOffset's "must be
// present" rule is for Pop, which removes a header that already exists.
func (v *View) PushOffset(layer ht.HeaderLayer) (int, error) {
	order := []layerSpan{v.outerEth, v.outerL3, v.outerL4, v.innerEth, v.innerL3, v.innerL4}
	idx := int(layer)
	if idx < 0 || idx >= len(order) {
		return 0, opteerr.Errorf(opteerr.KindParse, "push offset: unknown header layer %d", layer)
	}
	for i := idx - 1; i >= 0; i-- {
		if order[i].present {
			return order[i].off + order[i].length, nil
		}
	}
	return 0, nil
}

func (v *View) spanFor(layer ht.HeaderLayer) layerSpan {
	switch layer {
	case ht.LayerOuterEther:
		return v.outerEth
	case ht.LayerOuterL3:
		return v.outerL3
	case ht.LayerOuterL4:
		return v.outerL4
	case ht.LayerInnerEther:
		return v.innerEth
	case ht.LayerInnerL3:
		return v.innerL3
	case ht.LayerInnerL4:
		return v.innerL4
	default:
		return layerSpan{}
	}
}

// Raw returns the underlying frame bytes this View was parsed from.
func (v *View) Raw() []byte { return v.raw }

// RefreshFields re-reads the scalar convenience fields (src/dst IP, ports,
// TCP flags/seq/ack) directly from the current header spans, without
// re-running the decoding layer parser. A Set/Modify HT edit changes field
// bytes in place but does not move any header boundary, so the spans
// computed at Parse time remain valid — only the cached scalars (used by
// match.Fields and FlowID) go stale and need this cheap refresh. A
// length-changing edit (Push/Pop) invalidates the spans themselves and
// requires a full re-parse instead (see port.Process / port.coldPath).
func (v *View) RefreshFields() {
	if v.innerL3.present {
		isV6 := v.srcIP.Is6() && !v.srcIP.Is4In6()
		off := v.innerL3.off
		if isV6 {
			if a, ok := netip.AddrFromSlice(v.raw[off+8 : off+24]); ok {
				v.srcIP = a
			}
			if a, ok := netip.AddrFromSlice(v.raw[off+24 : off+40]); ok {
				v.dstIP = a
			}
		} else {
			if a, ok := netip.AddrFromSlice(v.raw[off+12 : off+16]); ok {
				v.srcIP = a
			}
			if a, ok := netip.AddrFromSlice(v.raw[off+16 : off+20]); ok {
				v.dstIP = a
			}
		}
	}

	if v.innerL4.present && (v.proto == flowid.ProtoTCP || v.proto == flowid.ProtoUDP) {
		off := v.innerL4.off
		v.srcPort = binary.BigEndian.Uint16(v.raw[off : off+2])
		v.dstPort = binary.BigEndian.Uint16(v.raw[off+2 : off+4])
	}

	if v.proto == flowid.ProtoTCP && v.innerL4.present {
		off := v.innerL4.off
		v.seq = binary.BigEndian.Uint32(v.raw[off+4 : off+8])
		v.ack = binary.BigEndian.Uint32(v.raw[off+8 : off+12])
		flagsByte := v.raw[off+13]
		var f TCPFlags
		if flagsByte&0x01 != 0 {
			f |= FlagFIN
		}
		if flagsByte&0x02 != 0 {
			f |= FlagSYN
		}
		if flagsByte&0x04 != 0 {
			f |= FlagRST
		}
		if flagsByte&0x08 != 0 {
			f |= FlagPSH
		}
		if flagsByte&0x10 != 0 {
			f |= FlagACK
		}
		if flagsByte&0x20 != 0 {
			f |= FlagURG
		}
		v.tcpFlags = f
	}
}
