// Package flowid defines the 5-tuple flow identifier that keys both the
// per-layer flow tables (LFT) and the Unified Flow Table (UFT), and the
// Direction type that indexes rule tables, flow tables, and HT chains
// (spec.md §3).
package flowid

import (
	"fmt"
	"net/netip"
)

// Direction is Inbound (external -> guest) or Outbound (guest -> external).
type Direction uint8

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Inbound {
		return Outbound
	}
	return Inbound
}

// Proto identifies the inner L4 protocol (or L3-only for ICMP-less
// protocols where no ports apply).
type Proto uint8

const (
	ProtoUnknown Proto = iota
	ProtoTCP
	ProtoUDP
	ProtoICMP
	ProtoICMPv6
)

func (p Proto) String() string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	case ProtoICMP:
		return "icmp"
	case ProtoICMPv6:
		return "icmpv6"
	default:
		return "unknown"
	}
}

// FlowID is the canonical 5-tuple derived from the inner headers after
// initial parse: (proto, src_ip, dst_ip, src_port, dst_port).
type FlowID struct {
	Proto   Proto
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
}

// Reverse returns the canonical swap of src/dst fields. Reversal is total
// and an involution: Reverse(Reverse(f)) == f for every FlowID (spec.md §3).
func (f FlowID) Reverse() FlowID {
	return FlowID{
		Proto:   f.Proto,
		SrcIP:   f.DstIP,
		DstIP:   f.SrcIP,
		SrcPort: f.DstPort,
		DstPort: f.SrcPort,
	}
}

func (f FlowID) String() string {
	return fmt.Sprintf("%s:%s:%d->%s:%d", f.Proto, f.SrcIP, f.SrcPort, f.DstIP, f.DstPort)
}

// Valid reports whether a FlowID has a well-formed (non-zero) address pair.
// Ports may legitimately be zero for protocols without ports (ICMP).
func (f FlowID) Valid() bool {
	return f.SrcIP.IsValid() && f.DstIP.IsValid() && f.Proto != ProtoUnknown
}
