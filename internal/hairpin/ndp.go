package hairpin

import (
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/luqmana/opte/internal/action"
	"github.com/luqmana/opte/internal/match"
	"github.com/luqmana/opte/internal/opteerr"
)

// ndpFlag bits for ICMPv6NeighborAdvertisement.Flags (RFC 4861 §4.4): bit
// 7 Router, bit 6 Solicited, bit 5 Override. gopacket's layers package
// does not name these as constants, so they're spelled out here.
const (
	ndpFlagRouter    = 1 << 7
	ndpFlagSolicited = 1 << 6
	ndpFlagOverride  = 1 << 5
)

// NewNDPReplyGenerator builds a GenReplyFunc answering IPv6 Neighbor
// Solicitations targeting id.IPv6 with a solicited, overriding Neighbor
// Advertisement carrying id.MAC as the target link-layer address —
// the ICMPv6 analogue of NewARPReplyGenerator. This port is never a
// router, so the Router flag is always clear.
func NewNDPReplyGenerator(id Identity) action.GenReplyFunc {
	return func(_ match.Fields, meta match.Meta) ([]byte, error) {
		raw, err := rawFrame(meta)
		if err != nil {
			return nil, err
		}

		pkt := gopacket.NewPacket(raw, layers.LayerTypeEthernet, gopacket.NoCopy)
		nsLayer := pkt.Layer(layers.LayerTypeICMPv6NeighborSolicitation)
		if nsLayer == nil {
			return nil, opteerr.New(opteerr.KindHairpin, "no ICMPv6 Neighbor Solicitation layer in hairpin request frame")
		}
		ns := nsLayer.(*layers.ICMPv6NeighborSolicitation)

		target, ok := netip.AddrFromSlice(ns.TargetAddress)
		if !ok || target != id.IPv6 {
			return nil, opteerr.Errorf(opteerr.KindHairpin, "neighbor solicitation target %v does not match port address %v", ns.TargetAddress, id.IPv6)
		}

		ethReq := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
		ip6Req := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)

		ethReply := &layers.Ethernet{
			SrcMAC:       id.MAC,
			DstMAC:       ethReq.SrcMAC,
			EthernetType: layers.EthernetTypeIPv6,
		}
		ip6Reply := &layers.IPv6{
			Version:    6,
			NextHeader: layers.IPProtocolICMPv6,
			HopLimit:   255,
			SrcIP:      id.IPv6.AsSlice(),
			DstIP:      ip6Req.SrcIP,
		}
		icmp6Reply := &layers.ICMPv6{
			TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborAdvertisement, 0),
		}
		if err := icmp6Reply.SetNetworkLayerForChecksum(ip6Reply); err != nil {
			return nil, opteerr.Wrap(err, opteerr.KindHairpin, "binding ICMPv6 checksum to IPv6 pseudo-header")
		}
		naReply := &layers.ICMPv6NeighborAdvertisement{
			Flags:         ndpFlagSolicited | ndpFlagOverride,
			TargetAddress: id.IPv6.AsSlice(),
			Options: layers.ICMPv6Options{
				{Type: layers.ICMPv6OptTargetAddress, Data: id.MAC},
			},
		}

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(buf, opts, ethReply, ip6Reply, icmp6Reply, naReply); err != nil {
			return nil, opteerr.Wrap(err, opteerr.KindHairpin, "serializing Neighbor Advertisement")
		}
		return buf.Bytes(), nil
	}
}
