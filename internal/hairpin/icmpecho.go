package hairpin

import (
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/luqmana/opte/internal/action"
	"github.com/luqmana/opte/internal/match"
	"github.com/luqmana/opte/internal/opteerr"
)

// NewICMPEchoReplyGenerator builds a GenReplyFunc answering ICMPv4 and
// ICMPv6 echo requests addressed to the port itself with an echo reply
// carrying the same identifier, sequence number, and payload — the
// liveness-check hairpin spec.md's Hairpin examples name alongside
// ARP/NDP/DHCP.
func NewICMPEchoReplyGenerator(id Identity) action.GenReplyFunc {
	return func(_ match.Fields, meta match.Meta) ([]byte, error) {
		raw, err := rawFrame(meta)
		if err != nil {
			return nil, err
		}

		pkt := gopacket.NewPacket(raw, layers.LayerTypeEthernet, gopacket.NoCopy)

		if icmp4Layer := pkt.Layer(layers.LayerTypeICMPv4); icmp4Layer != nil {
			return echoReplyV4(pkt, icmp4Layer.(*layers.ICMPv4), id)
		}
		if icmp6Layer := pkt.Layer(layers.LayerTypeICMPv6Echo); icmp6Layer != nil {
			return echoReplyV6(pkt, icmp6Layer.(*layers.ICMPv6Echo), id)
		}
		return nil, opteerr.New(opteerr.KindHairpin, "no ICMP/ICMPv6 echo layer in hairpin request frame")
	}
}

func echoReplyV4(pkt gopacket.Packet, req *layers.ICMPv4, id Identity) ([]byte, error) {
	if req.TypeCode.Type() != layers.ICMPv4TypeEchoRequest {
		return nil, opteerr.New(opteerr.KindHairpin, "ICMPv4 hairpin generator invoked on a non-echo-request frame")
	}
	ethReq := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	ip4Req := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)

	ethReply := &layers.Ethernet{SrcMAC: id.MAC, DstMAC: ethReq.SrcMAC, EthernetType: layers.EthernetTypeIPv4}
	ip4Reply := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    id.IPv4.AsSlice(),
		DstIP:    ip4Req.SrcIP,
	}
	icmp4Reply := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoReply, 0),
		Id:       req.Id,
		Seq:      req.Seq,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ethReply, ip4Reply, icmp4Reply, gopacket.Payload(req.LayerPayload())); err != nil {
		return nil, opteerr.Wrap(err, opteerr.KindHairpin, "serializing ICMPv4 echo reply")
	}
	return buf.Bytes(), nil
}

func echoReplyV6(pkt gopacket.Packet, req *layers.ICMPv6Echo, id Identity) ([]byte, error) {
	icmp6Req := pkt.Layer(layers.LayerTypeICMPv6).(*layers.ICMPv6)
	if icmp6Req.TypeCode.Type() != layers.ICMPv6TypeEchoRequest {
		return nil, opteerr.New(opteerr.KindHairpin, "ICMPv6 hairpin generator invoked on a non-echo-request frame")
	}
	ethReq := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	ip6Req := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)

	ethReply := &layers.Ethernet{SrcMAC: id.MAC, DstMAC: ethReq.SrcMAC, EthernetType: layers.EthernetTypeIPv6}
	ip6Reply := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   64,
		SrcIP:      id.IPv6.AsSlice(),
		DstIP:      ip6Req.SrcIP,
	}
	icmp6Reply := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeEchoReply, 0)}
	if err := icmp6Reply.SetNetworkLayerForChecksum(ip6Reply); err != nil {
		return nil, opteerr.Wrap(err, opteerr.KindHairpin, "binding ICMPv6 checksum to IPv6 pseudo-header")
	}
	echoReply := &layers.ICMPv6Echo{Identifier: req.Identifier, SeqNumber: req.SeqNumber}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ethReply, ip6Reply, icmp6Reply, echoReply, gopacket.Payload(req.LayerPayload())); err != nil {
		return nil, opteerr.Wrap(err, opteerr.KindHairpin, "serializing ICMPv6 echo reply")
	}
	return buf.Bytes(), nil
}
