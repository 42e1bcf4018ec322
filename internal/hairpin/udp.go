package hairpin

import (
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/luqmana/opte/internal/opteerr"
)

// dhcpBroadcastMAC is the Ethernet broadcast address DHCP replies are
// sent to, since a client in DISCOVER/REQUEST has no usable unicast
// address yet (RFC 2131 §4.1: "server... broadcasts... unless the
// 'broadcast' bit is clear and the client's hardware address can be
// used").
var dhcpBroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// extractUDPPayload returns the UDP payload (the DHCPv4 message) out of
// a full Ethernet/IPv4/UDP frame.
func extractUDPPayload(raw []byte) ([]byte, error) {
	pkt := gopacket.NewPacket(raw, layers.LayerTypeEthernet, gopacket.NoCopy)
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, opteerr.New(opteerr.KindHairpin, "no UDP layer in hairpin DHCP request frame")
	}
	return udpLayer.(*layers.UDP).LayerPayload(), nil
}

// wrapUDPReply re-wraps payload in an Ethernet/IPv4/UDP broadcast frame
// addressed from cfg's server identity, port 67, back to the requesting
// client's port 68.
func wrapUDPReply(raw []byte, cfg DHCPConfig, payload []byte) ([]byte, error) {
	pkt := gopacket.NewPacket(raw, layers.LayerTypeEthernet, gopacket.NoCopy)
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, opteerr.New(opteerr.KindHairpin, "no UDP layer in hairpin DHCP request frame")
	}
	udpReq := udpLayer.(*layers.UDP)

	eth := &layers.Ethernet{
		SrcMAC:       cfg.ServerMAC,
		DstMAC:       dhcpBroadcastMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    cfg.ServerIP,
		DstIP:    net.IPv4bcast,
	}
	udp := &layers.UDP{
		SrcPort: udpReq.DstPort, // 67
		DstPort: udpReq.SrcPort, // 68
	}
	if err := udp.SetNetworkLayerForChecksum(ip4); err != nil {
		return nil, opteerr.Wrap(err, opteerr.KindHairpin, "binding UDP checksum to IPv4 pseudo-header")
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip4, udp, gopacket.Payload(payload)); err != nil {
		return nil, opteerr.Wrap(err, opteerr.KindHairpin, "serializing DHCP reply frame")
	}
	return buf.Bytes(), nil
}
