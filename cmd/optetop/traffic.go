package main

import (
	"net"
	"net/netip"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/luqmana/opte/internal/demorules"
	"github.com/luqmana/opte/internal/flowid"
	"github.com/luqmana/opte/internal/hairpin"
	"github.com/luqmana/opte/internal/port"
)

var gatewayIdentity = hairpin.Identity{
	MAC:  net.HardwareAddr{0x02, 0, 0, 0, 0, 0x10},
	IPv4: netip.MustParseAddr("10.0.0.1"),
	IPv6: netip.MustParseAddr("fd00::1"),
}

var insidePrefix = netip.MustParsePrefix("10.0.0.0/24")

func demoConfig() demorules.Config {
	return demorules.Config{
		Identity:    gatewayIdentity,
		UFTCapacity: 1024,
		NAT: demorules.NATConfig{
			InsidePrefix: insidePrefix,
			ExternalIP:   net.ParseIP("192.0.2.5"),
			EphemeralLo:  40000,
			EphemeralHi:  60000,
		},
	}
}

// generateTraffic periodically drives a handful of outbound/reply frames
// through p so the dashboard's counters move without a real NIC feeding
// it — a stand-in for the teacher's live packet source when running this
// command against the built-in demo rule set.
func generateTraffic(p *port.Port) {
	clientMAC := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x20}
	var tick int64
	srcPort := uint16(33000)

	for {
		time.Sleep(2 * time.Second)
		tick++
		srcPort++

		out := buildTCPSYN(clientMAC, "10.0.0.2", "198.51.100.1", srcPort, 80)
		p.Process(out, flowid.Outbound, tick)

		arp := buildARPRequest(net.HardwareAddr{0x02, 0, 0, 0, 0, 0x22}, netip.MustParseAddr("10.0.0.2"), gatewayIdentity.IPv4)
		p.Process(arp, flowid.Inbound, tick)
	}
}

func buildARPRequest(senderMAC net.HardwareAddr, senderIP, targetIP netip.Addr) []byte {
	eth := &layers.Ethernet{
		SrcMAC: senderMAC, DstMAC: net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
		HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
		SourceHwAddress:   senderMAC,
		SourceProtAddress: senderIP.AsSlice(),
		DstHwAddress:      net.HardwareAddr{0, 0, 0, 0, 0, 0},
		DstProtAddress:    targetIP.AsSlice(),
	}
	buf := gopacket.NewSerializeBuffer()
	_ = gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, arp)
	return buf.Bytes()
}

func buildTCPSYN(srcMAC net.HardwareAddr, srcIP, dstIP string, srcPort, dstPort uint16) []byte {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: gatewayIdentity.MAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.ParseIP(srcIP).To4(), DstIP: net.ParseIP(dstIP).To4(),
	}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), SYN: true, Seq: 1000, Window: 65535}
	_ = tcp.SetNetworkLayerForChecksum(ip)
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	_ = gopacket.SerializeLayers(buf, opts, eth, ip, tcp)
	return buf.Bytes()
}
