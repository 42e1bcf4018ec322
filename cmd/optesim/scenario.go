package main

import (
	"net"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/luqmana/opte/internal/capsurf"
	"github.com/luqmana/opte/internal/flowid"
	"github.com/luqmana/opte/internal/hairpin"
	"github.com/luqmana/opte/internal/optelog"
	"github.com/luqmana/opte/internal/port"
)

// gatewayIdentity is the virtual port's own addresses, answered for by
// the services layer's hairpin rules.
var gatewayIdentity = hairpin.Identity{
	MAC:  net.HardwareAddr{0x02, 0, 0, 0, 0, 0x10},
	IPv4: netip.MustParseAddr("10.0.0.1"),
	IPv6: netip.MustParseAddr("fd00::1"),
}

var insidePrefix = netip.MustParsePrefix("10.0.0.0/24")

func ipFor(s string) net.IP { return net.ParseIP(s) }

// step is one scripted frame to feed through the port, with a clock
// advance applied before it runs.
type step struct {
	name      string
	tickDelta int64
	dir       flowid.Direction
	frame     []byte
}

// runScenario drives a small script covering spec.md §8's scenarios
// (ARP hairpin, outbound SNAT + its reverse leg, and an out-of-prefix
// drop) through p, advancing clk between steps and logging each
// outcome — the cmd/optesim analogue of the teacher's PCAP replay loop,
// except the frames are built in-process instead of read from a file.
func runScenario(p *port.Port, clk *capsurf.MockClock, log *optelog.Logger) {
	clientMAC := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x20}

	steps := []step{
		{
			name:      "arp-request-for-gateway",
			tickDelta: 0,
			dir:       flowid.Inbound,
			frame:     buildARPRequest(clientMAC, netip.MustParseAddr("10.0.0.2"), gatewayIdentity.IPv4),
		},
		{
			name:      "outbound-syn-through-nat",
			tickDelta: 1,
			dir:       flowid.Outbound,
			frame:     buildTCPSYN(clientMAC, "10.0.0.2", "198.51.100.1", 33000, 80),
		},
		{
			name:      "inbound-syn-ack-reverse-nat",
			tickDelta: 1,
			dir:       flowid.Inbound,
			frame:     buildTCPSYNACK("198.51.100.1", "192.0.2.5", 80, 40000),
		},
		{
			name:      "outbound-syn-outside-inside-prefix",
			tickDelta: 1,
			dir:       flowid.Outbound,
			frame:     buildTCPSYN(clientMAC, "172.16.0.2", "198.51.100.1", 33001, 80),
		},
	}

	for _, s := range steps {
		clk.Advance(s.tickDelta)
		res := p.Process(s.frame, s.dir, clk.NowTick())
		log.Info("step complete",
			"step", s.name,
			"tick", clk.NowTick(),
			"result", res.Kind.String(),
			"direction", res.Direction.String(),
			"rule_id", res.RuleID,
		)
		if res.DropReason != nil {
			log.Warn("dropped", "step", s.name, "reason", res.DropReason)
		}
	}

	snap := p.Dump()
	log.Info("final snapshot",
		"port", snap.Name,
		"uft_out", snap.UFTOut,
		"uft_in", snap.UFTIn,
		"emitted", snap.Emitted,
		"dropped", snap.Dropped,
	)
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
	return buildTCPSegment(srcMAC, gatewayIdentity.MAC, srcIP, dstIP, srcPort, dstPort, true, false)
}

func buildTCPSYNACK(srcIP, dstIP string, srcPort, dstPort uint16) []byte {
	return buildTCPSegment(net.HardwareAddr{0x02, 0, 0, 0, 0, 0x30}, gatewayIdentity.MAC, srcIP, dstIP, srcPort, dstPort, true, true)
}

func buildTCPSegment(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP string, srcPort, dstPort uint16, syn, ack bool) []byte {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.ParseIP(srcIP).To4(), DstIP: net.ParseIP(dstIP).To4(),
	}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), SYN: syn, ACK: ack, Seq: 1000, Ack: 1001, Window: 65535}
	_ = tcp.SetNetworkLayerForChecksum(ip)
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	_ = gopacket.SerializeLayers(buf, opts, eth, ip, tcp)
	return buf.Bytes()
}
