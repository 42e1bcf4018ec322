package hairpin_test

import (
	"net"
	"net/netip"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/luqmana/opte/internal/hairpin"
	"github.com/luqmana/opte/internal/match"
)

var testIdentity = hairpin.Identity{
	MAC:  net.HardwareAddr{0x02, 0, 0, 0, 0, 0x10},
	IPv4: netip.MustParseAddr("192.168.0.1"),
	IPv6: netip.MustParseAddr("fd00::1"),
}

func buildARPRequest(t *testing.T, senderMAC net.HardwareAddr, senderIP, targetIP netip.Addr) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       senderMAC,
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   senderMAC,
		SourceProtAddress: senderIP.AsSlice(),
		DstHwAddress:      net.HardwareAddr{0, 0, 0, 0, 0, 0},
		DstProtAddress:    targetIP.AsSlice(),
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp))
	return buf.Bytes()
}

func TestARPReplyGeneratorAnswersRequestForOwnAddress(t *testing.T) {
	senderMAC := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x20}
	senderIP := netip.MustParseAddr("192.168.0.50")
	req := buildARPRequest(t, senderMAC, senderIP, testIdentity.IPv4)

	gen := hairpin.NewARPReplyGenerator(testIdentity)
	meta := match.Meta{match.MetaKeyRawFrame: req}
	reply, err := gen(nil, meta)
	require.NoError(t, err)

	pkt := gopacket.NewPacket(reply, layers.LayerTypeEthernet, gopacket.NoCopy)
	arpLayer := pkt.Layer(layers.LayerTypeARP)
	require.NotNil(t, arpLayer)
	arp := arpLayer.(*layers.ARP)

	require.Equal(t, layers.ARPReply, arp.Operation)
	require.Equal(t, testIdentity.MAC, net.HardwareAddr(arp.SourceHwAddress))
	require.Equal(t, senderMAC, net.HardwareAddr(arp.DstHwAddress))
	require.Equal(t, senderIP.AsSlice(), []byte(arp.DstProtAddress))

	eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.Equal(t, senderMAC, eth.DstMAC)
	require.Equal(t, testIdentity.MAC, eth.SrcMAC)
}

func TestARPReplyGeneratorRejectsRequestForOtherAddress(t *testing.T) {
	senderMAC := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x20}
	senderIP := netip.MustParseAddr("192.168.0.50")
	otherTarget := netip.MustParseAddr("192.168.0.99")
	req := buildARPRequest(t, senderMAC, senderIP, otherTarget)

	gen := hairpin.NewARPReplyGenerator(testIdentity)
	meta := match.Meta{match.MetaKeyRawFrame: req}
	_, err := gen(nil, meta)
	require.Error(t, err)
}

func TestARPReplyGeneratorRequiresRawFrameInMeta(t *testing.T) {
	gen := hairpin.NewARPReplyGenerator(testIdentity)
	_, err := gen(nil, match.Meta{})
	require.Error(t, err)
}
