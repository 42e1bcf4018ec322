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

func buildNeighborSolicitation(t *testing.T, senderMAC net.HardwareAddr, senderIP, target netip.Addr) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       senderMAC,
		DstMAC:       net.HardwareAddr{0x33, 0x33, 0xff, 0, 0, 1},
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   255,
		SrcIP:      senderIP.AsSlice(),
		DstIP:      target.AsSlice(),
	}
	icmp6 := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborSolicitation, 0),
	}
	require.NoError(t, icmp6.SetNetworkLayerForChecksum(ip6))
	ns := &layers.ICMPv6NeighborSolicitation{
		TargetAddress: target.AsSlice(),
		Options: layers.ICMPv6Options{
			{Type: layers.ICMPv6OptSourceAddress, Data: senderMAC},
		},
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip6, icmp6, ns))
	return buf.Bytes()
}

func TestNDPReplyGeneratorAnswersSolicitationForOwnAddress(t *testing.T) {
	senderMAC := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x30}
	senderIP := netip.MustParseAddr("fd00::50")
	req := buildNeighborSolicitation(t, senderMAC, senderIP, testIdentity.IPv6)

	gen := hairpin.NewNDPReplyGenerator(testIdentity)
	reply, err := gen(nil, match.Meta{match.MetaKeyRawFrame: req})
	require.NoError(t, err)

	pkt := gopacket.NewPacket(reply, layers.LayerTypeEthernet, gopacket.NoCopy)
	naLayer := pkt.Layer(layers.LayerTypeICMPv6NeighborAdvertisement)
	require.NotNil(t, naLayer)
	na := naLayer.(*layers.ICMPv6NeighborAdvertisement)

	require.Equal(t, testIdentity.IPv6.AsSlice(), []byte(na.TargetAddress))
	require.Len(t, na.Options, 1)
	require.Equal(t, layers.ICMPv6OptTargetAddress, na.Options[0].Type)
	require.Equal(t, net.HardwareAddr(testIdentity.MAC), net.HardwareAddr(na.Options[0].Data))

	ip6 := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	require.Equal(t, senderIP.AsSlice(), []byte(ip6.DstIP))
	require.Equal(t, testIdentity.IPv6.AsSlice(), []byte(ip6.SrcIP))
}

func TestNDPReplyGeneratorRejectsSolicitationForOtherAddress(t *testing.T) {
	senderMAC := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x30}
	senderIP := netip.MustParseAddr("fd00::50")
	otherTarget := netip.MustParseAddr("fd00::99")
	req := buildNeighborSolicitation(t, senderMAC, senderIP, otherTarget)

	gen := hairpin.NewNDPReplyGenerator(testIdentity)
	_, err := gen(nil, match.Meta{match.MetaKeyRawFrame: req})
	require.Error(t, err)
}
